package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"
)

// Notification kinds emitted by the core.
const (
	// NotifyNewMessage marks a message the recipient did not see live.
	NotifyNewMessage = "new_message"
	// NotifyMissedCall marks a call that rang out or failed while unanswered.
	NotifyMissedCall = "missed_call"
)

// Notifier pushes out-of-band events to a user's live sessions and always
// persists the record, so a later fetch through the surrounding REST layer
// finds it regardless of delivery. Delivery is best-effort; retries are not
// managed here.
type Notifier struct {
	log   *slog.Logger
	reg   *SessionRegistry
	store NotificationStore
}

// NewNotifier constructs a notifier over the registry and store.
func NewNotifier(log *slog.Logger, reg *SessionRegistry, store NotificationStore) *Notifier {
	return &Notifier{log: log, reg: reg, store: store}
}

// Notify persists the notification and pushes it to any live session of the
// user. Persistence failure is the only error; undelivered live pushes are
// not.
func (n *Notifier) Notify(ctx context.Context, userID, kind string, payload json.RawMessage) error {
	now := time.Now().UTC()

	rec, err := n.store.SaveNotification(ctx, SaveNotificationInput{
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
		Now:     now,
	})
	if err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	env := mustEnvelope(v1.TypeNotification, v1.NotificationPayload{
		NotificationID: rec.NotificationID,
		Kind:           rec.Kind,
		Payload:        rec.Payload,
		CreatedAt:      rec.CreatedAt,
	}, now)

	delivered := n.reg.SendToUser(userID, env)
	metricNotifications.WithLabelValues(boolLabel(delivered > 0)).Inc()

	n.log.Debug("notify",
		"user_id", userID, "kind", kind, "delivered_sessions", delivered)
	return nil
}

// NotifyNewMessage records a new-message notification carrying the message
// summary as its payload.
func (n *Notifier) NotifyNewMessage(ctx context.Context, userID string, msg v1.MessagePayload) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.Notify(ctx, userID, NotifyNewMessage, b)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
