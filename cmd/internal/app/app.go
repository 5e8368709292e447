// Package app wires the Pulse server runtime: config, logging, HTTP routes,
// persistence, and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"pulse/cmd/internal/auth"
	"pulse/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Pulse server runtime: it owns HTTP server wiring and realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	core *realtime.Core
	ws   *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	deps, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	verifier, err := newVerifier(cfg, log, deps.pool)
	if err != nil {
		deps.closeNow()
		return nil, err
	}

	core := realtime.NewCore(log, deps.members, deps.messages, deps.notifications, realtime.CoreConfig{
		TypingTTL:   cfg.TypingTTL,
		RingTimeout: cfg.RingTimeout,
	})

	ws := realtime.NewWSGateway(log, core, verifier)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     deps.lifecycle,
		dbPool:    deps.pool,
		dbEnabled: deps.pool != nil,
		core:      core,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws)

	handler := WithSecurityHeaders(WithCORS(WithRequestLogging(mux, a.log), a.cfg, a.log))

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"ws_url", wsBaseURL(runtimeBaseURL(a.cfg.HTTPAddr))+"/ws",
		"db_enabled", a.dbEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// storeDeps groups the persistence collaborators selected at startup.
type storeDeps struct {
	lifecycle     Store
	pool          *pgxpool.Pool
	members       realtime.MembershipStore
	messages      realtime.MessageStore
	notifications realtime.NotificationStore
}

func (d storeDeps) closeNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = d.lifecycle.Close(ctx)
}

// newStores decides between Postgres-backed persistence and the in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (storeDeps, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")

		members := realtime.NewInMemoryMembershipStore()
		if err := seedStaticConversations(members, cfg.StaticConversations); err != nil {
			return storeDeps{}, err
		}

		return storeDeps{
			lifecycle:     nopStore{},
			members:       members,
			messages:      realtime.NewInMemoryMessageStore(),
			notifications: realtime.NewInMemoryNotificationStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return storeDeps{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	st, err := realtime.NewPostgresStore(pool, realtime.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return storeDeps{}, err
	}

	return storeDeps{
		lifecycle:     dbStore{pool: pool, msgStore: st},
		pool:          pool,
		members:       st,
		messages:      st,
		notifications: st,
	}, nil
}

// newVerifier selects the credential verifier matching the store mode.
func newVerifier(cfg Config, log Logger, pool *pgxpool.Pool) (auth.Verifier, error) {
	if pool != nil {
		return auth.NewPostgresVerifier(log, pool, auth.WithSchema(cfg.DBSchema)), nil
	}

	if strings.TrimSpace(cfg.StaticTokens) == "" {
		return nil, errors.New("in-memory mode requires PULSE_STATIC_TOKENS")
	}
	tokens, err := auth.ParseStaticTokens(cfg.StaticTokens)
	if err != nil {
		return nil, err
	}
	log.Info("auth.static_verifier", "identities", len(tokens))
	return auth.NewStaticVerifier(tokens), nil
}

// seedStaticConversations parses conversation_id:user_a|user_b[,...] into
// the in-memory membership store.
func seedStaticConversations(members *realtime.InMemoryMembershipStore, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("static conversations: malformed entry (want conversation_id:user_a|user_b)")
		}

		convID := strings.TrimSpace(parts[0])
		var userIDs []string
		for _, u := range strings.Split(parts[1], "|") {
			if u = strings.TrimSpace(u); u != "" {
				userIDs = append(userIDs, u)
			}
		}
		if convID == "" || len(userIDs) < 2 {
			return fmt.Errorf("static conversations: entry needs an id and at least two members")
		}

		members.AddConversation(convID, userIDs...)
	}
	return nil
}

type dbStore struct {
	pool     *pgxpool.Pool
	msgStore realtime.MessageStore
}

func (s dbStore) Close(_ context.Context) error {
	// Current PostgresStore.Close() is a no-op (pool is owned here).
	if s.msgStore != nil {
		_ = s.msgStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// runtimeBaseURL derives a browsable base URL from a bind address.
// Bind-all addresses are rewritten to loopback for display.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}

	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}

	if strings.Contains(host, ":") {
		return fmt.Sprintf("http://[%s]:%s", host, port)
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}

// wsBaseURL converts an http(s) base URL to its ws(s) equivalent.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
