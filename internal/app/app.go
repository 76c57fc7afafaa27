// Package app wires the workspace database, the local stores and the scan
// pipeline into one set of services shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"digidex/internal/cache"
	"digidex/internal/config"
	"digidex/internal/db"
	"digidex/internal/engine"
	"digidex/internal/events"
	"digidex/internal/history"
	"digidex/internal/kv"
	"digidex/internal/logging"
	"digidex/internal/migrate"
	"digidex/internal/netstatus"
	"digidex/internal/qrcode"
	"digidex/internal/retry"
	"digidex/internal/scanerr"
	"digidex/internal/scanner"
)

type Options struct {
	Workspace string
	// Config defaults to the workspace digidex.yml, or built-in defaults
	// when the file is missing.
	Config *config.Config
	Logger *slog.Logger
	// Network overrides the monitor built from the network section.
	Network netstatus.Monitor
	Now     func() time.Time
}

// Services is everything one workspace exposes.
type Services struct {
	Config  *config.Config
	DB      *sql.DB
	Engine  engine.Engine
	Store   kv.Store
	Codec   qrcode.Codec
	Cache   *cache.Cache
	History *history.Store
	Network netstatus.Monitor
	Queue   *retry.OfflineQueue
	Logger  *slog.Logger

	probe *netstatus.HTTPProbe
}

// Open opens and migrates the workspace database and builds the services
// on top of it. Background work begins with Start.
func Open(ctx context.Context, opts Options) (*Services, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := logging.OrNop(opts.Logger)

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	eng := engine.New(conn)
	eng.Now = now
	eng.Events.Now = now
	store := kv.SQLStore{DB: conn, Now: now}
	codec := qrcode.New(cfg.App.Domain)
	codec.Now = now

	s := &Services{
		Config: cfg,
		DB:     conn,
		Engine: eng,
		Store:  store,
		Codec:  codec,
		Cache: cache.New(store, cache.Options{
			TTL:           cfg.Cache.TTL,
			SweepInterval: cfg.Cache.SweepInterval,
			Now:           now,
			Logger:        log,
		}),
		History: history.New(store, now),
		Logger:  log,
	}

	switch {
	case opts.Network != nil:
		s.Network = opts.Network
	case cfg.Network.ProbeURL != "":
		s.probe = netstatus.NewHTTPProbe(netstatus.ProbeOptions{
			URL:      cfg.Network.ProbeURL,
			Interval: cfg.Network.ProbeInterval,
			Timeout:  cfg.Network.ProbeTimeout,
			Logger:   log,
		})
		s.Network = s.probe
	default:
		s.Network = netstatus.NewStatic(netstatus.Online())
	}

	s.Queue = retry.NewOfflineQueue(store, s.Network, retry.QueueOptions{Now: now, Logger: log})
	s.Queue.Register(retry.OperationScan, retry.ScanHandler{
		Codec:    s.Codec,
		Profiles: eng,
		History:  s.History,
		Retry: retry.Options{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
		},
	})
	return s, nil
}

// Start launches the cache sweeper, the connectivity probe and the queue
// listener. The queue drains immediately when already online.
func (s *Services) Start(ctx context.Context) {
	s.Cache.Start(ctx)
	if s.probe != nil {
		s.probe.Start(ctx)
	}
	s.Queue.Start(ctx)
}

// Close stops background work and closes the database.
func (s *Services) Close() error {
	s.Queue.Stop()
	if s.probe != nil {
		s.probe.Stop()
	}
	s.Cache.Stop()
	return s.DB.Close()
}

// ScannerOptions select the feedback surfaces of a scanner.
type ScannerOptions struct {
	Announcer scanner.Announcer
	Haptics   scanner.Haptics
	Prompter  scanner.Prompter
	Batch     *scanner.Batch
	// Sleep replaces real waits in recovery and parse backoff.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewScanner builds the scan handler for userID.
func (s *Services) NewScanner(userID string, opts ScannerOptions) *scanner.Scanner {
	cfg := s.Config
	return scanner.New(userID, scanner.Deps{
		Codec:     s.Codec,
		Cache:     s.Cache,
		Profiles:  s.Engine,
		Requests:  s.Engine,
		History:   s.History,
		Network:   s.Network,
		Queue:     s.Queue,
		Announcer: opts.Announcer,
		Haptics:   opts.Haptics,
		Prompter:  opts.Prompter,
		Recoverer: scanerr.Recoverer{NetworkDelay: cfg.Scan.RecoveryDelay, Sleep: opts.Sleep},
		Batch:     opts.Batch,
		Retry: retry.Options{
			MaxAttempts: cfg.Scan.ParseAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			Sleep:       opts.Sleep,
		},
		Logger: s.Logger,
	})
}

// Scan runs one scan for userID and records its outcome in the event log.
func (s *Services) Scan(ctx context.Context, sc *scanner.Scanner, userID, data string) (scanner.Result, error) {
	res, err := sc.HandleScan(ctx, data)
	switch {
	case res.Queued != nil:
		s.record(ctx, events.ScanQueued, res.Queued.ID, userID, events.EventPayload{"operation": res.Queued.Operation})
	case err == nil && res.Payload != nil:
		s.record(ctx, events.ScanResolved, res.Payload.ID, userID, events.EventPayload{
			"source":   res.Source,
			"declined": res.Declined,
			"batched":  res.Batched,
		})
	}
	return res, err
}

// DrainQueue replays queued operations now.
func (s *Services) DrainQueue(ctx context.Context, actorID string) (retry.DrainResult, error) {
	res, err := s.Queue.Drain(ctx)
	if err != nil {
		return res, err
	}
	if !res.Skipped {
		s.record(ctx, events.QueueDrained, "", actorID, events.EventPayload{
			"processed": res.Processed,
			"requeued":  res.Requeued,
			"dropped":   res.Dropped,
		})
	}
	return res, nil
}

// SweepCache removes expired cache entries now.
func (s *Services) SweepCache(ctx context.Context, actorID string) (int, error) {
	n, err := s.Cache.ClearExpiredEntries(ctx)
	if err != nil {
		return 0, err
	}
	s.record(ctx, events.CacheSwept, "", actorID, events.EventPayload{"removed": n})
	return n, nil
}

func (s *Services) ClearHistory(ctx context.Context, actorID string) error {
	if err := s.History.Clear(ctx); err != nil {
		return err
	}
	s.record(ctx, events.HistoryCleared, "", actorID, nil)
	return nil
}

// record writes an audit event. The operation it describes already
// happened, so failures are only logged.
func (s *Services) record(ctx context.Context, evtType, entityID, actorID string, payload events.EventPayload) {
	kind := events.EntityScan
	if entityID == "" {
		kind, entityID = events.EntityWorkspace, "local"
	}
	if err := s.Engine.RecordEvent(ctx, evtType, kind, entityID, actorID, payload); err != nil {
		logging.FromContext(ctx, s.Logger).Warn("record event failed", "type", evtType, "error", err)
	}
}

// ErrNoUser is returned when an operation needs a signed-in user.
var ErrNoUser = errors.New("no user selected; pass --user or set DIGIDEX_USER")
