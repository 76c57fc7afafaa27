package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"digidex/internal/kv"
	"digidex/internal/logging"
	"digidex/internal/netstatus"
	"digidex/internal/scanerr"
)

const (
	QueueKey      = "@digidex:offline_queue"
	OperationScan = "scan"
)

// QueuedOperation is an operation deferred until connectivity returns.
type QueuedOperation struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
}

// ScanData is the body of a scan operation.
type ScanData struct {
	Data   string `json:"data"`
	UserID string `json:"user_id,omitempty"`
}

// NewScanOperation wraps a raw scanned string for the queue.
func NewScanOperation(data, userID string) (QueuedOperation, error) {
	body, err := json.Marshal(ScanData{Data: data, UserID: userID})
	if err != nil {
		return QueuedOperation{}, err
	}
	return QueuedOperation{Operation: OperationScan, Data: body}, nil
}

// Handler replays one kind of queued operation.
type Handler interface {
	Handle(ctx context.Context, op QueuedOperation) error
}

type HandlerFunc func(ctx context.Context, op QueuedOperation) error

func (f HandlerFunc) Handle(ctx context.Context, op QueuedOperation) error {
	return f(ctx, op)
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed int  `json:"processed"`
	Requeued  int  `json:"requeued"`
	Dropped   int  `json:"dropped"`
	Skipped   bool `json:"skipped"`
}

// ShouldRequeue decides whether a failed operation stays queued.
func ShouldRequeue(err error) bool {
	return scanerr.IsTransient(err)
}

type QueueOptions struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// OfflineQueue persists deferred operations under QueueKey and replays
// them in enqueue order whenever the monitor reports connectivity.
type OfflineQueue struct {
	store    kv.Store
	monitor  netstatus.Monitor
	now      func() time.Time
	log      *slog.Logger
	handlers map[string]Handler

	mu       sync.Mutex
	draining atomic.Bool

	lifecycle   sync.Mutex
	unsubscribe func()
}

func NewOfflineQueue(store kv.Store, monitor netstatus.Monitor, opts QueueOptions) *OfflineQueue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &OfflineQueue{
		store:    store,
		monitor:  monitor,
		now:      opts.Now,
		log:      logging.OrNop(opts.Logger).With("component", "offline_queue"),
		handlers: make(map[string]Handler),
	}
}

// Register installs the handler for an operation kind. Call before Start.
func (q *OfflineQueue) Register(kind string, h Handler) {
	q.handlers[kind] = h
}

// Start subscribes to connectivity changes and drains once if the device
// is already connected.
func (q *OfflineQueue) Start(ctx context.Context) {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()
	if q.unsubscribe != nil || q.monitor == nil {
		return
	}
	q.unsubscribe = q.monitor.Subscribe(func(s netstatus.Status) {
		if !s.Connected || ctx.Err() != nil {
			return
		}
		q.drainLogged(ctx)
	})
	if s, err := q.monitor.Fetch(ctx); err == nil && s.Connected {
		q.drainLogged(ctx)
	}
}

func (q *OfflineQueue) Stop() {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()
	if q.unsubscribe != nil {
		q.unsubscribe()
		q.unsubscribe = nil
	}
}

func (q *OfflineQueue) drainLogged(ctx context.Context) {
	res, err := q.Drain(ctx)
	if err != nil {
		q.log.Warn("queue drain failed", "error", err)
		return
	}
	if res.Processed+res.Requeued+res.Dropped > 0 {
		q.log.Info("queue drained", "processed", res.Processed, "requeued", res.Requeued, "dropped", res.Dropped)
	}
}

// Enqueue appends op, assigning an id and timestamp when missing.
func (q *OfflineQueue) Enqueue(ctx context.Context, op QueuedOperation) (QueuedOperation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp == 0 {
		op.Timestamp = q.now().UnixMilli()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, err := q.load(ctx)
	if err != nil {
		return QueuedOperation{}, err
	}
	ops = append(ops, op)
	if err := q.save(ctx, ops); err != nil {
		return QueuedOperation{}, err
	}
	q.log.Debug("operation queued", "id", op.ID, "operation", op.Operation)
	return op, nil
}

// Pending returns the queued operations in order.
func (q *OfflineQueue) Pending(ctx context.Context) ([]QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Drain replays every queued operation once, in order. Operations that
// fail with a transient error stay queued; other failures and unknown
// kinds are dropped. Operations enqueued while the drain runs are kept.
// A drain started while another is running returns Skipped.
func (q *OfflineQueue) Drain(ctx context.Context) (DrainResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	ops, err := q.load(ctx)
	q.mu.Unlock()
	if err != nil {
		return DrainResult{}, err
	}
	if len(ops) == 0 {
		return DrainResult{}, nil
	}

	var res DrainResult
	seen := make(map[string]bool, len(ops))
	remaining := make([]QueuedOperation, 0, len(ops))
	for _, op := range ops {
		seen[op.ID] = true
		h, ok := q.handlers[op.Operation]
		if !ok {
			q.log.Warn("dropping operation of unknown kind", "id", op.ID, "operation", op.Operation)
			res.Dropped++
			continue
		}
		err := h.Handle(ctx, op)
		switch {
		case err == nil:
			res.Processed++
		case ShouldRequeue(err):
			q.log.Info("operation requeued", "id", op.ID, "error", err)
			remaining = append(remaining, op)
			res.Requeued++
		default:
			q.log.Warn("operation dropped", "id", op.ID, "error", err)
			res.Dropped++
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	current, err := q.load(ctx)
	if err != nil {
		return res, err
	}
	for _, op := range current {
		if !seen[op.ID] {
			remaining = append(remaining, op)
		}
	}
	if err := q.save(ctx, remaining); err != nil {
		return res, fmt.Errorf("persist queue: %w", err)
	}
	return res, nil
}

func (q *OfflineQueue) load(ctx context.Context) ([]QueuedOperation, error) {
	var ops []QueuedOperation
	if _, err := kv.GetJSON(ctx, q.store, QueueKey, &ops); err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return ops, nil
}

func (q *OfflineQueue) save(ctx context.Context, ops []QueuedOperation) error {
	if ops == nil {
		ops = []QueuedOperation{}
	}
	return kv.SetJSON(ctx, q.store, QueueKey, ops)
}
