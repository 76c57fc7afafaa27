package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"digidex/internal/domain"
	"digidex/internal/history"
	"digidex/internal/kv"
	"digidex/internal/netstatus"
	"digidex/internal/qrcode"
	"digidex/internal/scanerr"
)

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
	fail     map[string]error
	calls    []string
}

func (f *fakeProfiles) GetUserProfile(_ context.Context, id string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	return f.profiles[id], nil
}

type fakeHistory struct {
	mu    sync.Mutex
	added []history.Record
}

func (f *fakeHistory) Add(_ context.Context, r history.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, r)
	return nil
}

func link(t *testing.T, id string) string {
	t.Helper()
	s, err := qrcode.Generate(qrcode.Payload{Type: qrcode.TypeProfile, ID: id})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return s
}

func TestOfflineQueueReplaysOnReconnect(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	monitor := netstatus.NewStatic(netstatus.Disconnected())
	profiles := &fakeProfiles{
		profiles: map[string]*domain.Profile{"user-42": {ID: "user-42", DisplayName: "Ada"}},
		fail:     map[string]error{"user-9": scanerr.New(scanerr.NetworkError)},
	}
	hist := &fakeHistory{}

	q := NewOfflineQueue(store, monitor, QueueOptions{})
	q.Register(OperationScan, ScanHandler{
		Codec:    qrcode.Default,
		Profiles: profiles,
		History:  hist,
		Retry:    Options{Sleep: NoSleep},
	})
	q.Start(ctx)
	defer q.Stop()

	ok, _ := NewScanOperation(link(t, "user-42"), "me")
	flaky, _ := NewScanOperation(link(t, "user-9"), "me")
	if _, err := q.Enqueue(ctx, ok); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failing, err := q.Enqueue(ctx, flaky)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if pending, _ := q.Pending(ctx); len(pending) != 2 {
		t.Fatalf("pending before reconnect = %d", len(pending))
	}

	monitor.Set(netstatus.Online())

	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != failing.ID {
		t.Fatalf("pending after drain = %+v", pending)
	}
	if len(hist.added) != 1 || hist.added[0].ID != "user-42" || hist.added[0].Data.Name != "Ada" {
		t.Fatalf("history = %+v", hist.added)
	}
	if hist.added[0].Timestamp == 0 {
		t.Fatalf("replayed scan should keep its queue timestamp")
	}
	if n := countCalls(profiles, "user-9"); n != DefaultMaxAttempts {
		t.Fatalf("flaky op attempted %d times", n)
	}
}

func countCalls(f *fakeProfiles, id string) int {
	n := 0
	for _, c := range f.calls {
		if c == id {
			n++
		}
	}
	return n
}

func TestScanReplayRequeuesUnavailableLookup(t *testing.T) {
	ctx := context.Background()
	profiles := &fakeProfiles{fail: map[string]error{"user-9": errors.New("firestore unavailable")}}
	q := NewOfflineQueue(kv.NewMemoryStore(), nil, QueueOptions{})
	q.Register(OperationScan, ScanHandler{
		Codec:    qrcode.Default,
		Profiles: profiles,
		History:  &fakeHistory{},
		Retry:    Options{MaxAttempts: 2, Sleep: NoSleep},
	})
	op, _ := NewScanOperation(link(t, "user-9"), "me")
	if _, err := q.Enqueue(ctx, op); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	res, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Requeued != 1 || res.Dropped != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n := countCalls(profiles, "user-9"); n != 2 {
		t.Fatalf("lookups = %d", n)
	}
}

func TestDrainDropsPermanentFailuresAndUnknownKinds(t *testing.T) {
	ctx := context.Background()
	q := NewOfflineQueue(kv.NewMemoryStore(), nil, QueueOptions{})
	q.Register("permanent", HandlerFunc(func(context.Context, QueuedOperation) error {
		return scanerr.New(scanerr.ProfileNotFound)
	}))
	q.Register("timeout", HandlerFunc(func(context.Context, QueuedOperation) error {
		return errors.New("request timeout")
	}))
	for _, kind := range []string{"permanent", "mystery", "timeout"} {
		if _, err := q.Enqueue(ctx, QueuedOperation{Operation: kind}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	res, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Dropped != 2 || res.Requeued != 1 || res.Processed != 0 {
		t.Fatalf("result = %+v", res)
	}
	pending, _ := q.Pending(ctx)
	if len(pending) != 1 || pending[0].Operation != "timeout" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestDrainPreservesOrderAndConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewOfflineQueue(kv.NewMemoryStore(), nil, QueueOptions{Now: func() time.Time { return time.UnixMilli(1000) }})

	entered := make(chan struct{})
	release := make(chan struct{})
	var order []string
	q.Register("step", HandlerFunc(func(_ context.Context, op QueuedOperation) error {
		order = append(order, op.ID)
		if op.ID == "a" {
			close(entered)
			<-release
		}
		return nil
	}))
	for _, id := range []string{"a", "b", "c"} {
		_, _ = q.Enqueue(ctx, QueuedOperation{ID: id, Operation: "step"})
	}

	done := make(chan DrainResult)
	go func() {
		res, _ := q.Drain(ctx)
		done <- res
	}()
	<-entered

	second, err := q.Drain(ctx)
	if err != nil || !second.Skipped {
		t.Fatalf("concurrent drain should be skipped: %+v %v", second, err)
	}
	late, err := q.Enqueue(ctx, QueuedOperation{ID: "late", Operation: "step"})
	if err != nil || late.Timestamp != 1000 {
		t.Fatalf("enqueue during drain: %+v %v", late, err)
	}
	close(release)
	res := <-done

	if res.Processed != 3 {
		t.Fatalf("result = %+v", res)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v", order)
	}
	pending, _ := q.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != "late" {
		t.Fatalf("late op lost: %+v", pending)
	}
}

func TestStartDrainsWhenAlreadyOnline(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	seed := NewOfflineQueue(store, nil, QueueOptions{})
	_, _ = seed.Enqueue(ctx, QueuedOperation{Operation: "noop"})

	q := NewOfflineQueue(store, netstatus.NewStatic(netstatus.Online()), QueueOptions{})
	handled := 0
	q.Register("noop", HandlerFunc(func(context.Context, QueuedOperation) error {
		handled++
		return nil
	}))
	q.Start(ctx)
	defer q.Stop()
	if handled != 1 {
		t.Fatalf("handled = %d", handled)
	}
}
