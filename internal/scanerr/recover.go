package scanerr

import (
	"context"
	"time"
)

// DefaultNetworkDelay is the pause before a network failure is retried.
const DefaultNetworkDelay = time.Second

// PermissionRequester asks the platform for camera access again.
type PermissionRequester interface {
	RequestCameraPermission(ctx context.Context) (bool, error)
}

// Recoverer runs the bounded recovery action for a scan error.
type Recoverer struct {
	Permissions  PermissionRequester
	NetworkDelay time.Duration
	// Sleep replaces the real wait; tests inject a no-op.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Recover dispatches on e.Code and reports whether the failed operation
// should be attempted again. It never returns an error: failed recovery
// is simply false.
func (r Recoverer) Recover(ctx context.Context, e *Error) bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case PermissionDenied:
		if r.Permissions == nil {
			return false
		}
		granted, err := r.Permissions.RequestCameraPermission(ctx)
		if err != nil {
			return false
		}
		return granted
	case NetworkError:
		delay := r.NetworkDelay
		if delay == 0 {
			delay = DefaultNetworkDelay
		}
		if err := r.sleep(ctx, delay); err != nil {
			return false
		}
		return true
	default:
		return false
	}
}

func (r Recoverer) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recover runs the default Recoverer, which has no permission requester.
func Recover(ctx context.Context, e *Error) bool {
	return Recoverer{}.Recover(ctx, e)
}
