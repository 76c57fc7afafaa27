package scanerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRecoverabilityMatrix(t *testing.T) {
	recoverable := map[Code]bool{
		RequestFailed: true,
		NetworkError:  true,
		InvalidQR:     true,
	}
	for _, code := range Codes() {
		for retries := 0; retries <= MaxRetries+1; retries++ {
			e := New(code)
			e.RetryCount = retries
			want := recoverable[code] && retries < MaxRetries
			if got := e.CanRetry(); got != want {
				t.Fatalf("%s retries=%d CanRetry=%v want %v", code, retries, got, want)
			}
		}
	}
}

func TestDefaultMessages(t *testing.T) {
	for _, code := range Codes() {
		e := New(code)
		if e.Message == "" || e.Message != DefaultMessage(code) {
			t.Fatalf("%s: message %q", code, e.Message)
		}
	}
	if got := New(SelfScan).Message; got != "You cannot scan your own QR code." {
		t.Fatalf("self scan message = %q", got)
	}
	if got := New(InvalidQR, "custom text").Message; got != "custom text" {
		t.Fatalf("custom message = %q", got)
	}
}

func TestAccessibilityMessage(t *testing.T) {
	e := New(NetworkError)
	if !strings.HasSuffix(e.AccessibilityMessage(), "Tap anywhere to try again.") {
		t.Fatalf("retryable error missing hint: %q", e.AccessibilityMessage())
	}
	for i := 0; i < MaxRetries; i++ {
		e.IncrementRetry()
	}
	if e.AccessibilityMessage() != e.Message {
		t.Fatalf("exhausted error should not carry hint: %q", e.AccessibilityMessage())
	}
	if New(SelfScan).AccessibilityMessage() != New(SelfScan).Message {
		t.Fatalf("terminal error should not carry hint")
	}
}

func TestWrap(t *testing.T) {
	orig := New(SelfScan)
	if Wrap(fmt.Errorf("outer: %w", orig)) != orig {
		t.Fatalf("wrap should return the scan error in the chain")
	}
	cause := errors.New("disk full")
	w := Wrap(cause)
	if w.Code != RequestFailed || !errors.Is(w, cause) {
		t.Fatalf("wrap generic = %+v", w)
	}
	if w := Wrap(errors.New("dial tcp: i/o timeout")); w.Code != RequestFailed || w.Message != DefaultMessage(RequestFailed) {
		t.Fatalf("connectivity text should not change the code: %+v", w)
	}
	if Wrap(nil) != nil {
		t.Fatalf("wrap nil should be nil")
	}
	if !Is(fmt.Errorf("x: %w", New(ExpiredQR)), ExpiredQR) {
		t.Fatalf("Is should see through wrapping")
	}
}

func TestIsTransient(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"network text":    {errors.New("network unreachable"), true},
		"timeout text":    {errors.New("request timeout"), true},
		"unavailable":     {errors.New("service unavailable"), true},
		"network code":    {New(NetworkError, "boom"), true},
		"offline code":    {New(Offline), true},
		"profile missing": {errors.New("profile not found"), false},
		"nil":             {nil, false},
	}
	for name, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: got %v want %v", name, got, tc.want)
		}
	}
}

type fakePermissions struct {
	granted bool
	err     error
	calls   int
}

func (f *fakePermissions) RequestCameraPermission(context.Context) (bool, error) {
	f.calls++
	return f.granted, f.err
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	var slept time.Duration
	r := Recoverer{Sleep: func(_ context.Context, d time.Duration) error {
		slept += d
		return nil
	}}

	if !r.Recover(ctx, New(NetworkError)) {
		t.Fatalf("network error should recover")
	}
	if slept != time.Second {
		t.Fatalf("network recovery waited %v", slept)
	}

	perms := &fakePermissions{granted: true}
	r.Permissions = perms
	if !r.Recover(ctx, New(PermissionDenied)) || perms.calls != 1 {
		t.Fatalf("granted permission should recover")
	}
	perms.granted = false
	if r.Recover(ctx, New(PermissionDenied)) {
		t.Fatalf("denied permission should not recover")
	}
	perms.err = errors.New("platform failure")
	perms.granted = true
	if r.Recover(ctx, New(PermissionDenied)) {
		t.Fatalf("permission errors must become false")
	}

	for _, code := range []Code{InvalidQR, RequestFailed, ExpiredQR, SelfScan} {
		if r.Recover(ctx, New(code)) {
			t.Fatalf("%s should have no recovery path", code)
		}
	}
}

func TestRecoverHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if (Recoverer{NetworkDelay: time.Hour}).Recover(ctx, New(NetworkError)) {
		t.Fatalf("cancelled wait should not recover")
	}
}
