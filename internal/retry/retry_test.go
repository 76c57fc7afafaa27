package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWithRetryStopsAtMaxAttempts(t *testing.T) {
	for _, n := range []int{1, 3, 5} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			calls := 0
			var retries []int
			_, err := WithRetry(context.Background(), func(context.Context) (int, error) {
				calls++
				return 0, fmt.Errorf("failure %d", calls)
			}, Options{
				MaxAttempts: n,
				Sleep:       NoSleep,
				OnRetry:     func(attempt int, _ time.Duration) { retries = append(retries, attempt) },
			})
			if calls != n {
				t.Fatalf("calls = %d want %d", calls, n)
			}
			if err == nil || err.Error() != fmt.Sprintf("failure %d", n) {
				t.Fatalf("want last error, got %v", err)
			}
			if len(retries) != n-1 {
				t.Fatalf("OnRetry called %d times", len(retries))
			}
		})
	}
}

func TestWithRetryReturnsLastErrorUnchanged(t *testing.T) {
	sentinel := errors.New("last")
	calls := 0
	_, err := WithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 3 {
			return "", sentinel
		}
		return "", errors.New("earlier")
	}, Options{MaxAttempts: 3, Sleep: NoSleep})
	if err != sentinel {
		t.Fatalf("got %v", err)
	}
}

func TestWithRetrySucceedsEventually(t *testing.T) {
	calls := 0
	v, err := WithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("network")
		}
		return "ok", nil
	}, Options{Sleep: NoSleep})
	if err != nil || v != "ok" || calls != 2 {
		t.Fatalf("v=%q err=%v calls=%d", v, err, calls)
	}
}

func TestWithRetryNegativeAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, _ = WithRetry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("x")
	}, Options{MaxAttempts: -1, Sleep: NoSleep})
	if calls != 1 {
		t.Fatalf("negative MaxAttempts should run once, got %d calls", calls)
	}
}

func TestWithRetryCancelledWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := WithRetry(ctx, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	}, Options{MaxAttempts: 5, BaseDelay: time.Hour})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 80; attempt++ {
		d := Backoff(attempt, time.Second)
		if d < prev {
			t.Fatalf("attempt %d: %v < %v", attempt, d, prev)
		}
		if d > MaxDelay {
			t.Fatalf("attempt %d: %v exceeds cap", attempt, d)
		}
		prev = d
	}
	if Backoff(1, time.Second) != time.Second || Backoff(3, time.Second) != 4*time.Second {
		t.Fatalf("unexpected base progression")
	}
	if Backoff(6, time.Second) != MaxDelay {
		t.Fatalf("attempt 6 should hit the cap, got %v", Backoff(6, time.Second))
	}
	if Delay(5, time.Second, 999*time.Millisecond) != MaxDelay {
		t.Fatalf("jittered delay must be capped")
	}
	if Delay(1, time.Second, 500*time.Millisecond) != 1500*time.Millisecond {
		t.Fatalf("jitter not added")
	}
}

func TestWithRetryDelaysPassedToSleep(t *testing.T) {
	var slept []time.Duration
	_, _ = WithRetry(context.Background(), func(context.Context) (int, error) {
		return 0, errors.New("x")
	}, Options{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		Jitter:      func() time.Duration { return 0 },
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	})
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if fmt.Sprint(slept) != fmt.Sprint(want) {
		t.Fatalf("slept %v want %v", slept, want)
	}
}
