package scanner

import (
	"context"
	"log/slog"
	"sync"

	"digidex/internal/logging"
)

type HapticKind string

const (
	HapticImpact  HapticKind = "impact"
	HapticSuccess HapticKind = "success"
	HapticError   HapticKind = "error"
)

// Announcer speaks messages to assistive technology.
type Announcer interface {
	Announce(ctx context.Context, message string)
}

// Haptics plays tactile feedback. Implementations must not fail the scan.
type Haptics interface {
	Trigger(ctx context.Context, kind HapticKind)
}

// Prompter shows blocking dialogs.
type Prompter interface {
	Confirm(ctx context.Context, title, message string) (bool, error)
	Alert(ctx context.Context, title, message string)
}

// LogFeedback writes announcements, haptics and alerts to a logger. It is
// the headless stand-in for a device's feedback surfaces.
type LogFeedback struct {
	Logger *slog.Logger
}

func (f LogFeedback) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, f.Logger)
}

func (f LogFeedback) Announce(ctx context.Context, message string) {
	f.log(ctx).Info("announce", "message", message)
}

func (f LogFeedback) Trigger(ctx context.Context, kind HapticKind) {
	f.log(ctx).Debug("haptic", "kind", kind)
}

func (f LogFeedback) Alert(ctx context.Context, title, message string) {
	f.log(ctx).Info("alert", "title", title, "message", message)
}

// AutoPrompter answers every confirmation with Answer and forwards alerts
// to Alerts when set.
type AutoPrompter struct {
	Answer bool
	Alerts func(title, message string)
}

func (p AutoPrompter) Confirm(context.Context, string, string) (bool, error) {
	return p.Answer, nil
}

func (p AutoPrompter) Alert(_ context.Context, title, message string) {
	if p.Alerts != nil {
		p.Alerts(title, message)
	}
}

// Recorder captures feedback in memory, for callers that report it back
// such as the HTTP API.
type Recorder struct {
	mu            sync.Mutex
	Announcements []string
	Haptics       []HapticKind
	Alerts        []string
}

func (r *Recorder) Announce(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Announcements = append(r.Announcements, message)
}

func (r *Recorder) Trigger(_ context.Context, kind HapticKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Haptics = append(r.Haptics, kind)
}

func (r *Recorder) Alert(_ context.Context, title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, title+": "+message)
}
