// Package netstatus reports device connectivity and notifies subscribers
// when it changes.
package netstatus

import (
	"context"
	"sync"
)

// TypeUnknown marks a status the platform could not determine.
const (
	TypeUnknown = "unknown"
	TypeNone    = "none"
	TypeWifi    = "wifi"
	TypeOther   = "other"
)

type Status struct {
	Connected bool   `json:"is_connected"`
	Type      string `json:"type"`
}

// Offline reports whether s is definitively disconnected. An unknown
// connection type is never treated as offline.
func (s Status) Offline() bool {
	return !s.Connected && s.Type != TypeUnknown && s.Type != ""
}

// Listener receives every status change.
type Listener func(Status)

// Monitor is the connectivity source consumed by the scan pipeline.
type Monitor interface {
	Fetch(ctx context.Context) (Status, error)
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn Listener) (unsubscribe func())
}

// listeners is the subscription registry shared by the monitors.
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]Listener
}

func (l *listeners) add(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]Listener)
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) notify(s Status) {
	l.mu.Lock()
	fns := make([]Listener, 0, len(l.fns))
	for i := 0; i < l.next; i++ {
		if fn, ok := l.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Static is a Monitor whose status is set by the caller, e.g. from a CLI
// flag or a test.
type Static struct {
	mu     sync.Mutex
	status Status
	subs   listeners
}

func NewStatic(s Status) *Static {
	return &Static{status: s}
}

// Online is a connected status of an unspecified type.
func Online() Status { return Status{Connected: true, Type: TypeOther} }

// Disconnected is a definitive offline status.
func Disconnected() Status { return Status{Connected: false, Type: TypeNone} }

func (m *Static) Fetch(context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *Static) Subscribe(fn Listener) func() {
	return m.subs.add(fn)
}

// Set updates the status and synchronously notifies subscribers when it
// changed.
func (m *Static) Set(s Status) {
	m.mu.Lock()
	changed := m.status != s
	m.status = s
	m.mu.Unlock()
	if changed {
		m.subs.notify(s)
	}
}
