package scanner

import (
	"sync"

	"digidex/internal/qrcode"
)

// Batch accumulates scans without running the contact request flow.
type Batch struct {
	mu     sync.Mutex
	active bool
	items  []qrcode.Payload
}

// Start begins a new session, discarding anything collected before.
func (b *Batch) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
	b.items = nil
}

// Add records p and returns the new count. It is a no-op when inactive.
func (b *Batch) Add(p qrcode.Payload) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return len(b.items)
	}
	b.items = append(b.items, p)
	return len(b.items)
}

// Finish ends the session and returns what was collected.
func (b *Batch) Finish() []qrcode.Payload {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.active = false
	b.items = nil
	return items
}

func (b *Batch) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	b.items = nil
}

func (b *Batch) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Batch) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
