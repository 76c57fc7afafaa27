// Package history keeps the device-local list of recent scans.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"digidex/internal/kv"
	"digidex/internal/qrcode"
)

const (
	Key        = "@digidex:scan_history"
	MaxEntries = 50
	PageSize   = 20
)

type Data struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Record is one scanned payload. ID is the scanned entity id.
type Record struct {
	ID        string      `json:"id"`
	Type      qrcode.Type `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      Data        `json:"data"`
	// Entry distinguishes repeated scans of the same entity.
	Entry string `json:"entry,omitempty"`
}

// Page is a window of history, newest first.
type Page struct {
	Records []Record `json:"records"`
	Page    int      `json:"page"`
	HasMore bool     `json:"has_more"`
	Total   int      `json:"total"`
}

type Store struct {
	kv  kv.Store
	now func() time.Time
	mu  sync.Mutex
}

func New(store kv.Store, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{kv: store, now: now}
}

// FromPayload builds the record appended for a scanned payload.
func FromPayload(p qrcode.Payload) Record {
	return Record{ID: p.ID, Type: p.Type, Data: Data{Name: p.Name, Email: p.Email}}
}

// Add prepends r and trims the list to MaxEntries. A zero Timestamp is
// stamped with the current time.
func (s *Store) Add(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Timestamp == 0 {
		r.Timestamp = s.now().UnixMilli()
	}
	if r.Entry == "" {
		r.Entry = uuid.NewString()
	}
	records, err := s.load(ctx)
	if err != nil {
		return err
	}
	records = append([]Record{r}, records...)
	if len(records) > MaxEntries {
		records = records[:MaxEntries]
	}
	return kv.SetJSON(ctx, s.kv, Key, records)
}

// AddPayload appends the record for p.
func (s *Store) AddPayload(ctx context.Context, p qrcode.Payload) error {
	return s.Add(ctx, FromPayload(p))
}

func (s *Store) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Page returns the 0-based page of PageSize records.
func (s *Store) Page(ctx context.Context, page int) (Page, error) {
	if page < 0 {
		return Page{}, fmt.Errorf("page must be >= 0")
	}
	records, err := s.List(ctx)
	if err != nil {
		return Page{}, err
	}
	start := page * PageSize
	out := Page{Page: page, Total: len(records), Records: []Record{}}
	if start >= len(records) {
		return out, nil
	}
	end := min(start+PageSize, len(records))
	out.Records = records[start:end]
	out.HasMore = end < len(records)
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.RemoveItem(ctx, Key)
}

func (s *Store) load(ctx context.Context) ([]Record, error) {
	var records []Record
	if _, err := kv.GetJSON(ctx, s.kv, Key, &records); err != nil {
		return nil, fmt.Errorf("load scan history: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
