package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"digidex/internal/kv"
	"digidex/internal/qrcode"
)

func TestAddNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(kv.NewMemoryStore(), func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	for i := 0; i < MaxEntries+5; i++ {
		p := qrcode.Payload{Type: qrcode.TypeProfile, ID: fmt.Sprintf("user-%d", i), Name: "n"}
		if err := s.AddPayload(ctx, p); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != MaxEntries {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].ID != fmt.Sprintf("user-%d", MaxEntries+4) || list[MaxEntries-1].ID != "user-5" {
		t.Fatalf("order: first=%s last=%s", list[0].ID, list[MaxEntries-1].ID)
	}
	if list[0].Timestamp <= list[1].Timestamp || list[0].Data.Name != "n" || list[0].Entry == "" {
		t.Fatalf("record fields: %+v", list[0])
	}
}

func TestPaging(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemoryStore(), nil)
	for i := 0; i < 45; i++ {
		_ = s.Add(ctx, Record{ID: fmt.Sprint(i), Type: qrcode.TypeProfile})
	}
	p0, _ := s.Page(ctx, 0)
	p2, _ := s.Page(ctx, 2)
	p3, _ := s.Page(ctx, 3)
	if len(p0.Records) != PageSize || !p0.HasMore || p0.Total != 45 {
		t.Fatalf("page 0: %+v", p0)
	}
	if len(p2.Records) != 5 || p2.HasMore {
		t.Fatalf("page 2: %d records more=%v", len(p2.Records), p2.HasMore)
	}
	if len(p3.Records) != 0 {
		t.Fatalf("page 3 should be empty")
	}
	if _, err := s.Page(ctx, -1); err == nil {
		t.Fatalf("negative page accepted")
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemoryStore(), nil)
	_ = s.Add(ctx, Record{ID: "a"})
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	list, _ := s.List(ctx)
	if len(list) != 0 {
		t.Fatalf("history not cleared: %+v", list)
	}
}
