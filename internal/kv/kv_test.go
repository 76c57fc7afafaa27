package kv_test

import (
	"context"
	"testing"

	"digidex/internal/db"
	"digidex/internal/kv"
	"digidex/internal/migrate"
)

func sqlStore(t *testing.T) kv.SQLStore {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return kv.SQLStore{DB: conn}
}

func TestStores(t *testing.T) {
	stores := map[string]kv.Store{
		"memory": kv.NewMemoryStore(),
		"sql":    sqlStore(t),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := s.GetItem(ctx, "missing"); err != nil || ok {
				t.Fatalf("missing key: ok=%v err=%v", ok, err)
			}
			if err := s.SetItem(ctx, "k", "v1"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.SetItem(ctx, "k", "v2"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			v, ok, err := s.GetItem(ctx, "k")
			if err != nil || !ok || v != "v2" {
				t.Fatalf("get = %q %v %v", v, ok, err)
			}
			if err := s.RemoveItem(ctx, "k"); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if _, ok, _ := s.GetItem(ctx, "k"); ok {
				t.Fatalf("expected key removed")
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemoryStore()
	in := map[string]int{"a": 1}
	if err := kv.SetJSON(ctx, s, "j", in); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var out map[string]int
	ok, err := kv.GetJSON(ctx, s, "j", &out)
	if err != nil || !ok || out["a"] != 1 {
		t.Fatalf("get json = %v %v %v", out, ok, err)
	}
	_ = s.SetItem(ctx, "bad", "{not json")
	if _, err := kv.GetJSON(ctx, s, "bad", &out); err == nil {
		t.Fatalf("expected decode error")
	}
}
