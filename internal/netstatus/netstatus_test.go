package netstatus

import (
	"context"
	"net"
	"net/http"
	"testing"
)

func TestStatusOffline(t *testing.T) {
	cases := map[Status]bool{
		{Connected: true, Type: TypeWifi}:     false,
		{Connected: false, Type: TypeNone}:    true,
		{Connected: false, Type: TypeUnknown}: false,
		{Connected: false}:                    false,
	}
	for s, want := range cases {
		if got := s.Offline(); got != want {
			t.Fatalf("%+v.Offline() = %v", s, got)
		}
	}
}

func TestStaticNotifiesOnChange(t *testing.T) {
	m := NewStatic(Disconnected())
	var seen []Status
	unsubscribe := m.Subscribe(func(s Status) { seen = append(seen, s) })
	m.Set(Disconnected())
	m.Set(Online())
	m.Set(Online())
	if len(seen) != 1 || !seen[0].Connected {
		t.Fatalf("seen = %+v", seen)
	}
	unsubscribe()
	m.Set(Disconnected())
	if len(seen) != 1 {
		t.Fatalf("listener called after unsubscribe")
	}
	got, _ := m.Fetch(context.Background())
	if !got.Offline() {
		t.Fatalf("fetch = %+v", got)
	}
}

func TestHTTPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	ctx := context.Background()
	p := NewHTTPProbe(ProbeOptions{URL: "http://" + ln.Addr().String()})
	var seen []Status
	p.Subscribe(func(s Status) { seen = append(seen, s) })
	p.Poll(ctx)
	if len(seen) != 1 || !seen[0].Connected || seen[0].Type == TypeUnknown {
		t.Fatalf("expected online notification, got %+v", seen)
	}

	srv.Close()
	p.Poll(ctx)
	if len(seen) != 2 || !seen[1].Offline() {
		t.Fatalf("expected offline notification, got %+v", seen)
	}

	blank := NewHTTPProbe(ProbeOptions{})
	s, err := blank.Fetch(ctx)
	if err != nil || !s.Connected || s.Type != TypeUnknown {
		t.Fatalf("probe without URL = %+v %v", s, err)
	}
}
