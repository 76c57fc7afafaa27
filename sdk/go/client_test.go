package digidexsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScanSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v0/scans" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["data"] != "link" || body["confirm"] != true {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","request":{"id":"r1","to_id":"user-42","status":"pending"},"announcements":["ok"]}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, "tok").Scan(context.Background(), "link", true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Status != "success" || res.Request == nil || res.Request.ToID != "user-42" {
		t.Fatalf("result = %+v", res)
	}
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-Id") != "me" {
			t.Errorf("missing user header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"error":{"code":"expired_qr","message":"This QR code has expired. Please request a new one."}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	c.UserID = "me"
	_, err := c.Scan(context.Background(), "old", false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusGone || apiErr.Code != "expired_qr" {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestClearHistoryNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v0/history" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	if err := New(srv.URL, "tok").ClearHistory(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
}
