package qrcode

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"digidex/internal/scanerr"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testCodec() Codec {
	return Codec{Domain: DefaultDomain, Now: func() time.Time { return fixedNow }}
}

func link(json string) string {
	return "https://digidex.app/connect/" + base64.StdEncoding.EncodeToString([]byte(json))
}

func TestGenerateProducesDeepLink(t *testing.T) {
	c := testCodec()
	got, err := c.Generate(Payload{Type: TypeProfile, ID: "test-user-id"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(got, "https://digidex.app/connect/") {
		t.Fatalf("unexpected link %q", got)
	}
	again, _ := c.Generate(Payload{Type: TypeProfile, ID: "test-user-id"})
	if again != got {
		t.Fatalf("generate is not deterministic: %q vs %q", got, again)
	}
	other, _ := c.Generate(Payload{Type: TypeProfile, ID: "user2"})
	if other == got {
		t.Fatalf("different ids produced the same link")
	}
	custom, _ := New("dx.example").Generate(Payload{Type: TypeContact, ID: "a"})
	if !strings.HasPrefix(custom, "https://dx.example/connect/") {
		t.Fatalf("custom domain ignored: %q", custom)
	}
}

func TestGenerateRejectsInvalidData(t *testing.T) {
	for name, p := range map[string]Payload{
		"empty":        {},
		"missing id":   {Type: TypeProfile},
		"missing type": {ID: "x"},
		"blank id":     {Type: TypeProfile, ID: "   "},
		"unknown type": {Type: "invalid", ID: "x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Generate(p)
			if !errors.Is(err, ErrInvalidData) {
				t.Fatalf("expected ErrInvalidData, got %v", err)
			}
			if _, ok := scanerr.As(err); ok {
				t.Fatalf("generation errors must not be scan errors")
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	future := fixedNow.Add(time.Hour)
	cases := []Payload{
		{Type: TypeProfile, ID: "test-user-id"},
		{Type: TypeContact, ID: "c-1", Name: "Ada Lovelace", Email: "ada@example.com"},
		{Type: TypeProfile, ID: "u/with+chars", Version: "2", Metadata: map[string]any{"batchId": "b1"}},
		{Type: TypeProfile, ID: "expiring", ExpiresAt: &future},
	}
	c := testCodec()
	for _, p := range cases {
		t.Run(p.ID, func(t *testing.T) {
			encoded, err := c.Generate(p)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			got, err := c.Parse(encoded)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !reflect.DeepEqual(*got, p) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", *got, p)
			}
		})
	}
}

func TestRoundTripIsJSONEqual(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	p := Payload{
		Type:      TypeProfile,
		ID:        "user-42",
		ExpiresAt: &expires,
		Metadata:  map[string]any{"n": 1, "tags": []string{"a"}},
	}
	encoded, err := Default.Generate(p)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got, err := Default.Parse(encoded)
	if err != nil || got == nil {
		t.Fatalf("parse: %v %v", got, err)
	}
	if got.Metadata["n"] != float64(1) {
		t.Fatalf("metadata number = %#v", got.Metadata["n"])
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) || got.ExpiresAt.Location() != time.UTC {
		t.Fatalf("expiresAt = %v, want %v", got.ExpiresAt, expires)
	}
	utc := expires.UTC()
	p.ExpiresAt = &utc
	want, _ := json.Marshal(p)
	have, _ := json.Marshal(got)
	if string(have) != string(want) {
		t.Fatalf("json mismatch:\n got %s\nwant %s", have, want)
	}
}

func TestParseExpired(t *testing.T) {
	c := testCodec()
	past := fixedNow.Add(-time.Hour)
	encoded, err := c.Generate(Payload{Type: TypeProfile, ID: "old", ExpiresAt: &past})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got, err := c.Parse(encoded)
	if got != nil {
		t.Fatalf("expired payload must not be returned")
	}
	if !scanerr.Is(err, scanerr.ExpiredQR) {
		t.Fatalf("expected expired_qr, got %v", err)
	}
}

func TestParseExpiryFormats(t *testing.T) {
	c := testCodec()
	future := fixedNow.Add(time.Minute)
	p, err := c.Parse(link(`{"type":"profile","id":"ms","expiresAt":` + itoa(future.UnixMilli()) + `}`))
	if err != nil || p == nil || !p.ExpiresAt.Equal(future) {
		t.Fatalf("epoch millis expiry: %+v %v", p, err)
	}
	p, err = c.Parse(link(`{"type":"profile","id":"bad","expiresAt":"not a date"}`))
	if p != nil || err != nil {
		t.Fatalf("unparseable expiry should be nil,nil: %+v %v", p, err)
	}
	p, err = c.Parse(link(`{"type":"profile","id":"null","expiresAt":null}`))
	if err != nil || p == nil || p.ExpiresAt != nil {
		t.Fatalf("null expiry should be ignored: %+v %v", p, err)
	}
}

func TestParseMalformedInputIsNil(t *testing.T) {
	inputs := []string{
		"",
		"invalid-data",
		"https://digidex.app/profile/abc",
		"https://digidex.app/connect/",
		"https://digidex.app/connect/!!!not-base64!!!",
		"https://digidex.app/connect/" + base64.StdEncoding.EncodeToString([]byte("not json")),
		link(`{"type":"profile"}`),
		link(`{"id":"x"}`),
		link(`[1,2,3]`),
		link(`{"type":42,"id":"x"}`),
		"\x00\xff/connect/\xfe",
	}
	c := testCodec()
	for _, in := range inputs {
		got, err := c.Parse(in)
		if got != nil || err != nil {
			t.Fatalf("Parse(%q) = %+v, %v; want nil, nil", in, got, err)
		}
	}
}

func TestParseToleratesURLSafeAndQuery(t *testing.T) {
	raw := []byte(`{"type":"profile","id":"url-safe"}`)
	c := testCodec()
	for _, in := range []string{
		"https://digidex.app/connect/" + base64.RawURLEncoding.EncodeToString(raw),
		"https://digidex.app/connect/" + base64.StdEncoding.EncodeToString(raw) + "?utm=x",
		"https://other.example/connect/" + base64.StdEncoding.EncodeToString(raw),
	} {
		p, err := c.Parse(in)
		if err != nil || p == nil || p.ID != "url-safe" {
			t.Fatalf("Parse(%q) = %+v %v", in, p, err)
		}
	}
}

func TestExtractID(t *testing.T) {
	past := fixedNow.Add(-time.Hour)
	expired, _ := testCodec().Generate(Payload{Type: TypeProfile, ID: "user-7", ExpiresAt: &past})
	cases := map[string]string{
		expired:                  "user-7",
		link(`{"id":"no-type"}`): "no-type",
		"  user-7 ":              "user-7",
		"https://x/connect/%%%":  "https://x/connect/%%%",
	}
	for in, want := range cases {
		if got := ExtractID(in); got != want {
			t.Fatalf("ExtractID(%q) = %q want %q", in, got, want)
		}
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
