// Package qrcode encodes contact payloads into DigiDex deep links and
// decodes scanned strings back into payloads.
//
// A link has the form https://<domain>/connect/<base64(json(payload))>.
// The "/connect/" marker is the only parsing anchor, so links minted for
// any domain decode the same way.
package qrcode

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"digidex/internal/scanerr"
)

const (
	DefaultDomain = "digidex.app"
	connectMarker = "/connect/"
)

// ErrInvalidData is returned by Generate for payloads that cannot be encoded.
var ErrInvalidData = errors.New("invalid qr data")

type Type string

const (
	TypeProfile Type = "profile"
	TypeContact Type = "contact"
)

func (t Type) Valid() bool {
	return t == TypeProfile || t == TypeContact
}

// Payload is the identity carried by a QR code.
//
// A payload survives Generate and Parse as JSON, not as a Go value:
// Metadata numbers come back as float64 and ExpiresAt comes back in UTC
// without a monotonic reading. Compare round-tripped payloads by their JSON
// encoding, and expiry times with time.Time.Equal.
type Payload struct {
	Type      Type           `json:"type"`
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Email     string         `json:"email,omitempty"`
	Version   string         `json:"version,omitempty"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// rawPayload defers expiresAt decoding so a malformed date can be told
// apart from a malformed document.
type rawPayload struct {
	Type      Type            `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Email     string          `json:"email,omitempty"`
	Version   string          `json:"version,omitempty"`
	ExpiresAt json.RawMessage `json:"expiresAt,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Codec builds and reads deep links.
type Codec struct {
	Domain string
	Now    func() time.Time
}

// Default uses DefaultDomain and the wall clock.
var Default = Codec{Domain: DefaultDomain}

func New(domain string) Codec {
	return Codec{Domain: domain}
}

func (c Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Codec) domain() string {
	if d := strings.TrimSpace(c.Domain); d != "" {
		return d
	}
	return DefaultDomain
}

// Generate encodes p as a deep link. Identical payloads produce identical
// links.
func (c Codec) Generate(p Payload) (string, error) {
	if p.Type == "" || strings.TrimSpace(p.ID) == "" {
		return "", fmt.Errorf("%w: missing required fields: type and id", ErrInvalidData)
	}
	if !p.Type.Valid() {
		return "", fmt.Errorf("%w: unsupported type %q", ErrInvalidData, p.Type)
	}
	if p.ExpiresAt != nil {
		utc := p.ExpiresAt.UTC()
		p.ExpiresAt = &utc
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return "https://" + c.domain() + connectMarker + base64.StdEncoding.EncodeToString(data), nil
}

// Parse decodes a scanned string. Anything that is not a well-formed
// DigiDex link yields (nil, nil). A link whose expiresAt has passed yields
// a scanerr.ExpiredQR error.
func (c Codec) Parse(qr string) (*Payload, error) {
	raw, ok := decode(qr)
	if !ok {
		return nil, nil
	}
	if raw.Type == "" || raw.ID == "" {
		return nil, nil
	}
	p := &Payload{
		Type:     raw.Type,
		ID:       raw.ID,
		Name:     raw.Name,
		Email:    raw.Email,
		Version:  raw.Version,
		Metadata: raw.Metadata,
	}
	if len(raw.ExpiresAt) > 0 && string(raw.ExpiresAt) != "null" {
		expiry, ok := parseExpiry(raw.ExpiresAt)
		if !ok {
			return nil, nil
		}
		if expiry.Before(c.now()) {
			return nil, scanerr.New(scanerr.ExpiredQR)
		}
		p.ExpiresAt = &expiry
	}
	return p, nil
}

// ExtractID returns the entity id referenced by a scanned string, even
// when the payload is otherwise unusable. Strings that do not decode are
// returned trimmed, so bare ids work as cache keys.
func ExtractID(qr string) string {
	if raw, ok := decode(qr); ok && raw.ID != "" {
		return raw.ID
	}
	return strings.TrimSpace(qr)
}

// Generate encodes p with the Default codec.
func Generate(p Payload) (string, error) {
	return Default.Generate(p)
}

// Parse decodes qr with the Default codec.
func Parse(qr string) (*Payload, error) {
	return Default.Parse(qr)
}

func decode(qr string) (rawPayload, bool) {
	_, encoded, found := strings.Cut(qr, connectMarker)
	if !found {
		return rawPayload{}, false
	}
	if i := strings.IndexAny(encoded, "?#"); i >= 0 {
		encoded = encoded[:i]
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return rawPayload{}, false
	}
	data, ok := decodeBase64(encoded)
	if !ok {
		return rawPayload{}, false
	}
	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return rawPayload{}, false
	}
	return raw, true
}

func decodeBase64(s string) ([]byte, bool) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, true
		}
	}
	return nil, false
}

// parseExpiry accepts an RFC 3339 string or epoch milliseconds.
func parseExpiry(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		ms, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
