// Package digidexsdk is a small client for the DigiDex HTTP API.
package digidexsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal DigiDex HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// UserID is sent as X-User-Id when no token is set. Servers accept it
	// only when configured to.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Profile struct {
	ID          string            `json:"id"`
	Email       string            `json:"email,omitempty"`
	DisplayName string            `json:"display_name"`
	PhotoURL    string            `json:"photo_url,omitempty"`
	Company     string            `json:"company,omitempty"`
	Title       string            `json:"title,omitempty"`
	Bio         string            `json:"bio,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Website     string            `json:"website,omitempty"`
	Social      map[string]string `json:"social,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// ProfileUpdate carries the fields to change; nil fields are kept.
type ProfileUpdate struct {
	Email       *string           `json:"email,omitempty"`
	DisplayName *string           `json:"display_name,omitempty"`
	PhotoURL    *string           `json:"photo_url,omitempty"`
	Company     *string           `json:"company,omitempty"`
	Title       *string           `json:"title,omitempty"`
	Bio         *string           `json:"bio,omitempty"`
	Phone       *string           `json:"phone,omitempty"`
	Website     *string           `json:"website,omitempty"`
	Social      map[string]string `json:"social,omitempty"`
}

type ContactRequest struct {
	ID          string  `json:"id"`
	FromID      string  `json:"from_id"`
	ToID        string  `json:"to_id"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	RespondedAt *string `json:"responded_at,omitempty"`
}

// Payload is the identity carried by a QR code.
type Payload struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Email     string         `json:"email,omitempty"`
	Version   string         `json:"version,omitempty"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type QR struct {
	Data    string  `json:"data"`
	Payload Payload `json:"payload"`
}

type ScanError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryCount  int    `json:"retry_count"`
}

type QueuedOperation struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
}

// ScanResult is the outcome of a scan. Queued is set when the server was
// offline and deferred the scan.
type ScanResult struct {
	Status        string           `json:"status"`
	Source        string           `json:"source,omitempty"`
	Payload       *Payload         `json:"payload,omitempty"`
	Profile       *Profile         `json:"profile,omitempty"`
	Request       *ContactRequest  `json:"request,omitempty"`
	Declined      bool             `json:"declined,omitempty"`
	Queued        *QueuedOperation `json:"queued,omitempty"`
	Error         *ScanError       `json:"error,omitempty"`
	Announcements []string         `json:"announcements"`
	Haptics       []string         `json:"haptics"`
	Alerts        []string         `json:"alerts"`
}

type BatchResult struct {
	Items  []Payload `json:"items"`
	Failed []struct {
		Data  string     `json:"data"`
		Error *ScanError `json:"error"`
	} `json:"failed"`
}

type HistoryRecord struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	} `json:"data"`
	Entry string `json:"entry,omitempty"`
}

type HistoryPage struct {
	Items   []HistoryRecord `json:"items"`
	Page    int             `json:"page"`
	HasMore bool            `json:"has_more"`
	Total   int             `json:"total"`
}

type DrainResult struct {
	Processed int  `json:"processed"`
	Requeued  int  `json:"requeued"`
	Dropped   int  `json:"dropped"`
	Skipped   bool `json:"skipped"`
}

type CacheStatus struct {
	Size       int   `json:"size"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Scan runs the scan flow for the caller. confirm answers the
// send-request prompt.
func (c *Client) Scan(ctx context.Context, data string, confirm bool) (ScanResult, error) {
	var resp ScanResult
	err := c.do(ctx, http.MethodPost, "scans", map[string]any{"data": data, "confirm": confirm}, &resp)
	return resp, err
}

func (c *Client) ScanBatch(ctx context.Context, data []string) (BatchResult, error) {
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, "scans/batch", map[string]any{"data": data}, &resp)
	return resp, err
}

// GenerateQR mints a deep link for the caller's profile, expiring after
// expiresIn when positive.
func (c *Client) GenerateQR(ctx context.Context, expiresIn time.Duration) (QR, error) {
	body := map[string]any{}
	if expiresIn > 0 {
		body["expires_in"] = int(expiresIn / time.Second)
	}
	var resp QR
	err := c.do(ctx, http.MethodPost, "qr", body, &resp)
	return resp, err
}

func (c *Client) ParseQR(ctx context.Context, data string) (Payload, error) {
	var resp Payload
	err := c.do(ctx, http.MethodPost, "qr/parse", map[string]any{"data": data}, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Profile, error) {
	var resp struct {
		Profile Profile `json:"profile"`
	}
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp.Profile, err
}

func (c *Client) UpdateMe(ctx context.Context, in ProfileUpdate) (Profile, error) {
	var resp struct {
		Profile Profile `json:"profile"`
	}
	err := c.do(ctx, http.MethodPut, "me", in, &resp)
	return resp.Profile, err
}

func (c *Client) Profile(ctx context.Context, id string) (Profile, error) {
	var resp struct {
		Profile Profile `json:"profile"`
	}
	err := c.do(ctx, http.MethodGet, "profiles/"+url.PathEscape(id), nil, &resp)
	return resp.Profile, err
}

func (c *Client) Contacts(ctx context.Context) ([]Profile, error) {
	var resp struct {
		Items []Profile `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "contacts", nil, &resp)
	return resp.Items, err
}

// ContactRequests lists requests involving the caller.
func (c *Client) ContactRequests(ctx context.Context, incoming bool, status string) ([]ContactRequest, error) {
	q := url.Values{}
	if incoming {
		q.Set("direction", "incoming")
	}
	if status != "" {
		q.Set("status", status)
	}
	endpoint := "contact-requests"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []ContactRequest `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) SendContactRequest(ctx context.Context, toID string) (ContactRequest, error) {
	var resp struct {
		Request ContactRequest `json:"request"`
	}
	err := c.do(ctx, http.MethodPost, "contact-requests", map[string]any{"to_id": toID}, &resp)
	return resp.Request, err
}

func (c *Client) AcceptContactRequest(ctx context.Context, id string) (ContactRequest, error) {
	return c.respond(ctx, id, "accept")
}

func (c *Client) DeclineContactRequest(ctx context.Context, id string) (ContactRequest, error) {
	return c.respond(ctx, id, "decline")
}

func (c *Client) respond(ctx context.Context, id, action string) (ContactRequest, error) {
	var resp struct {
		Request ContactRequest `json:"request"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("contact-requests/%s/%s", url.PathEscape(id), action), nil, &resp)
	return resp.Request, err
}

// History returns a 0-based page of recent scans.
func (c *Client) History(ctx context.Context, page int) (HistoryPage, error) {
	var resp HistoryPage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("history?page=%d", page), nil, &resp)
	return resp, err
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "history", nil, nil)
}

func (c *Client) Queue(ctx context.Context) ([]QueuedOperation, error) {
	var resp struct {
		Items []QueuedOperation `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "queue", nil, &resp)
	return resp.Items, err
}

func (c *Client) DrainQueue(ctx context.Context) (DrainResult, error) {
	var resp DrainResult
	err := c.do(ctx, http.MethodPost, "queue/drain", nil, &resp)
	return resp, err
}

func (c *Client) Cache(ctx context.Context) (CacheStatus, error) {
	var resp CacheStatus
	err := c.do(ctx, http.MethodGet, "cache", nil, &resp)
	return resp, err
}

// SweepCache removes expired cache entries and returns how many went.
func (c *Client) SweepCache(ctx context.Context) (int, error) {
	var resp struct {
		Removed int `json:"removed"`
	}
	err := c.do(ctx, http.MethodPost, "cache/sweep", nil, &resp)
	return resp.Removed, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
