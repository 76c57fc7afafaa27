package server

import (
	"encoding/json"

	"digidex/internal/domain"
	"digidex/internal/engine"
	"digidex/internal/history"
	"digidex/internal/qrcode"
	"digidex/internal/retry"
	"digidex/internal/scanerr"
	"digidex/internal/scanner"
)

// Request payloads

type ProfileRequest struct {
	Email       *string           `json:"email,omitempty" format:"email"`
	DisplayName *string           `json:"display_name,omitempty"`
	PhotoURL    *string           `json:"photo_url,omitempty"`
	Company     *string           `json:"company,omitempty"`
	Title       *string           `json:"title,omitempty"`
	Bio         *string           `json:"bio,omitempty"`
	Phone       *string           `json:"phone,omitempty"`
	Website     *string           `json:"website,omitempty"`
	Social      map[string]string `json:"social,omitempty"`
}

func (r ProfileRequest) input(id string) engine.ProfileInput {
	return engine.ProfileInput{
		ID:          id,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		PhotoURL:    r.PhotoURL,
		Company:     r.Company,
		Title:       r.Title,
		Bio:         r.Bio,
		Phone:       r.Phone,
		Website:     r.Website,
		Social:      r.Social,
	}
}

type GenerateQRRequest struct {
	// Type defaults to profile and ID to the caller.
	Type      string         `json:"type,omitempty" enum:"profile,contact"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Email     string         `json:"email,omitempty"`
	ExpiresIn int            `json:"expires_in,omitempty" minimum:"0" doc:"Seconds until the code expires; 0 never expires"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ParseQRRequest struct {
	Data string `json:"data" minLength:"1"`
}

type ScanRequest struct {
	Data string `json:"data" minLength:"1"`
	// Confirm answers the send-request prompt.
	Confirm bool `json:"confirm,omitempty"`
}

type BatchScanRequest struct {
	Data []string `json:"data" minItems:"1"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type QRResponse struct {
	Data    string         `json:"data"`
	Payload qrcode.Payload `json:"payload"`
}

type ScanResponse struct {
	Status        string                 `json:"status" enum:"scanning,retry,success,error"`
	Source        string                 `json:"source,omitempty"`
	Payload       *qrcode.Payload        `json:"payload,omitempty"`
	Profile       *domain.Profile        `json:"profile,omitempty"`
	Request       *domain.ContactRequest `json:"request,omitempty"`
	Declined      bool                   `json:"declined,omitempty"`
	Queued        *retry.QueuedOperation `json:"queued,omitempty"`
	Error         *scanerr.Error         `json:"error,omitempty"`
	Announcements []string               `json:"announcements"`
	Haptics       []string               `json:"haptics"`
	Alerts        []string               `json:"alerts"`
}

func scanResponse(res scanner.Result, rec *scanner.Recorder) ScanResponse {
	haptics := make([]string, 0, len(rec.Haptics))
	for _, h := range rec.Haptics {
		haptics = append(haptics, string(h))
	}
	return ScanResponse{
		Status:        string(res.Status),
		Source:        res.Source,
		Payload:       res.Payload,
		Profile:       res.Profile,
		Request:       res.Request,
		Declined:      res.Declined,
		Queued:        res.Queued,
		Error:         res.Error,
		Announcements: nonNilSlice(rec.Announcements),
		Haptics:       haptics,
		Alerts:        nonNilSlice(rec.Alerts),
	}
}

type BatchFailure struct {
	Data  string         `json:"data"`
	Error *scanerr.Error `json:"error"`
}

type BatchScanResponse struct {
	Items  []qrcode.Payload `json:"items"`
	Failed []BatchFailure   `json:"failed"`
}

type ProfileBody struct {
	Profile domain.Profile `json:"profile"`
}

type ContactRequestBody struct {
	Request domain.ContactRequest `json:"request"`
}

type DrainBody struct {
	Processed int  `json:"processed"`
	Requeued  int  `json:"requeued"`
	Dropped   int  `json:"dropped"`
	Skipped   bool `json:"skipped"`
}

type ProfileList struct {
	Items []domain.Profile `json:"items"`
}

type ContactRequestList struct {
	Items []domain.ContactRequest `json:"items"`
}

type HistoryPage struct {
	Items   []history.Record `json:"items"`
	Page    int              `json:"page"`
	HasMore bool             `json:"has_more"`
	Total   int              `json:"total"`
}

func historyPage(p history.Page) HistoryPage {
	return HistoryPage{Items: nonNilSlice(p.Records), Page: p.Page, HasMore: p.HasMore, Total: p.Total}
}

type QueueList struct {
	Items []retry.QueuedOperation `json:"items"`
}

type CacheStatus struct {
	Size       int   `json:"size"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

type SweepResponse struct {
	Removed int `json:"removed"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
