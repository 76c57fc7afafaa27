package retry

import (
	"context"
	"encoding/json"
	"fmt"

	"digidex/internal/domain"
	"digidex/internal/history"
	"digidex/internal/qrcode"
	"digidex/internal/scanerr"
)

// ProfileFetcher resolves a scanned id to a profile; nil means not found.
type ProfileFetcher interface {
	GetUserProfile(ctx context.Context, id string) (*domain.Profile, error)
}

// HistoryAppender records a replayed scan.
type HistoryAppender interface {
	Add(ctx context.Context, r history.Record) error
}

// ScanHandler replays queued scans: parse the stored data again, fetch the
// profile and append the scan to history, stamped with the time it was
// queued. Retry defaults to DefaultMaxAttempts.
type ScanHandler struct {
	Codec    qrcode.Codec
	Profiles ProfileFetcher
	History  HistoryAppender
	Retry    Options
}

func (h ScanHandler) Handle(ctx context.Context, op QueuedOperation) error {
	var body ScanData
	if err := json.Unmarshal(op.Data, &body); err != nil {
		return fmt.Errorf("decode scan operation %s: %w", op.ID, err)
	}
	_, err := WithRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.replay(ctx, body.Data, op.Timestamp)
	}, h.Retry)
	return err
}

func (h ScanHandler) replay(ctx context.Context, data string, queuedAt int64) error {
	p, err := h.Codec.Parse(data)
	if err != nil {
		return err
	}
	if p == nil {
		return scanerr.New(scanerr.InvalidQR)
	}
	profile, err := h.Profiles.GetUserProfile(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("fetch profile %s: %w", p.ID, err)
	}
	if profile == nil {
		return scanerr.New(scanerr.ProfileNotFound)
	}
	rec := history.FromPayload(*p)
	rec.Timestamp = queuedAt
	if profile.DisplayName != "" {
		rec.Data.Name = profile.DisplayName
	}
	if profile.Email != "" {
		rec.Data.Email = profile.Email
	}
	return h.History.Add(ctx, rec)
}
