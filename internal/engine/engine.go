package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"digidex/internal/domain"
	"digidex/internal/engine/auth"
	"digidex/internal/events"
	"digidex/internal/repo"
)

var (
	ErrSelfRequest     = errors.New("cannot send a contact request to yourself")
	ErrAlreadyAnswered = errors.New("contact request already answered")
)

// ValidationError reports unusable input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Engine owns the backend operations behind profiles and contact requests.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ProfileInput holds profile fields to write. Nil fields are left as they
// are on update.
type ProfileInput struct {
	ID          string
	Email       *string
	DisplayName *string
	PhotoURL    *string
	Company     *string
	Title       *string
	Bio         *string
	Phone       *string
	Website     *string
	Social      map[string]string
}

// UpsertProfile creates the profile or applies the given fields to an
// existing one.
func (e Engine) UpsertProfile(ctx context.Context, in ProfileInput, actorID string) (domain.Profile, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return domain.Profile{}, ValidationError{Field: "id", Message: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()

	now := e.timestamp()
	p, err := e.Repo.GetProfileTx(ctx, tx, in.ID)
	created := false
	switch {
	case errors.Is(err, repo.ErrNotFound):
		created = true
		p = domain.Profile{ID: in.ID, CreatedAt: now}
	case err != nil:
		return domain.Profile{}, err
	}
	apply(&p.Email, in.Email)
	apply(&p.DisplayName, in.DisplayName)
	apply(&p.PhotoURL, in.PhotoURL)
	apply(&p.Company, in.Company)
	apply(&p.Title, in.Title)
	apply(&p.Bio, in.Bio)
	apply(&p.Phone, in.Phone)
	apply(&p.Website, in.Website)
	if in.Social != nil {
		p.Social = in.Social
	}
	p.UpdatedAt = now
	if err := validateProfile(p); err != nil {
		return domain.Profile{}, err
	}
	if err := e.Repo.UpsertProfileTx(ctx, tx, p); err != nil {
		return domain.Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProfileUpsert, events.EntityProfile, p.ID, actorOr(actorID, p.ID), events.EventPayload{"created": created}); err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

func apply(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func validateProfile(p domain.Profile) error {
	if p.DisplayName == "" {
		return ValidationError{Field: "display_name", Message: "required"}
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return ValidationError{Field: "email", Message: "invalid address"}
		}
	}
	return nil
}

func actorOr(actorID, fallback string) string {
	if actorID != "" {
		return actorID
	}
	return fallback
}

// GetUserProfile returns the profile for id, or nil when none exists.
func (e Engine) GetUserProfile(ctx context.Context, id string) (*domain.Profile, error) {
	p, err := e.Repo.GetProfile(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (e Engine) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	return e.Repo.ListProfiles(ctx)
}

// CreateContactRequest records a pending request from fromID to toID.
// A pending request between the same pair is returned instead of
// creating a second one.
func (e Engine) CreateContactRequest(ctx context.Context, fromID, toID string) (domain.ContactRequest, error) {
	if fromID == "" || toID == "" {
		return domain.ContactRequest{}, ValidationError{Field: "user", Message: "both users are required"}
	}
	if fromID == toID {
		return domain.ContactRequest{}, ErrSelfRequest
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ContactRequest{}, err
	}
	defer tx.Rollback()

	for _, id := range []string{fromID, toID} {
		if _, err := e.Repo.GetProfileTx(ctx, tx, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.ContactRequest{}, fmt.Errorf("profile %s: %w", id, repo.ErrNotFound)
			}
			return domain.ContactRequest{}, err
		}
	}
	existing, err := e.Repo.FindPendingRequestTx(ctx, tx, fromID, toID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.ContactRequest{}, err
	}

	cr := domain.ContactRequest{
		ID:        uuid.NewString(),
		FromID:    fromID,
		ToID:      toID,
		Status:    domain.RequestPending,
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertContactRequestTx(ctx, tx, cr); err != nil {
		return domain.ContactRequest{}, fmt.Errorf("insert contact request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RequestCreate, events.EntityRequest, cr.ID, fromID, events.EventPayload{"to": toID}); err != nil {
		return domain.ContactRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ContactRequest{}, err
	}
	return cr, nil
}

// RespondToRequest accepts or declines a pending request addressed to
// actorID.
func (e Engine) RespondToRequest(ctx context.Context, requestID, actorID string, accept bool) (domain.ContactRequest, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ContactRequest{}, err
	}
	defer tx.Rollback()

	cr, err := e.Repo.GetContactRequestTx(ctx, tx, requestID)
	if err != nil {
		return domain.ContactRequest{}, err
	}
	action, status, evt := "decline", domain.RequestDeclined, events.RequestDecline
	if accept {
		action, status, evt = "accept", domain.RequestAccepted, events.RequestAccept
	}
	if cr.ToID != actorID {
		return domain.ContactRequest{}, auth.ForbiddenError{Action: action, Entity: requestID}
	}
	if cr.Status != domain.RequestPending {
		return domain.ContactRequest{}, fmt.Errorf("%w: %s", ErrAlreadyAnswered, cr.Status)
	}
	now := e.timestamp()
	if err := e.Repo.UpdateContactRequestStatusTx(ctx, tx, requestID, status, now); err != nil {
		return domain.ContactRequest{}, err
	}
	if err := e.Events.Append(ctx, tx, evt, events.EntityRequest, requestID, actorID, events.EventPayload{"from": cr.FromID}); err != nil {
		return domain.ContactRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ContactRequest{}, err
	}
	cr.Status = status
	cr.RespondedAt = &now
	return cr, nil
}

// ListContactRequests lists requests involving userID. Incoming narrows
// to requests addressed to the user; status filters when non-empty.
func (e Engine) ListContactRequests(ctx context.Context, userID string, incoming bool, status string) ([]domain.ContactRequest, error) {
	f := repo.RequestFilters{Status: status}
	if incoming {
		f.ToID = userID
	} else {
		f.UserID = userID
	}
	return e.Repo.ListContactRequests(ctx, f)
}

func (e Engine) ListContacts(ctx context.Context, userID string) ([]domain.Profile, error) {
	return e.Repo.ListContacts(ctx, userID)
}

// RecordEvent appends a non-transactional audit event.
func (e Engine) RecordEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	return e.Events.Record(ctx, evtType, entityKind, entityID, actorID, payload)
}

func (e Engine) LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, evtType, "", "")
}
