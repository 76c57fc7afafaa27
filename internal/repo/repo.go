package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"digidex/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const profileColumns = `id,email,display_name,photo_url,company,title,bio,phone,website,social_json,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	var social string
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PhotoURL, &p.Company, &p.Title, &p.Bio, &p.Phone, &p.Website, &social, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if social != "" && social != "{}" {
		if err := json.Unmarshal([]byte(social), &p.Social); err != nil {
			return p, fmt.Errorf("decode social links for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func socialJSON(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r Repo) UpsertProfile(ctx context.Context, p domain.Profile) error {
	return upsertProfile(ctx, r.DB, p)
}

func (r Repo) UpsertProfileTx(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	return upsertProfile(ctx, tx, p)
}

func upsertProfile(ctx context.Context, q querier, p domain.Profile) error {
	social, err := socialJSON(p.Social)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO profiles(`+profileColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET email=excluded.email, display_name=excluded.display_name, photo_url=excluded.photo_url,
company=excluded.company, title=excluded.title, bio=excluded.bio, phone=excluded.phone, website=excluded.website,
social_json=excluded.social_json, updated_at=excluded.updated_at`,
		p.ID, p.Email, p.DisplayName, p.PhotoURL, p.Company, p.Title, p.Bio, p.Phone, p.Website, social, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return scanProfile(r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id))
}

func (r Repo) GetProfileTx(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	return scanProfile(tx.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id))
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY display_name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const requestColumns = `id,from_id,to_id,status,created_at,responded_at`

func scanRequest(row rowScanner) (domain.ContactRequest, error) {
	var cr domain.ContactRequest
	var responded sql.NullString
	err := row.Scan(&cr.ID, &cr.FromID, &cr.ToID, &cr.Status, &cr.CreatedAt, &responded)
	if err == sql.ErrNoRows {
		return cr, ErrNotFound
	}
	if responded.Valid {
		cr.RespondedAt = &responded.String
	}
	return cr, err
}

func (r Repo) InsertContactRequestTx(ctx context.Context, tx *sql.Tx, cr domain.ContactRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contact_requests(`+requestColumns+`) VALUES (?,?,?,?,?,?)`,
		cr.ID, cr.FromID, cr.ToID, cr.Status, cr.CreatedAt, nullableStringPtr(cr.RespondedAt))
	return err
}

func (r Repo) GetContactRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.ContactRequest, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM contact_requests WHERE id=?`, id))
}

// FindPendingRequestTx returns the pending request from one user to
// another, if any.
func (r Repo) FindPendingRequestTx(ctx context.Context, tx *sql.Tx, fromID, toID string) (domain.ContactRequest, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM contact_requests WHERE from_id=? AND to_id=? AND status='pending' LIMIT 1`, fromID, toID))
}

func (r Repo) UpdateContactRequestStatusTx(ctx context.Context, tx *sql.Tx, id, status, respondedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contact_requests SET status=?, responded_at=? WHERE id=?`, status, respondedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestFilters narrow ListContactRequests. Empty fields match anything.
type RequestFilters struct {
	FromID string
	ToID   string
	Status string
	// UserID matches requests where the user is either side.
	UserID string
	Limit  int
}

func (r Repo) ListContactRequests(ctx context.Context, f RequestFilters) ([]domain.ContactRequest, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.FromID != "" {
		clauses = append(clauses, "from_id=?")
		args = append(args, f.FromID)
	}
	if f.ToID != "" {
		clauses = append(clauses, "to_id=?")
		args = append(args, f.ToID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "(from_id=? OR to_id=?)")
		args = append(args, f.UserID, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + requestColumns + ` FROM contact_requests WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ContactRequest
	for rows.Next() {
		cr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, cr)
	}
	return res, rows.Err()
}

// ListContacts returns the profiles connected to userID through an
// accepted request in either direction.
func (r Repo) ListContacts(ctx context.Context, userID string) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+prefixed("p.", profileColumns)+` FROM profiles p
JOIN contact_requests cr ON cr.status='accepted' AND (
  (cr.from_id=? AND cr.to_id=p.id) OR (cr.to_id=? AND cr.from_id=p.id))
GROUP BY p.id ORDER BY p.display_name, p.id`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = prefix + c
	}
	return strings.Join(parts, ",")
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
