package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ProfileUpsert   = "profile.upsert"
	RequestCreate   = "contact_request.create"
	RequestAccept   = "contact_request.accept"
	RequestDecline  = "contact_request.decline"
	ScanResolved    = "scan.resolved"
	ScanQueued      = "scan.queued"
	HistoryCleared  = "history.clear"
	CacheSwept      = "cache.sweep"
	QueueDrained    = "queue.drain"
	EntityProfile   = "profile"
	EntityRequest   = "contact_request"
	EntityScan      = "scan"
	EntityWorkspace = "workspace"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	return w.append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// Record writes an event outside any transaction.
func (w Writer) Record(ctx context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	return w.append(ctx, w.DB, evtType, entityKind, entityID, actorID, payload)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (w Writer) append(ctx context.Context, ex execer, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
