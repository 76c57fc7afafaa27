package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"digidex/internal/db"
	"digidex/internal/domain"
	"digidex/internal/engine"
	"digidex/internal/engine/auth"
	"digidex/internal/migrate"
	"digidex/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func str(s string) *string { return &s }

func (env testEnv) profile(t *testing.T, id, name string) domain.Profile {
	t.Helper()
	p, err := env.Engine.UpsertProfile(env.Ctx, engine.ProfileInput{ID: id, DisplayName: str(name), Email: str(id + "@example.com")}, "")
	if err != nil {
		t.Fatalf("upsert %s: %v", id, err)
	}
	return p
}

func TestUpsertProfile(t *testing.T) {
	env := newTestEnv(t)
	created := env.profile(t, "user-42", "Ada")
	if created.CreatedAt == "" || created.DisplayName != "Ada" {
		t.Fatalf("created = %+v", created)
	}
	updated, err := env.Engine.UpsertProfile(env.Ctx, engine.ProfileInput{
		ID:      "user-42",
		Company: str("Analytical Engines"),
		Social:  map[string]string{"github": "ada"},
	}, "user-42")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.DisplayName != "Ada" || updated.Company != "Analytical Engines" || updated.CreatedAt != created.CreatedAt {
		t.Fatalf("update lost fields: %+v", updated)
	}
	got, err := env.Engine.GetUserProfile(env.Ctx, "user-42")
	if err != nil || got == nil || got.Social["github"] != "ada" {
		t.Fatalf("get = %+v %v", got, err)
	}

	missing, err := env.Engine.GetUserProfile(env.Ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("missing profile = %+v %v", missing, err)
	}

	var verr engine.ValidationError
	if _, err := env.Engine.UpsertProfile(env.Ctx, engine.ProfileInput{ID: "x"}, ""); !errors.As(err, &verr) || verr.Field != "display_name" {
		t.Fatalf("expected display_name validation error, got %v", err)
	}
	if _, err := env.Engine.UpsertProfile(env.Ctx, engine.ProfileInput{ID: "x", DisplayName: str("X"), Email: str("nope")}, ""); !errors.As(err, &verr) {
		t.Fatalf("expected email validation error, got %v", err)
	}
}

func TestContactRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.profile(t, "me", "Me")
	env.profile(t, "user-42", "Ada")

	cr, err := env.Engine.CreateContactRequest(env.Ctx, "me", "user-42")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cr.Status != domain.RequestPending || cr.FromID != "me" || cr.ToID != "user-42" {
		t.Fatalf("request = %+v", cr)
	}
	again, err := env.Engine.CreateContactRequest(env.Ctx, "me", "user-42")
	if err != nil || again.ID != cr.ID {
		t.Fatalf("duplicate pending request created: %+v %v", again, err)
	}

	var forbidden auth.ForbiddenError
	if _, err := env.Engine.RespondToRequest(env.Ctx, cr.ID, "me", true); !errors.As(err, &forbidden) {
		t.Fatalf("sender must not answer own request, got %v", err)
	}
	incoming, err := env.Engine.ListContactRequests(env.Ctx, "user-42", true, domain.RequestPending)
	if err != nil || len(incoming) != 1 {
		t.Fatalf("incoming = %+v %v", incoming, err)
	}

	accepted, err := env.Engine.RespondToRequest(env.Ctx, cr.ID, "user-42", true)
	if err != nil || accepted.Status != domain.RequestAccepted || accepted.RespondedAt == nil {
		t.Fatalf("accept = %+v %v", accepted, err)
	}
	if _, err := env.Engine.RespondToRequest(env.Ctx, cr.ID, "user-42", false); !errors.Is(err, engine.ErrAlreadyAnswered) {
		t.Fatalf("second answer should fail, got %v", err)
	}

	contacts, err := env.Engine.ListContacts(env.Ctx, "me")
	if err != nil || len(contacts) != 1 || contacts[0].ID != "user-42" {
		t.Fatalf("contacts = %+v %v", contacts, err)
	}
	evts, err := env.Engine.LatestEvents(env.Ctx, 10, "")
	if err != nil || len(evts) != 4 || evts[0].Type != "contact_request.accept" {
		t.Fatalf("events = %+v %v", evts, err)
	}
}

func TestContactRequestRejections(t *testing.T) {
	env := newTestEnv(t)
	env.profile(t, "me", "Me")
	if _, err := env.Engine.CreateContactRequest(env.Ctx, "me", "me"); !errors.Is(err, engine.ErrSelfRequest) {
		t.Fatalf("self request: %v", err)
	}
	if _, err := env.Engine.CreateContactRequest(env.Ctx, "me", "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing target: %v", err)
	}
	if _, err := env.Engine.RespondToRequest(env.Ctx, "nope", "me", true); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing request: %v", err)
	}
}
