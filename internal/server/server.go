// Package server exposes the DigiDex services over an HTTP JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"digidex/internal/app"
	"digidex/internal/engine"
	"digidex/internal/engine/auth"
	"digidex/internal/logging"
	"digidex/internal/migrate"
	"digidex/internal/qrcode"
	"digidex/internal/repo"
	"digidex/internal/scanerr"
	"digidex/internal/scanner"
)

// Config for the HTTP API handler.
type Config struct {
	Services *app.Services
	BasePath string
	Auth     AuthConfig
	// RateLimit is scans per second per user; 0 disables limiting.
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string
	Logger      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"profile_not_found"`
	Message string         `json:"message" example:"User profile not found. They may have deleted their account."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the DigiDex API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Services == nil {
		return nil, errors.New("server: services required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
			MaxAge:         300,
		}))
	}
	router.Use(requestLogger(logging.OrNop(cfg.Logger)))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Use(newRateLimitMiddleware(path.Join(basePath, "scans"), cfg.RateLimit, cfg.RateBurst))

	hcfg := huma.DefaultConfig("DigiDex API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := cfg.Services
	registerHealth(group, s)
	registerQR(group, s)
	registerScans(group, s)
	registerHistory(group, s)
	registerProfiles(group, s.Engine)
	registerContactRequests(group, s.Engine)
	registerQueue(group, s)
	registerCache(group, s)
	registerEvents(group, s.Engine)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, s.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// scanStatus maps a scan failure to its HTTP status.
func scanStatus(code scanerr.Code) int {
	switch code {
	case scanerr.InvalidQR:
		return http.StatusBadRequest
	case scanerr.ExpiredQR:
		return http.StatusGone
	case scanerr.UnsupportedType, scanerr.SelfScan:
		return http.StatusUnprocessableEntity
	case scanerr.ProfileNotFound:
		return http.StatusNotFound
	case scanerr.PermissionDenied:
		return http.StatusForbidden
	case scanerr.NetworkError, scanerr.CameraUnavailable, scanerr.Offline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if e, ok := scanerr.As(err); ok {
		return newAPIError(scanStatus(e.Code), string(e.Code), e.Message, map[string]any{
			"recoverable": e.Recoverable,
			"retry_count": e.RetryCount,
		})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrSelfRequest):
		return newAPIError(http.StatusUnprocessableEntity, "self_request", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyAnswered):
		return newAPIError(http.StatusConflict, "already_answered", err.Error(), nil)
	case errors.Is(err, qrcode.ErrInvalidData):
		return newAPIError(http.StatusBadRequest, "invalid_qr_data", err.Error(), nil)
	case errors.Is(err, app.ErrNoUser):
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{Description: "Error"}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := publicPaths(basePath)
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

// HealthResponse reports liveness and the schema version of the workspace.
type HealthResponse struct {
	Status string `json:"status"`
	Schema int    `json:"schema"`
	Latest int    `json:"latest_schema"`
}

func registerHealth(api huma.API, s *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		current, err := migrate.CurrentVersion(s.DB)
		if err != nil {
			return nil, handleError(err)
		}
		latest, err := migrate.Latest()
		if err != nil {
			return nil, handleError(err)
		}
		status := "ok"
		if current < latest {
			status = "outdated"
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: status, Schema: current, Latest: latest}}, nil
	})
}

func registerQR(api huma.API, s *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-qr",
		Method:      http.MethodPost,
		Path:        "/qr",
		Summary:     "Mint a deep link for the caller or another entity",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body GenerateQRRequest `json:"body"`
	}) (*struct {
		Body QRResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		p := qrcode.Payload{
			Type:     qrcode.Type(in.Type),
			ID:       strings.TrimSpace(in.ID),
			Name:     in.Name,
			Email:    in.Email,
			Version:  "1",
			Metadata: in.Metadata,
		}
		if p.Type == "" {
			p.Type = qrcode.TypeProfile
		}
		if p.ID == "" {
			p.ID = userID
		}
		if p.Type == qrcode.TypeProfile && (p.Name == "" || p.Email == "") {
			profile, err := s.Engine.GetUserProfile(ctx, p.ID)
			if err != nil {
				return nil, handleError(err)
			}
			if profile != nil {
				if p.Name == "" {
					p.Name = profile.DisplayName
				}
				if p.Email == "" {
					p.Email = profile.Email
				}
			}
		}
		if in.ExpiresIn > 0 {
			exp := s.Engine.Now().Add(time.Duration(in.ExpiresIn) * time.Second).UTC()
			p.ExpiresAt = &exp
		}
		data, err := s.Codec.Generate(p)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QRResponse `json:"body"`
		}{Body: QRResponse{Data: data, Payload: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "parse-qr",
		Method:      http.MethodPost,
		Path:        "/qr/parse",
		Summary:     "Decode a scanned string without side effects",
		Errors:      []int{http.StatusBadRequest, http.StatusGone},
	}, func(ctx context.Context, input *struct {
		Body ParseQRRequest `json:"body"`
	}) (*struct {
		Body qrcode.Payload `json:"body"`
	}, error) {
		p, err := s.Codec.Parse(input.Body.Data)
		if err != nil {
			return nil, handleError(err)
		}
		if p == nil {
			return nil, handleError(scanerr.New(scanerr.InvalidQR))
		}
		return &struct {
			Body qrcode.Payload `json:"body"`
		}{Body: *p}, nil
	})
}

type scanOutput struct {
	Status int
	Body   ScanResponse
}

func registerScans(api huma.API, s *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "scan",
		Method:      http.MethodPost,
		Path:        "/scans",
		Summary:     "Process a scanned QR string",
		Description: "Runs the full scan flow for the caller. Confirm answers the send-request prompt. " +
			"Offline scans are queued and answered with 202.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusGone,
			http.StatusUnprocessableEntity,
			http.StatusTooManyRequests,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body ScanRequest `json:"body"`
	}) (*scanOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec := &scanner.Recorder{}
		sc := s.NewScanner(userID, app.ScannerOptions{
			Announcer: rec,
			Haptics:   rec,
			Prompter: scanner.AutoPrompter{
				Answer: input.Body.Confirm,
				Alerts: func(title, message string) { rec.Alert(ctx, title, message) },
			},
		})
		res, err := s.Scan(ctx, sc, userID, input.Body.Data)
		body := scanResponse(res, rec)
		switch {
		case res.Queued != nil:
			return &scanOutput{Status: http.StatusAccepted, Body: body}, nil
		case err != nil:
			apiErr := handleError(err)
			if e, ok := apiErr.(*apiError); ok {
				if e.Body.Details == nil {
					e.Body.Details = map[string]any{}
				}
				e.Body.Details["announcements"] = body.Announcements
				e.Body.Details["alerts"] = body.Alerts
			}
			return nil, apiErr
		}
		return &scanOutput{Status: http.StatusOK, Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-batch",
		Method:      http.MethodPost,
		Path:        "/scans/batch",
		Summary:     "Collect several scans and add them to history together",
		Errors:      []int{http.StatusBadRequest, http.StatusTooManyRequests},
	}, func(ctx context.Context, input *struct {
		Body BatchScanRequest `json:"body"`
	}) (*struct {
		Body BatchScanResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch := &scanner.Batch{}
		batch.Start()
		rec := &scanner.Recorder{}
		sc := s.NewScanner(userID, app.ScannerOptions{Announcer: rec, Haptics: rec, Prompter: scanner.AutoPrompter{}, Batch: batch})
		resp := BatchScanResponse{Failed: []BatchFailure{}}
		for _, data := range input.Body.Data {
			if _, err := s.Scan(ctx, sc, userID, data); err != nil {
				resp.Failed = append(resp.Failed, BatchFailure{Data: data, Error: scanerr.Wrap(err)})
			}
		}
		items, err := sc.FinishBatch(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp.Items = nonNilSlice(items)
		return &struct {
			Body BatchScanResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerHistory(api huma.API, s *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Recent scans, newest first",
	}, func(ctx context.Context, input *struct {
		Page int `query:"page" default:"0" minimum:"0" doc:"0-based page of 20 records"`
	}) (*struct {
		Body HistoryPage `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		page, err := s.History.Page(ctx, input.Page)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryPage `json:"body"`
		}{Body: historyPage(page)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-history",
		Method:        http.MethodDelete,
		Path:          "/history",
		Summary:       "Forget all recent scans",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.ClearHistory(ctx, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProfileList `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProfiles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileList `json:"body"`
		}{Body: ProfileList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profiles/{id}",
		Summary:     "Get a profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProfileBody `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return getProfile(ctx, e, input.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "The caller's profile",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProfileBody `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return getProfile(ctx, e, userID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-me",
		Method:      http.MethodPut,
		Path:        "/me",
		Summary:     "Create or update the caller's profile",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ProfileRequest `json:"body"`
	}) (*struct {
		Body ProfileBody `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpsertProfile(ctx, input.Body.input(userID), userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileBody `json:"body"`
		}{Body: ProfileBody{Profile: p}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contacts",
		Method:      http.MethodGet,
		Path:        "/contacts",
		Summary:     "Profiles connected to the caller by an accepted request",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProfileList `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListContacts(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileList `json:"body"`
		}{Body: ProfileList{Items: nonNilSlice(items)}}, nil
	})
}

func getProfile(ctx context.Context, e engine.Engine, id string) (*struct {
	Body ProfileBody `json:"body"`
}, error) {
	p, err := e.GetUserProfile(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	if p == nil {
		return nil, handleError(scanerr.New(scanerr.ProfileNotFound))
	}
	return &struct {
		Body ProfileBody `json:"body"`
	}{Body: ProfileBody{Profile: *p}}, nil
}

func registerContactRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-contact-requests",
		Method:      http.MethodGet,
		Path:        "/contact-requests",
		Summary:     "Contact requests involving the caller",
	}, func(ctx context.Context, input *struct {
		Direction string `query:"direction" enum:"incoming,all" default:"all"`
		Status    string `query:"status" enum:"pending,accepted,declined"`
	}) (*struct {
		Body ContactRequestList `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListContactRequests(ctx, userID, input.Direction == "incoming", input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContactRequestList `json:"body"`
		}{Body: ContactRequestList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-contact-request",
		Method:        http.MethodPost,
		Path:          "/contact-requests",
		Summary:       "Send a contact request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ToID string `json:"to_id" minLength:"1"`
		} `json:"body"`
	}) (*struct {
		Body ContactRequestBody `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cr, err := e.CreateContactRequest(ctx, userID, input.Body.ToID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContactRequestBody `json:"body"`
		}{Body: ContactRequestBody{Request: cr}}, nil
	})

	for _, action := range []string{"accept", "decline"} {
		accept := action == "accept"
		huma.Register(api, huma.Operation{
			OperationID: action + "-contact-request",
			Method:      http.MethodPost,
			Path:        "/contact-requests/{id}/" + action,
			Summary:     strings.ToUpper(action[:1]) + action[1:] + " a contact request addressed to the caller",
			Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body ContactRequestBody `json:"body"`
		}, error) {
			userID, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			cr, err := e.RespondToRequest(ctx, input.ID, userID, accept)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ContactRequestBody `json:"body"`
			}{Body: ContactRequestBody{Request: cr}}, nil
		})
	}
}

func registerQueue(api huma.API, s *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "list-queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Operations waiting for connectivity",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body QueueList `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ops, err := s.Queue.Pending(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QueueList `json:"body"`
		}{Body: QueueList{Items: nonNilSlice(ops)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "drain-queue",
		Method:      http.MethodPost,
		Path:        "/queue/drain",
		Summary:     "Replay queued operations now",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DrainBody `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.DrainQueue(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DrainBody `json:"body"`
		}{Body: DrainBody{Processed: res.Processed, Requeued: res.Requeued, Dropped: res.Dropped, Skipped: res.Skipped}}, nil
	})
}

func registerCache(api huma.API, s *app.Services) {
	huma.Register(api, huma.Operation{
		OperationID: "cache-status",
		Method:      http.MethodGet,
		Path:        "/cache",
		Summary:     "Scan cache size and TTL",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CacheStatus `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		n, err := s.Cache.GetCacheSize(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CacheStatus `json:"body"`
		}{Body: CacheStatus{Size: n, TTLSeconds: int64(s.Cache.TTL() / time.Second)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-cache",
		Method:      http.MethodPost,
		Path:        "/cache/sweep",
		Summary:     "Remove expired cache entries",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := s.SweepCache(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Removed: n}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"profile,contact_request,scan,workspace"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing profile",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body TokenResponse `json:"body"`
	}, error) {
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		p, err := e.GetUserProfile(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		if p == nil {
			return nil, handleError(scanerr.New(scanerr.ProfileNotFound))
		}
		token, err := auth.SignToken(authCfg.JWTSecret, p.ID, p.Email, auth.DefaultTokenTTL, e.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body TokenResponse `json:"body"`
		}{Body: TokenResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
