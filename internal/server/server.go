package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"civicops/internal/domain"
	"civicops/internal/engine"
	"civicops/internal/engine/auth"
	"civicops/internal/geo"
	"civicops/internal/jobs"
	"civicops/internal/lifecycle"
	"civicops/internal/migrate"
	"civicops/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Scheduler *jobs.Scheduler
	BasePath  string
	Auth      AuthConfig
	Logger    *zap.Logger
	// CompletionRatePerMinute caps completion submissions per worker; 0 disables it.
	CompletionRatePerMinute int
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"gps_verification_failed"`
	Message string         `json:"message" example:"you are 600 meters away (max allowed: 500 meters)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"distance_meters\":600}"`
}

type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type api struct {
	engine    engine.Engine
	scheduler *jobs.Scheduler
	limiter   *workerLimiter
	logger    *zap.Logger
}

// New returns an HTTP handler exposing the civicops API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = jobs.NewScheduler(cfg.Engine, time.Minute, nil, logger)
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("civicops API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	humaAPI := humachi.New(router, hcfg)
	group := huma.NewGroup(humaAPI, basePath)

	a := api{
		engine:    cfg.Engine,
		scheduler: scheduler,
		limiter:   newWorkerLimiter(cfg.CompletionRatePerMinute),
		logger:    logger,
	}
	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	a.registerReports(group)
	a.registerCompletion(group)
	a.registerWorkers(group)
	a.registerAdmin(group)
	a.registerEvents(group)
	registerOpenAPI(router, humaAPI, basePath)

	return router, nil
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fe.Role})
	}
	var notAssignee engine.NotAssigneeError
	if errors.As(err, &notAssignee) {
		return newAPIError(http.StatusForbidden, "not_assignee", err.Error(), map[string]any{"worker_id": notAssignee.WorkerID})
	}
	var notAssigned engine.NotAssignedError
	if errors.As(err, &notAssigned) {
		return newAPIError(http.StatusConflict, "not_assigned", err.Error(), map[string]any{"status": notAssigned.Status})
	}
	var te lifecycle.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, geo.ErrInvalidCoordinates):
		return newAPIError(http.StatusBadRequest, "invalid_coordinates", err.Error(), nil)
	case errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, domain.ErrUnknownDistrict),
		errors.Is(err, domain.ErrUnknownProblemType):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, repo.ErrConcurrentUpdate):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requireRole(ctx context.Context, role, action string) (Principal, error) {
	p, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if err := auth.RequireRole(p.Actor(), role, action); err != nil {
		return Principal{}, err
	}
	return p, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = oas.MarshalJSON()
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
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
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
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>civicops API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		version, err := migrate.Current(ctx, e.DB)
		if err != nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "database not ready", map[string]any{"error": err.Error()})
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", SchemaVersion: version}}, nil
	})
}

func (a api) registerReports(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
		Description: "Filtering by worker_id returns that worker's task list, highest priority first.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" doc:"Comma separated statuses"`
		District string `query:"district"`
		WorkerID string `query:"worker_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body ReportList `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		filter := repo.ReportFilter{WorkerID: input.WorkerID, Limit: normalizeLimit(input.Limit)}
		for _, raw := range strings.Split(input.Status, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			st, err := domain.ParseStatus(raw)
			if err != nil {
				return nil, handleError(err)
			}
			filter.Statuses = append(filter.Statuses, st)
		}
		if input.District != "" {
			d, err := domain.ParseDistrict(input.District)
			if err != nil {
				return nil, handleError(err)
			}
			filter.District = string(d)
		}
		items, err := a.engine.Repo.ListReports(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportList `json:"body"`
		}{Body: ReportList{Items: emptyReports(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{id}",
		Summary:     "Get a report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		rep, err := a.engine.Repo.GetReport(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-report-assignments",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/assignments",
		Summary:     "Assignment history of a report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AssignmentList `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		if _, err := a.engine.Repo.GetReport(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := a.engine.Repo.ListAssignments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Assignment{}
		}
		return &struct {
			Body AssignmentList `json:"body"`
		}{Body: AssignmentList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-transition",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/transitions/{to}",
		Summary:     "Check whether a report may move to a status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
		To string `path:"to" enum:"pending,assigned,completed,verified,rejected"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		to, err := domain.ParseStatus(input.To)
		if err != nil {
			return nil, handleError(err)
		}
		check, err := a.engine.CanTransition(ctx, input.ID, to)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(check)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-report",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/verify",
		Summary:     "Confirm a completed report",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := a.engine.VerifyReport(ctx, input.ID, p.Actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-report",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/reject",
		Summary:     "Close a report without resolution",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body *RejectRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		rep, err := a.engine.RejectReport(ctx, input.ID, reason, p.Actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})
}

func (a api) registerCompletion(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-completion",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/completion",
		Summary:     "Submit on-site completion evidence",
		Description: "The caller must be the assigned worker. Claims farther than the verification radius are refused with 422 gps_verification_failed.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusTooManyRequests,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CompletionRequest `json:"body"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		p, err := requireRole(ctx, auth.RoleWorker, "submit completions")
		if err != nil {
			return nil, handleError(err)
		}
		if !a.limiter.Allow(p.ActorID) {
			return nil, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many completion attempts, retry later", nil)
		}
		res, err := a.engine.SubmitCompletion(ctx, engine.CompletionClaim{
			ReportID:      input.ID,
			WorkerID:      p.ActorID,
			Latitude:      input.Body.Latitude,
			Longitude:     input.Body.Longitude,
			ProofPhotoRef: input.Body.ProofPhotoRef,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if !res.Accepted {
			return nil, newAPIError(http.StatusUnprocessableEntity, "gps_verification_failed", res.Message(), map[string]any{
				"report_id":        input.ID,
				"distance_meters":  res.DistanceMeters,
				"threshold_meters": res.ThresholdMeters,
			})
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: completionResponse(res)}, nil
	})
}

func (a api) registerWorkers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		District   string `query:"district"`
		Department string `query:"department"`
		Active     bool   `query:"active" doc:"Only active workers"`
	}) (*struct {
		Body WorkerList `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		filter := repo.WorkerFilter{ActiveOnly: input.Active}
		if input.District != "" {
			d, err := domain.ParseDistrict(input.District)
			if err != nil {
				return nil, handleError(err)
			}
			filter.District = string(d)
		}
		if input.Department != "" {
			d, err := domain.ParseDepartment(input.Department)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			filter.Department = string(d)
		}
		items, err := a.engine.Repo.ListWorkers(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerList `json:"body"`
		}{Body: WorkerList{Items: emptyWorkers(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/workers/{id}",
		Summary:     "Get a worker",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Worker `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		w, err := a.engine.Repo.GetWorker(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Worker `json:"body"`
		}{Body: w}, nil
	})
}

func (a api) registerAdmin(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "run-assignment",
		Method:      http.MethodPost,
		Path:        "/admin/assignment/run",
		Summary:     "Run one assignment pass now",
		Errors:      []int{http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.TickResult `json:"body"`
	}, error) {
		p, err := requireRole(ctx, auth.RoleAdmin, "run assignment")
		if err != nil {
			return nil, handleError(err)
		}
		res, err := a.scheduler.TickAs(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if res.Skipped {
			return nil, newAPIError(http.StatusConflict, "tick_running", "an assignment pass is already running", nil)
		}
		if res.Assigned == nil {
			res.Assigned = []domain.Assignment{}
		}
		if res.Unassigned == nil {
			res.Unassigned = []string{}
		}
		return &struct {
			Body engine.TickResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-daily-reset",
		Method:      http.MethodPost,
		Path:        "/admin/daily-reset",
		Summary:     "Reset daily worker counters for today",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.ResetResult `json:"body"`
	}, error) {
		p, err := requireRole(ctx, auth.RoleAdmin, "reset daily counters")
		if err != nil {
			return nil, handleError(err)
		}
		res, err := a.engine.ResetDailyCounts(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ResetResult `json:"body"`
		}{Body: res}, nil
	})
}

func (a api) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
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
		items, err := a.engine.Repo.LatestEvents(ctx, repo.EventFilter{
			Limit:      limit + 1,
			Cursor:     cursorID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
