package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Cinaedin/ResourceGame/internal/alloc"
	"github.com/Cinaedin/ResourceGame/internal/dashboard"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/engine"
	"github.com/Cinaedin/ResourceGame/internal/importer"
	"github.com/Cinaedin/ResourceGame/internal/logging"
	"github.com/Cinaedin/ResourceGame/internal/metrics"
	"github.com/Cinaedin/ResourceGame/internal/repo"
	"github.com/Cinaedin/ResourceGame/internal/scenario"
	"github.com/Cinaedin/ResourceGame/internal/session"
	"github.com/Cinaedin/ResourceGame/internal/submit"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	ScenarioID string
	// Sessions defaults to an in-memory manager over ScenarioID.
	Sessions *session.Manager
	BasePath string
	Metrics  bool
	Log      *logging.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"scenario_locked"`
	Message string         `json:"message" example:"scenario is locked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"step\":\"time_allocation\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type api struct {
	engine     engine.Engine
	scenarioID string
	sessions   *session.Manager
	log        *logging.Logger
}

// New returns an HTTP handler exposing the exercise API.
func New(cfg Config) (http.Handler, error) {
	if cfg.ScenarioID == "" {
		return nil, errors.New("scenario id is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logging.Nop()
	}
	a := &api{engine: cfg.Engine, scenarioID: cfg.ScenarioID, sessions: cfg.Sessions, log: log}
	if a.sessions == nil {
		a.sessions = session.NewManager(a.snapshot, cfg.Engine.WithRules())
		a.sessions.Log = log
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
	router.Use(middleware.Recoverer)
	router.Use(instrument(log))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	hcfg := huma.DefaultConfig("Prioriteringsspill API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	hapi := humachi.New(router, hcfg)
	group := huma.NewGroup(hapi, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	a.registerScenario(group)
	a.registerSessions(group)
	a.registerDashboard(group)
	a.registerEvents(group)
	registerOpenAPI(router, hapi, basePath)
	if cfg.Metrics {
		router.Handle("/metrics", promhttp.Handler())
	}

	return router, nil
}

func (a *api) snapshot(ctx context.Context) (*scenario.Snapshot, error) {
	return a.engine.LoadSnapshot(ctx, a.scenarioID)
}

// instrument records request duration by route pattern.
func instrument(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.APIRequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(status)).Observe(elapsed.Seconds())
			log.Debug("request", "method", r.Method, "route", route, "status", status, "duration", elapsed)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		missing *submit.MissingNameError
		empty   *submit.EmptyAllocationError
		persist *submit.PersistenceError
		load    *scenario.LoadError
		row     *importer.RowError
	)
	switch {
	case errors.As(err, &missing):
		return newAPIError(http.StatusBadRequest, "missing_name", err.Error(), nil)
	case errors.As(err, &empty):
		return newAPIError(http.StatusBadRequest, "empty_allocation", err.Error(), nil)
	case errors.As(err, &row):
		return newAPIError(http.StatusBadRequest, "invalid_csv", err.Error(), map[string]any{"line": row.Line})
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, importer.ErrScenarioLocked):
		return newAPIError(http.StatusConflict, "scenario_locked", err.Error(), nil)
	case errors.Is(err, session.ErrSubmitInFlight):
		return newAPIError(http.StatusConflict, "submit_in_flight", err.Error(), nil)
	case errors.As(err, &persist):
		return newAPIError(http.StatusBadGateway, "persistence_failed", err.Error(), map[string]any{
			"step":           persist.Step,
			"playthrough_id": persist.PlaythroughID,
			"written":        persist.Written,
		})
	case errors.As(err, &load):
		return newAPIError(http.StatusServiceUnavailable, "snapshot_unavailable", err.Error(), map[string]any{"step": load.Step})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	case http.StatusBadGateway:
		return "persistence_failed"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="nb">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Prioriteringsspill API Docs</title>
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
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func (a *api) registerScenario(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-scenario",
		Method:      http.MethodGet,
		Path:        "/scenario",
		Summary:     "Scenario snapshot",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body scenario.View `json:"body"`
	}, error) {
		snap, err := a.snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scenario.View `json:"body"`
		}{Body: snap.View()}, nil
	})

	for _, op := range []struct {
		id, path, summary string
		run               func(context.Context, string, string) (domain.Scenario, error)
	}{
		{"lock-scenario", "/scenario/lock", "Lock scenario content", a.engine.Lock},
		{"unlock-scenario", "/scenario/unlock", "Unlock scenario content", a.engine.Unlock},
	} {
		op := op
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        op.path,
			Summary:     op.summary,
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			Actor string `header:"X-Actor"`
		}) (*struct {
			Body ScenarioResponse `json:"body"`
		}, error) {
			sc, err := op.run(ctx, a.scenarioID, input.Actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ScenarioResponse `json:"body"`
			}{Body: scenarioResponse(sc)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "reset-scenario",
		Method:      http.MethodPost,
		Path:        "/scenario/reset",
		Summary:     "Delete all submissions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Actor string `header:"X-Actor"`
	}) (*struct {
		Body ResetResponse `json:"body"`
	}, error) {
		n, err := a.engine.Reset(ctx, a.scenarioID, input.Actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResetResponse `json:"body"`
		}{Body: ResetResponse{ScenarioID: a.scenarioID, PlaythroughsRemoved: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-csv",
		Method:      http.MethodPost,
		Path:        "/scenario/import/{kind}",
		Summary:     "Import scenario content from CSV",
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"text/csv": {Schema: &huma.Schema{Type: "string"}},
			},
		},
		Errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Kind  string `path:"kind" enum:"people,budgets,tasks,rules"`
		Actor string `header:"X-Actor"`
	}) (*struct {
		Body importer.Result `json:"body"`
	}, error) {
		kind, err := importer.ParseKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		data := bodyBytes(ctx)
		if len(data) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "csv body required", nil)
		}
		res, err := a.engine.Import(ctx, a.scenarioID, kind, bytes.NewReader(data), input.Actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body importer.Result `json:"body"`
		}{Body: res}, nil
	})
}

type sessionPath struct {
	ID string `path:"id"`
}

type sessionOutput struct {
	Body SessionResponse `json:"body"`
}

func (a *api) apply(ctx context.Context, id string, cmd alloc.Command) (*sessionOutput, error) {
	d, err := a.sessions.Apply(ctx, id, cmd)
	if err != nil {
		return nil, handleError(err)
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Kind()).Inc()
	s, err := a.sessions.Get(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	return &sessionOutput{Body: sessionResponse(s, d)}, nil
}

func (a *api) registerSessions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Start a play session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*sessionOutput, error) {
		s, err := a.sessions.Create(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		metrics.ActiveSessions.Set(float64(a.sessions.Len()))
		a.log.Info("session started", "session_id", s.ID, "scenario_id", a.scenarioID)
		return &sessionOutput{Body: sessionResponse(s, s.Derived())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Session allocations and derived state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, err := a.sessions.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: sessionResponse(s, s.Derived())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "Discard a session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		if err := a.sessions.Delete(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		metrics.ActiveSessions.Set(float64(a.sessions.Len()))
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-time",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/time",
		Summary:     "Set a person's time on a task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body SetTimeRequest `json:"body"`
	}) (*sessionOutput, error) {
		return a.apply(ctx, input.ID, alloc.SetTime{PersonID: input.Body.PersonID, TaskID: input.Body.TaskID, Pct: input.Body.Pct})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-money",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/money",
		Summary:     "Set a budget line's amount on a task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body SetMoneyRequest `json:"body"`
	}) (*sessionOutput, error) {
		return a.apply(ctx, input.ID, alloc.SetMoney{BudgetLineID: input.Body.BudgetLineID, TaskID: input.Body.TaskID, Amount: input.Body.Amount})
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-task",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}/tasks/{task_id}",
		Summary:     "Remove every allocation on a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		TaskID string `path:"task_id"`
	}) (*sessionOutput, error) {
		return a.apply(ctx, input.ID, alloc.ClearTask{TaskID: input.TaskID})
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/submit",
		Summary:     "Submit the session's allocations",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body SubmitResponse `json:"body"`
	}, error) {
		s, err := a.sessions.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		playID, err := a.engine.Submit(ctx, s, input.Body.PlayerName, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitResponse `json:"body"`
		}{Body: SubmitResponse{PlaythroughID: playID}}, nil
	})
}

func (a *api) registerDashboard(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Aggregated submissions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body dashboard.Summary `json:"body"`
	}, error) {
		s, err := a.engine.Dashboard(ctx, a.scenarioID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body dashboard.Summary `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-export",
		Method:      http.MethodGet,
		Path:        "/dashboard/export.csv",
		Summary:     "Per-task totals as CSV",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		s, err := a.engine.Dashboard(ctx, a.scenarioID)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := dashboard.WriteCSV(&buf, s); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "text/csv; charset=utf-8",
			ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, a.engine.ExportName()),
			Body:               buf.Bytes(),
		}, nil
	})
}

func (a *api) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Scenario audit events, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"1" maximum:"500" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		evts, err := a.engine.RecentEvents(ctx, a.scenarioID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
