package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appanalysis "github.com/swingft/console-llm/internal/application/analysis"
	"github.com/swingft/console-llm/internal/config"
	domain "github.com/swingft/console-llm/internal/domain/analysis"
	"github.com/swingft/console-llm/internal/middleware"
)

// Router exposes the analysis engine as a local sidecar for the obfuscator.
// The point of serve mode is keeping the model loaded between invocations:
// a cold model load costs minutes, a warm run starts immediately.
type Router struct {
	svc *appanalysis.Service

	mu   sync.Mutex
	runs []domain.Summary // most recent first
	busy bool
}

const runHistory = 20

// Options for the sidecar surface. An empty AuthToken leaves the API open;
// Checks feed the health endpoint.
type Options struct {
	AuthToken string
	Checks    map[string]middleware.HealthChecker
}

func NewRouter(svc *appanalysis.Service, opts Options) http.Handler {
	r := &Router{svc: svc}
	mux := chi.NewRouter()

	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.TokenAuth(opts.AuthToken))
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	mux.Get("/health", middleware.HealthHandler(opts.Checks))
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/analyze", r.wrap(r.handleAnalyze))
		rt.Get("/runs/latest", r.wrap(r.handleLatest))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			if errors.Is(err, domain.ErrSessionUnavailable) {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// POST /v1/analyze
// Body: {"mode": "exclude|sensitive|both", "config_path": "<swingft_config.json>"}
// The run executes in the background; results land in the output directory
// and in the in-memory run history.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Mode       string `json:"mode"`
		ConfigPath string `json:"config_path"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return err
	}
	if err := middleware.ValidateModeParam(body.Mode); err != nil {
		return err
	}
	if err := middleware.ValidateConfigPath(body.ConfigPath); err != nil {
		return err
	}
	mode := domain.Mode(body.Mode)

	project, err := config.LoadSwingft(body.ConfigPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return nil
	}
	r.busy = true
	r.mu.Unlock()

	// One run at a time; the model is the bottleneck anyway.
	go func() {
		defer func() {
			r.mu.Lock()
			r.busy = false
			r.mu.Unlock()
		}()
		ctx := context.Background()
		if body.Mode == "both" {
			sums, err := r.svc.RunBoth(ctx, project.Project.Input, project.Hints())
			if err != nil {
				log.Printf("event=background_run_failed mode=both error=%v", err)
				middleware.RecordRunFailure()
			}
			for _, sum := range sums {
				r.remember(sum)
			}
			return
		}
		sum, err := r.svc.RunProject(ctx, mode, project.Project.Input, project.Hints())
		if err != nil {
			log.Printf("event=background_run_failed mode=%s error=%v", mode, err)
			middleware.RecordRunFailure()
			return
		}
		r.remember(sum)
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(map[string]any{
		"status":  "queued",
		"mode":    body.Mode,
		"message": "analysis started in background",
	})
}

// GET /v1/runs/latest
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	r.mu.Lock()
	runs := make([]domain.Summary, len(r.runs))
	copy(runs, r.runs)
	busy := r.busy
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]any{
		"busy": busy,
		"runs": runs,
	})
}

func (r *Router) remember(sum domain.Summary) {
	middleware.RecordRun(sum.FilesAnalyzed, sum.Failed, sum.TotalIdentifiers)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append([]domain.Summary{sum}, r.runs...)
	if len(r.runs) > runHistory {
		r.runs = r.runs[:runHistory]
	}
}
