package observability

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/annacash/annacash/internal/platform/httpx"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig wires the ops endpoint.
type RouterConfig struct {
	Metrics     *Metrics
	Checks      map[string]HealthCheck
	Middlewares []func(http.Handler) http.Handler
	// Alerts enables GET /wakala/{businessID}/alerts when set.
	Alerts AlertSource
	// CheckTimeout bounds every health check. Defaults to two seconds.
	CheckTimeout time.Duration
}

// HealthReport is the /healthz response body.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewRouter serves /healthz and /metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(cfg.Middlewares...)
	r.Use(cfg.Metrics.Middleware)
	r.Get("/healthz", healthHandler(cfg))
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	if cfg.Alerts != nil {
		r.With(alertsLimiter()).Get("/wakala/{businessID}/alerts", alertsHandler(cfg.Alerts))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	})
	return r
}

func healthHandler(cfg RouterConfig) http.HandlerFunc {
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	names := make([]string, 0, len(cfg.Checks))
	for name := range cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		report := HealthReport{Status: "ok", Checks: make(map[string]string, len(names))}
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, name := range names {
			wg.Add(1)
			go func(name string, check HealthCheck) {
				defer wg.Done()
				result := "ok"
				if err := check(ctx); err != nil {
					result = err.Error()
				}
				mu.Lock()
				report.Checks[name] = result
				if result != "ok" {
					report.Status = "degraded"
				}
				mu.Unlock()
			}(name, cfg.Checks[name])
		}
		wg.Wait()

		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, report)
	}
}
