// Package httpapi serves warden's local control API: lifecycle operations,
// console access, job listing and resource history over a chi router.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"warden/internal/console"
	"warden/internal/errdefs"
	"warden/internal/lifecycle"
	"warden/internal/metrics"
	"warden/internal/scheduler"
	"warden/internal/versions"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Lifecycle is the slice of the lifecycle manager the handlers need.
type Lifecycle interface {
	Status() lifecycle.Status
	Progress() lifecycle.InstallProgress
	Install(ctx context.Context, version string, force bool) (lifecycle.InstallProgress, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	SendCommand(line string) error
	Settings() (map[string]any, error)
	UpdateSettings(doc map[string]any) error
	PendingRestart() lifecycle.PendingRestartState
}

// Jobs is the scheduler surface exposed over HTTP.
type Jobs interface {
	List() []scheduler.JobStatus
	Remove(id string) error
}

// Server holds the handler dependencies.
type Server struct {
	lc       Lifecycle
	jobs     Jobs
	console  *console.Buffer
	versions *versions.Service
	history  *metrics.Ring
	started  time.Time
}

type Options struct {
	Lifecycle Lifecycle
	Jobs      Jobs
	Console   *console.Buffer
	Versions  *versions.Service
	History   *metrics.Ring
}

func NewServer(opts Options) *Server {
	return &Server{
		lc:       opts.Lifecycle,
		jobs:     opts.Jobs,
		console:  opts.Console,
		versions: opts.Versions,
		history:  opts.History,
		started:  time.Now(),
	}
}

// Router builds the HTTP handler for the local API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/server", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/install", s.handleInstall)
			r.Get("/install/progress", s.handleInstallProgress)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/restart", s.handleRestart)
		})
		r.Get("/jobs", s.handleJobList)
		r.Delete("/jobs/{id}", s.handleJobRemove)
		r.Route("/console", func(r chi.Router) {
			r.Get("/", s.handleConsoleHistory)
			r.Delete("/", s.handleConsoleClear)
			r.Get("/stream", s.handleConsoleStream)
			r.Post("/command", s.handleConsoleCommand)
		})
		r.Get("/metrics/history", s.handleMetricsHistory)
		r.Get("/versions", s.handleVersions)
		r.Post("/versions/refresh", s.handleVersionsRefresh)
		r.Get("/settings", s.handleSettings)
		r.Put("/settings", s.handleSettingsUpdate)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("dur", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an errdefs error onto an HTTP status and a JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"code":  errdefs.Code(err),
	})
}

func statusFor(err error) int {
	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsConflict(err):
		return http.StatusConflict
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errdefs.InvalidArgumentf("invalid JSON body: %v", err)
	}
	return nil
}
