// Package http provides the editor's HTTP surface: the REST API mount with
// its preview middleware, the editor endpoints and the sync relay.
package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xwp/wp-customize-rest-resources/adapters/metrics"
	"github.com/xwp/wp-customize-rest-resources/domain/rest"
)

// VersionInfo is the body of the version endpoint.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Service string `json:"service"`
}

// RouterConfig holds the handlers and settings of the router.
type RouterConfig struct {
	// API serves the REST resources. It sees paths relative to Mount.
	API http.Handler

	// Mount is the path prefix of the REST API, "/wp-json" by default.
	Mount string

	// APIRoot is the absolute URL of the mount, used to resolve staged
	// resources in the customized parameter.
	APIRoot string

	Editor *EditorHandler

	Metrics        *metrics.Collector
	MetricsHandler http.Handler // defaults to promhttp.Handler()
	MetricsPath    string       // defaults to /metrics
	Version        VersionInfo

	// RequestTimeout bounds non-websocket requests. Zero means 60s.
	RequestTimeout time.Duration
}

// NewRouter creates the editor router.
func NewRouter(cfg RouterConfig, logger zerolog.Logger) chi.Router {
	if cfg.Mount == "" {
		cfg.Mount = "/wp-json"
	}
	cfg.Mount = "/" + strings.Trim(cfg.Mount, "/")
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Version.Service == "" {
		cfg.Version.Service = "customize-rest"
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", Health)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, cfg.Version)
	})

	if cfg.MetricsHandler != nil {
		r.Handle(cfg.MetricsPath, cfg.MetricsHandler)
	} else if cfg.Metrics != nil {
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	// The sync relay holds its connection open, so it stays outside the
	// request timeout.
	if cfg.Editor != nil {
		r.Get("/customize/sessions/{session}/sync/{side}", cfg.Editor.Sync)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))

		if cfg.API != nil {
			r.Route(cfg.Mount, func(r chi.Router) {
				r.Use(NewPreviewMiddleware(cfg.APIRoot, logger))
				r.Handle("/*", http.StripPrefix(cfg.Mount, cfg.API))
				r.Handle("/", http.StripPrefix(cfg.Mount, cfg.API))
			})
		}

		if cfg.Editor != nil {
			r.Post("/customize/sessions", cfg.Editor.CreateSession)
			r.Post("/customize/save", cfg.Editor.Save)
			r.Post("/customize/validate", cfg.Editor.Validate)
			r.Get("/customize/settings", cfg.Editor.Setting)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, rest.CodeNoRoute,
			"No route was found matching the URL and request method.")
	})

	return r
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NewLoggingMiddleware logs each request at debug level.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if r.URL.Path == "/health" || strings.HasSuffix(r.URL.Path, "/metrics") {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// NewMetricsMiddleware records request counts and durations by route
// pattern.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || strings.HasSuffix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RequestsTotal.WithLabelValues(r.Method, route, metrics.StatusClass(status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", rest.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the REST error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &rest.Error{Code: code, Message: message, Data: rest.ErrorData{Status: status}})
}
