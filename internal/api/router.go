// Package api serves the import pipeline over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/auth"
	"github.com/sells-group/donor-import/internal/importer"
	"github.com/sells-group/donor-import/internal/model"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// MaxUploadBytes bounds the size of an uploaded file.
	MaxUploadBytes int64
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	svc      *importer.Service
	registry *model.FieldRegistry
	maxBytes int64
}

// NewRouter builds the HTTP routes for the import service.
func NewRouter(svc *importer.Service, reg *model.FieldRegistry, opts Options) http.Handler {
	h := &Handler{svc: svc, registry: reg, maxBytes: opts.MaxUploadBytes}
	if h.maxBytes <= 0 {
		h.maxBytes = 50 * 1024 * 1024
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", auth.HeaderUserID},
		MaxAge:         300,
	}))
	r.Use(withCaller)

	r.Get("/health", h.health)

	r.Route("/import", func(r chi.Router) {
		r.Get("/template", h.template)
		r.Post("/preview", h.preview)
		r.Post("/analyze", h.analyze)
		r.Post("/validate", h.validate)
		r.Post("/process", h.process)
		r.Get("/jobs", h.jobs)
		r.Get("/{importId}/status", h.status)
		r.Post("/{importId}/cancel", h.cancel)
	})

	return r
}

// withCaller stores the X-User-ID header in the request context.
func withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithCaller(r.Context(), r.Header.Get(auth.HeaderUserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
