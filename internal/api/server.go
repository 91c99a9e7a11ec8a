// Package api exposes the console's REST interface over a storage.Provider.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatdesk/internal/auth"
	"chatdesk/internal/metrics"
	"chatdesk/internal/storage"
)

const Version = "1.0.0"

// ReplyEnqueuer schedules automatic answers to customer messages.
type ReplyEnqueuer interface {
	EnqueueReply(ctx context.Context, msg storage.Message) error
}

type Server struct {
	store          storage.Provider
	replies        ReplyEnqueuer
	auth           *auth.Service
	authRequired   bool
	healthPath     string
	metricsPath    string
	allowedOrigins []string
	ratePerMinute  int
	env            string
	logger         zerolog.Logger
	metrics        *metrics.Metrics
}

type Config struct {
	Store              storage.Provider
	Replies            ReplyEnqueuer
	Auth               *auth.Service
	AuthRequired       bool
	HealthPath         string
	MetricsPath        string
	AllowedOrigins     []string
	RateLimitPerMinute int
	Env                string
	Logger             zerolog.Logger
	Metrics            *metrics.Metrics
}

func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/api/health"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	return &Server{
		store:          cfg.Store,
		replies:        cfg.Replies,
		auth:           cfg.Auth,
		authRequired:   cfg.AuthRequired,
		healthPath:     cfg.HealthPath,
		metricsPath:    cfg.MetricsPath,
		allowedOrigins: cfg.AllowedOrigins,
		ratePerMinute:  cfg.RateLimitPerMinute,
		env:            cfg.Env,
		logger:         cfg.Logger,
		metrics:        m,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	r.Get(s.healthPath, s.handleHealth)
	r.Method(http.MethodGet, s.metricsPath, promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.ratePerMinute > 0 {
			r.Use(httprate.Limit(
				s.ratePerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusTooManyRequests, "Too many requests")
				}),
			))
		}

		r.Post("/api/auth/login", s.handleLogin)
		r.With(s.requireAuth).Get("/api/auth/me", s.handleMe)

		r.Group(func(r chi.Router) {
			if s.authRequired {
				r.Use(s.requireAuth)
			}

			r.Get("/api/analytics", s.handleGetAnalytics)
			r.Post("/api/analytics", s.handleCreateAnalytics)

			r.Get("/api/conversations", s.handleListConversations)
			r.Post("/api/conversations", s.handleCreateConversation)
			r.Get("/api/conversations/{id}", s.handleGetConversation)
			r.Patch("/api/conversations/{id}", s.handleUpdateConversation)
			r.Get("/api/conversations/{id}/messages", s.handleListMessages)
			r.Post("/api/conversations/{id}/messages", s.handleCreateMessage)

			r.Get("/api/bot-config", s.handleGetBotConfig)
			r.Put("/api/bot-config", s.handleUpdateBotConfig)

			r.Get("/api/templates", s.handleListTemplates)
			r.Post("/api/templates", s.handleCreateTemplate)
			r.Get("/api/templates/variables", s.handleTemplateVariables)
			r.Post("/api/templates/preview", s.handlePreviewTemplate)
			r.Get("/api/templates/{id}", s.handleGetTemplate)
			r.Put("/api/templates/{id}", s.handleUpdateTemplate)
			r.Delete("/api/templates/{id}", s.handleDeleteTemplate)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if !strings.HasPrefix(r.URL.Path, "/api") {
			return
		}
		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("size", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
		s.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || s.auth == nil {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		p, err := s.auth.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}
