package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/ai"
	"github.com/candicemama-blip/thirdshelf/internal/auth"
	"github.com/candicemama-blip/thirdshelf/internal/booksearch"
	"github.com/candicemama-blip/thirdshelf/internal/config"
	"github.com/candicemama-blip/thirdshelf/internal/domain"
	"github.com/candicemama-blip/thirdshelf/internal/logging"
	"github.com/candicemama-blip/thirdshelf/internal/metrics"
	"github.com/candicemama-blip/thirdshelf/internal/realtime"
	"github.com/candicemama-blip/thirdshelf/internal/repository"
	"github.com/candicemama-blip/thirdshelf/internal/store"
)

// Assistant is the AI surface the handlers use.
type Assistant interface {
	Summarise(ctx context.Context, b ai.Book) (string, error)
	ExtractThemes(ctx context.Context, b ai.Book) ([]string, error)
	SuggestBooks(ctx context.Context, b ai.Book) ([]ai.Suggestion, error)
}

// Deps bundles the collaborators of a Server. Assistant and Search may be
// nil, in which case their endpoints report the feature as unavailable.
type Deps struct {
	Store     *store.Store
	Repo      *repository.Repository
	Auth      *auth.Service
	Assistant Assistant
	Search    booksearch.Client
	Books     *realtime.Hub[domain.Book]
	Vocab     *realtime.Hub[domain.VocabWord]
	Logger    *zap.Logger
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg       config.Config
	store     *store.Store
	repo      *repository.Repository
	auth      *auth.Service
	assistant Assistant
	search    booksearch.Client
	books     *realtime.Hub[domain.Book]
	vocab     *realtime.Hub[domain.VocabWord]
	logger    *zap.Logger
	router    chi.Router
	httpSrv   *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger.Named("http")))
	r.Use(instrument)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:       cfg,
		store:     deps.Store,
		repo:      deps.Repo,
		auth:      deps.Auth,
		assistant: deps.Assistant,
		search:    deps.Search,
		books:     deps.Books,
		vocab:     deps.Vocab,
		logger:    logger,
		router:    r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignUp)
		r.Post("/auth/signin", s.handleSignIn)
		r.Post("/auth/signout", s.handleSignOut)
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/me", s.handleGetMe)
			r.Patch("/me", s.handleUpdateMe)
			r.Delete("/me", s.handleDeleteMe)

			r.Route("/books", func(r chi.Router) {
				r.Get("/", s.handleListBooks)
				r.Post("/", s.handleCreateBook)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetBook)
					r.Patch("/", s.handleUpdateBook)
					r.Delete("/", s.handleDeleteBook)
					r.Put("/rating", s.handleSetRating)
					r.Delete("/rating", s.handleClearRating)
					r.Put("/thoughts", s.handleSaveThoughts)
					r.Put("/dnf-reason", s.handleSaveDNFReason)
					r.Post("/ai/summary", s.handleAISummary)
					r.Post("/ai/themes", s.handleAIThemes)
					r.Post("/ai/suggestions", s.handleAISuggestions)
				})
			})

			r.Route("/vocab", func(r chi.Router) {
				r.Get("/", s.handleListVocab)
				r.Post("/", s.handleCreateVocab)
				r.Delete("/{id}", s.handleDeleteVocab)
			})

			r.Get("/search", s.handleSearch)
			r.Get("/stats", s.handleStats)
		})
	})
}

// Start boots the HTTP server asynchronously.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument records request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
