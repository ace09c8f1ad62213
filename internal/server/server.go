// Package server is the composition root: it opens the database, builds the
// services and handlers, and maps routes to them.
//
// DEPENDENCY FLOW:
//
//	main.go reads env → server.Config
//	server.New: sqlite.DB (+ token cipher) → services → handlers → chi routes
//
// Keeping this out of main.go lets tests build the whole router against an
// in-memory database and fake OAuth providers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/mochi-mirror/internal/auth"
	"github.com/sakif/mochi-mirror/internal/handler"
	"github.com/sakif/mochi-mirror/internal/middleware"
	sqliteRepo "github.com/sakif/mochi-mirror/internal/repository/sqlite"
	"github.com/sakif/mochi-mirror/internal/service"
	"github.com/sakif/mochi-mirror/internal/tiktok"
)

// Config holds everything main reads from the environment.
type Config struct {
	Port   int
	DBPath string

	JWTSecret  string
	SessionTTL time.Duration
	// TokenKey seals TikTok tokens at rest. When nil a key is derived from
	// JWTSecret.
	TokenKey []byte

	Google auth.GoogleConfig
	TikTok tiktok.Config

	// AppBaseURL is where the browser is sent after sign-in and linking.
	// An https URL also turns on Secure cookies.
	AppBaseURL string
	// LinkRateLimit is requests per minute per IP on the TikTok OAuth
	// endpoints. 0 disables limiting.
	LinkRateLimit int
}

// Server owns the router and the database connection.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New wires the dependency graph. The returned server owns the database and
// closes it when Start returns.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	key := cfg.TokenKey
	if key == nil {
		derived, err := auth.DeriveTokenKey(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("deriving token key: %w", err)
		}
		key = derived
	}
	cipher, err := auth.NewTokenCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating token cipher: %w", err)
	}

	db, err := sqliteRepo.New(cfg.DBPath, sqliteRepo.WithTokenCipher(cipher))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(auth.NewGoogleProvider(cfg.Google), tiktok.New(cfg.TikTok)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database. Start calls it on shutdown.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes configures middleware and routes.
//
// ROUTES:
//
//	GET    /healthz                   liveness + database ping
//	GET    /auth/google/login         → Google
//	GET    /auth/google/callback      sign-in, sets session cookie
//	POST   /auth/logout
//	GET    /api/auth/tiktok           → TikTok (rate limited)
//	GET    /api/auth/tiktok/callback  link from redirect (auth, rate limited)
//	POST   /api/auth/tiktok/link      link from {code, state} (auth, rate limited)
//	GET    /api/me                    (auth)
//	/api/user/...                     dashboard endpoints (auth)
//
// MIDDLEWARE ORDER: RequestID before Logger so every line carries the id,
// RealIP before anything that keys on the client address, Recoverer last so
// a panic still gets logged as a 500.
func (s *Server) setupRoutes(google handler.IdentityProvider, provider service.TikTokProvider) error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	baseURL := strings.TrimSuffix(s.config.AppBaseURL, "/")
	secure := strings.HasPrefix(baseURL, "https://")

	sessions := service.NewSessionService(s.db, s.db, s.db, tokens, s.logger)
	accounts := service.NewAccountService(s.db, s.db, s.db, s.logger)
	linker := service.NewAccountLinker(s.db, s.db, provider, s.logger)

	authHandler := handler.NewAuthHandler(google, sessions, accounts, tokens, baseURL, secure, s.logger)
	linkHandler := handler.NewLinkHandler(linker, baseURL+"/dashboard", secure, s.logger)
	userHandler := handler.NewUserHandler(accounts, linker, secure)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.HandleGoogleLogin)
		r.Get("/google/callback", authHandler.HandleGoogleCallback)
		r.Post("/logout", authHandler.HandleLogout)
	})

	limit := func(next http.Handler) http.Handler { return next }
	if s.config.LinkRateLimit > 0 {
		limit = middleware.NewRateLimiter(s.config.LinkRateLimit, s.config.LinkRateLimit, s.logger).Middleware
	}
	requireAuth := auth.RequireAuth(tokens)

	s.router.Route("/api", func(r chi.Router) {
		r.With(limit).Get("/auth/tiktok", linkHandler.HandleAuthorize)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.With(limit).Get("/auth/tiktok/callback", linkHandler.HandleCallback)
			r.With(limit).Post("/auth/tiktok/link", linkHandler.HandleLink)

			r.Get("/me", authHandler.HandleMe)

			r.Route("/user", func(r chi.Router) {
				r.Delete("/", userHandler.HandleDeleteAccount)
				r.Post("/unlink", linkHandler.HandleUnlink)
				r.Get("/profile", userHandler.HandleProfile)
				r.With(limit).Post("/profile/sync", userHandler.HandleSyncProfile)
				r.Get("/activity", userHandler.HandleActivity)
				r.Get("/automation", userHandler.HandleGetAutomation)
				r.Post("/automation", userHandler.HandleUpdateAutomation)
				r.Get("/settings", userHandler.HandleGetSettings)
				r.Post("/settings", userHandler.HandleUpdateSettings)
				r.Post("/username", userHandler.HandleSetUsername)
				r.Get("/devices", userHandler.HandleListDevices)
				r.Delete("/devices/{id}", userHandler.HandleRemoveDevice)
			})
		})
	})

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check: database unreachable", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}` + "\n"))
		return
	}
	w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
		// Link requests make two outbound calls bounded at 10s each.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
			slog.String("appBaseURL", s.config.AppBaseURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
