package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/contactbook/apiserver/config"
	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/db"
	"github.com/contactbook/apiserver/internal/handlers"
	"github.com/contactbook/apiserver/internal/mq"
	"github.com/contactbook/apiserver/internal/services"
	"github.com/contactbook/apiserver/internal/storage"
	"github.com/contactbook/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.Queue
}

// New constructs a fully wired Server.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queue, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	avatars, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		_ = queue.Close()
		_ = dbConn.Close()
		return nil, err
	}
	if err := avatars.EnsureBucket(ctx); err != nil {
		_ = queue.Close()
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	contactRepo := store.NewContactRepository(dbConn)

	tokens := auth.NewTokenService(jwtSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, cfg.Auth.EmailTTL)
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	mailService := services.NewMailService(queue, cfg.MQ.Channel)

	userService := services.NewUserService(userRepo, hasher, tokens, mailService, avatars)
	contactService := services.NewContactService(contactRepo)

	authMiddleware := handlers.RequireAuth(userService)
	limiter := httprate.LimitByIP(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, authMiddleware, limiter)
	})
	router.Route("/contacts", func(r chi.Router) {
		handlers.ContactRouter(r, contactService, authMiddleware, limiter)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		queue:      queue,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
