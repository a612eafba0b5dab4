// Package api provides the HTTP query surface over the relationship graph
// store. Besides reads, it exposes company delete, blacklist add/remove,
// and a manual sync trigger.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/relgraph/relgraph/internal/blacklist"
	"github.com/relgraph/relgraph/internal/config"
	"github.com/relgraph/relgraph/internal/scheduler"
	"github.com/relgraph/relgraph/internal/store"
)

// GraphStore defines the store operations the query surface needs.
type GraphStore interface {
	GetStats() (*store.DBStats, error)

	ListCompanies() ([]store.Company, error)
	GetCompany(companyID string) (*store.Company, error)
	DeleteCompany(companyID string) error

	ListDomains(companyID string) ([]store.Domain, error)
	GetDomain(domain string) (*store.Domain, error)

	ListContacts(companyID string) ([]store.Contact, error)
	GetContact(contactID string) (*store.Contact, error)
	ListEmailAddresses(contactID string) ([]store.EmailAddress, error)

	ListBlacklistDomains() ([]blacklist.Entry, error)
	DomainBlacklisted(domain string) (bool, error)
	AddBlacklistDomain(domain string, category blacklist.Category, source string) error
	RemoveBlacklistDomain(domain string) error
}

// IngestScheduler defines the scheduler operations the query surface needs.
type IngestScheduler interface {
	IsScheduled(email string) bool
	TriggerSync(email string) error
	Status() []scheduler.AccountStatus
	IsRunning() bool
}

// Server is the HTTP query surface.
type Server struct {
	cfg         *config.Config
	store       GraphStore
	scheduler   IngestScheduler
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new query surface server.
func NewServer(cfg *config.Config, store GraphStore, sched IngestScheduler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	corsConfig := CORSConfig{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: s.cfg.Server.CORSCredentials,
		MaxAge:           s.cfg.Server.CORSMaxAge,
	}
	if corsConfig.MaxAge == 0 && len(corsConfig.AllowedOrigins) > 0 {
		corsConfig.MaxAge = 86400
	}
	r.Use(CORSMiddleware(corsConfig))

	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/stats", s.handleStats)

		r.Get("/companies", s.handleListCompanies)
		r.Get("/companies/{id}", s.handleGetCompany)
		r.Delete("/companies/{id}", s.handleDeleteCompany)

		r.Get("/domains", s.handleListDomains)
		r.Get("/domains/{domain}", s.handleGetDomain)

		r.Get("/contacts", s.handleListContacts)
		r.Get("/contacts/{id}", s.handleGetContact)
		r.Get("/contacts/{id}/emails", s.handleListContactEmails)

		r.Get("/blacklist", s.handleListBlacklist)
		r.Post("/blacklist", s.handleAddBlacklist)
		r.Delete("/blacklist/{domain}", s.handleRemoveBlacklist)

		r.Get("/accounts", s.handleListAccounts)
		r.Post("/sync/{account}", s.handleTriggerSync)
		r.Get("/scheduler/status", s.handleSchedulerStatus)
	})

	return r
}

// Start begins listening for HTTP requests. Returns an error if the
// security posture is invalid.
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication — set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("X-API-Key")
		}
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
