package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"medquote/internal/audit"
	"medquote/internal/auth"
	"medquote/internal/config"
	"medquote/internal/middleware"
	"medquote/internal/service"
)

// maxMultipartMemory bounds the in-memory part of a multipart request.
const maxMultipartMemory = 10 << 20

type Services struct {
	Auth       *auth.Service
	Customers  *service.CustomerService
	Pharmacies *service.PharmacyService
	Operator   *service.OperatorService
	// Files serves uploaded prescriptions; nil disables the route.
	Files http.Handler
	Audit audit.Logger
}

type Server struct {
	svc      Services
	user     string
	password string
	addr     string
}

func NewServer(svc Services, cfg *config.Config) *Server {
	if svc.Audit == nil {
		svc.Audit = audit.Nop{}
	}
	return &Server{
		svc:      svc,
		user:     cfg.Username,
		password: cfg.Password,
		addr:     cfg.Addr(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.LogMiddleware(s.svc.Audit, http.MethodPost))
		r.Post("/register/customer", s.handleRegisterCustomer)
		r.Post("/register/pharmacy", s.handleRegisterPharmacy)
		r.Post("/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(s.svc.Auth))
		r.Use(middleware.LogMiddleware(s.svc.Audit, http.MethodPost, http.MethodPut))

		r.Post("/requests", s.handleCreateRequest)
		r.Get("/requests", s.handleListRequests)
		r.Get("/requests/{id}", s.handleGetRequest)
		r.Post("/requests/{id}/cancel", s.handleCancelRequest)
		r.Get("/requests/{id}/quotes", s.handleListQuotes)
		r.Post("/quotes/{id}/accept", s.handleAcceptQuote)

		r.Get("/pharmacy/requests", s.handleVisibleRequests)
		r.Post("/pharmacy/requests/{id}/quotes", s.handleSubmitQuote)
		r.Get("/pharmacy/quotes", s.handleMyQuotes)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.BasicAuthMiddleware(s.user, s.password))
		r.Use(middleware.LogMiddleware(s.svc.Audit, http.MethodPost, http.MethodPut))
		r.Get("/pharmacies", s.handleAdminPharmacies)
		r.Put("/pharmacies/{id}/verify", s.handleVerifyPharmacy)
		r.Get("/requests", s.handleAdminRequests)
		r.Post("/requests/{id}/complete", s.handleCompleteRequest)
		r.Get("/outbox", s.handleOutbox)
	})

	if s.svc.Files != nil {
		r.Handle("/files/prescriptions/*", http.StripPrefix("/files/prescriptions/", s.svc.Files))
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listen on %s...", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Println("Server stopped")
	return nil
}
