// Package sandbox is a local, in-memory implementation of the signing platform API.
// It backs end-to-end tests and local development of the client.
package sandbox

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/limiter"
	"github.com/and161185/signflow/internal/model"
)

// Config configures the sandbox.
type Config struct {
	Addr       string
	SigningKey []byte
	TokenTTL   time.Duration
	Mailboxes  []model.Mailbox
	// MaxUploadBytes bounds request bodies.
	MaxUploadBytes int64
	// DevTokens exposes POST /sandbox/token without authentication.
	DevTokens bool
	// AuthMaxFails bad tokens within AuthWindow lock a client out for AuthBlockFor.
	AuthMaxFails int
	AuthWindow   time.Duration
	AuthBlockFor time.Duration
}

// DefaultMailboxes is served when Config.Mailboxes is empty.
var DefaultMailboxes = []model.Mailbox{{ID: "mb-default", Name: "Sandbox", Email: "sandbox@signflow.local"}}

// Server is the sandbox platform.
type Server struct {
	cfg    Config
	store  *Store
	tokens *Tokens
	lim    limiter.Limiter
	log    *zap.Logger
	router chi.Router
}

// New constructs a sandbox server. A signing key is required.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("sandbox: empty signing key")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.Mailboxes) == 0 {
		cfg.Mailboxes = DefaultMailboxes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.AuthWindow <= 0 {
		cfg.AuthWindow = 15 * time.Minute
	}
	if cfg.AuthBlockFor <= 0 {
		cfg.AuthBlockFor = 15 * time.Minute
	}
	s := &Server{
		cfg:    cfg,
		store:  NewStore(cfg.Mailboxes),
		tokens: NewTokens(cfg.SigningKey, cfg.TokenTTL),
		lim:    limiter.NewMemory(cfg.AuthWindow, cfg.AuthMaxFails, cfg.AuthBlockFor),
		log:    log,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Recover(s.log), Logging(s.log))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireAuth(s.tokens, s.lim, s.log))
		r.Get("/mailboxes", s.listMailboxes)
		r.Route("/mailboxes/{mid}", func(r chi.Router) {
			r.Post("/documents", s.uploadDocument)
			r.Post("/quicksend", s.quickSend)
			r.Post("/envelopes", s.sendEnvelope)
			r.Get("/envelopes", s.listEnvelopes)
			r.Get("/envelopes/{eid}", s.getEnvelope)
			r.Get("/envelopes/{eid}/archive", s.downloadArchive)
		})
	})

	r.Route("/sandbox", func(r chi.Router) {
		if s.cfg.DevTokens {
			r.Post("/token", s.issueToken)
		}
		r.With(RequireAuth(s.tokens, s.lim, s.log)).Post("/envelopes/{eid}/status", s.transition)
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Store exposes the platform state for drivers and tests.
func (s *Server) Store() *Store { return s.store }

// IssueToken issues a bearer token for subject.
func (s *Server) IssueToken(subject string) (string, error) {
	tok, _, err := s.tokens.Issue(subject)
	return tok, err
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
