// Package session holds the bearer credential of one client session and attaches it to outbound requests.
package session

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/and161185/signflow/internal/errs"
)

// Config is the explicit configuration a Session is built from.
type Config struct {
	// Credential is the opaque bearer token. May be empty and configured later.
	Credential string
}

// Session stores the credential for its lifetime. It is safe for concurrent use;
// the credential is read-only once configured.
type Session struct {
	mu         sync.RWMutex
	credential string
}

// New constructs a session from cfg.
func New(cfg Config) *Session {
	return &Session{credential: cfg.Credential}
}

// Configure stores credential. Reconfiguring with a different value is refused.
func (s *Session) Configure(credential string) error {
	if credential == "" {
		return fmt.Errorf("configure: empty credential: %w", errs.ErrAuth)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential != "" && s.credential != credential {
		return fmt.Errorf("configure: credential already set: %w", errs.ErrPrecondition)
	}
	s.credential = credential
	return nil
}

// Credential returns the configured credential or ErrAuth.
func (s *Session) Credential() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.credential == "" {
		return "", fmt.Errorf("no credential configured: %w", errs.ErrAuth)
	}
	return s.credential, nil
}

// Authorize attaches "Authorization: Bearer <credential>" to req.
func (s *Session) Authorize(req *http.Request) error {
	cred, err := s.Credential()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred)
	return nil
}
