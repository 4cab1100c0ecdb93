package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"gatescan/internal/domain/session"
	"gatescan/internal/domain/verify"
)

// ErrMissingCredentials: email or password was empty.
var ErrMissingCredentials = errors.New("email and password are required")

// Service handles moderator login/logout against the verification backend and
// keeps the resulting session in the local store.
type Service struct {
	Verifier verify.Client
	Sessions session.Store
}

func NewService(verifier verify.Client, sessions session.Store) *Service {
	return &Service{Verifier: verifier, Sessions: sessions}
}

// Login authenticates with the backend and persists the session. The email is
// trimmed and lowercased before it goes on the wire.
func (s *Service) Login(ctx context.Context, email, password string) (*session.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	sess, err := s.Verifier.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.Save(sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	log.Printf("moderator logged in: id=%s email=%s", sess.Moderator.ID, sess.Moderator.Email)
	return sess, nil
}

// Logout erases the persisted session.
func (s *Service) Logout() error {
	if err := s.Sessions.Clear(); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return nil
}

// Current returns the stored session, or session.ErrNotFound.
func (s *Service) Current() (*session.Session, error) {
	return s.Sessions.Load()
}
