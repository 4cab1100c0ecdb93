package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gatescan/internal/domain/session"
)

const (
	tokenFile     = "token"
	moderatorFile = "moderator.json"
)

// Store persists the active session on disk so the kiosk survives restarts
// without forcing a re-login. Files are written 0600; the token never goes
// into the moderator document.
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Load() (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawToken, err := os.ReadFile(filepath.Join(s.dir, tokenFile))
	if os.IsNotExist(err) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session token: %w", err)
	}
	token := strings.TrimSpace(string(rawToken))
	if token == "" {
		return nil, session.ErrNotFound
	}

	var mod session.Moderator
	rawMod, err := os.ReadFile(filepath.Join(s.dir, moderatorFile))
	if err == nil {
		if err := json.Unmarshal(rawMod, &mod); err != nil {
			return nil, fmt.Errorf("decoding stored moderator: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading stored moderator: %w", err)
	}

	return &session.Session{Token: token, Moderator: mod}, nil
}

func (s *Store) Save(sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, tokenFile), []byte(sess.Token), 0o600); err != nil {
		return fmt.Errorf("writing session token: %w", err)
	}
	rawMod, err := json.Marshal(sess.Moderator)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, moderatorFile), rawMod, 0o600); err != nil {
		return fmt.Errorf("writing moderator: %w", err)
	}
	return nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, name := range []string{tokenFile, moderatorFile} {
		err := os.Remove(filepath.Join(s.dir, name))
		if err == nil {
			found = true
			continue
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	if !found {
		return session.ErrNotFound
	}
	return nil
}
