package session

import "errors"

// ErrNotFound means no session is stored (never logged in, or logged out).
var ErrNotFound = errors.New("no stored session")

// Moderator is the authenticated operator profile returned by the backend at
// login. The backend has used both "_id" and "id" for the identifier; the
// verifier client normalizes that into ID.
type Moderator struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Session is the moderator identity plus the bearer token used for every
// verification call. Loaded at startup, erased at logout; never shared
// through ambient globals.
type Session struct {
	Token     string    `json:"token"`
	Moderator Moderator `json:"moderator"`
}

// Store persists exactly one session.
type Store interface {
	Load() (*Session, error)
	Save(s *Session) error
	Clear() error
}
