package verify

import (
	"context"
	"errors"

	"gatescan/internal/domain/session"
	"gatescan/internal/domain/ticket"
)

// ErrUnreachable: the backend could not be reached at all. Surfaced to the
// operator as a synthetic invalid outcome with message "Network error".
var ErrUnreachable = errors.New("verification service unreachable")

// ErrBadResponse: the backend answered but the body was not the expected
// JSON. Surfaced as "Server Error".
var ErrBadResponse = errors.New("invalid response from verification service")

// Client port for the remote verification backend. Verify issues exactly one
// request per call and never retries; retry policy belongs to the human
// rescanning the ticket.
type Client interface {
	Login(ctx context.Context, email, password string) (*session.Session, error)
	Verify(ctx context.Context, sess *session.Session, code ticket.Code) (*ticket.Outcome, error)
	TodayStats(ctx context.Context, sess *session.Session) (ticket.Stats, error)
	RecentScans(ctx context.Context, sess *session.Session) ([]ticket.HistoryEntry, error)
}
