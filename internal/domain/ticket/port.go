package ticket

import (
	"context"
	"time"
)

// Journal port: persistent record of submissions, beyond the in-memory
// history ring. The kiosk keeps working if the journal is down; appends are
// best-effort.
type Journal interface {
	Append(ctx context.Context, e *HistoryEntry) error
	Recent(ctx context.Context, moderatorID string, limit int) ([]HistoryEntry, error)
	Totals(ctx context.Context, moderatorID string, since time.Time) (Stats, error)
}
