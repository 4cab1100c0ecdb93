package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"gatescan/internal/domain/ticket"
)

// Connect opens the central journal database. Several kiosks at one venue can
// share it; the per-kiosk default is the embedded sqlite journal.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		return nil, err
	}
	return db, nil
}

type JournalRepository struct{ db *sql.DB }

func NewJournalRepository(db *sql.DB) *JournalRepository { return &JournalRepository{db: db} }

func (r *JournalRepository) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS scan_journal (
  id           TEXT PRIMARY KEY,
  moderator_id TEXT NOT NULL,
  code         TEXT NOT NULL,
  status       TEXT NOT NULL,
  message      TEXT NOT NULL,
  synthetic    BOOLEAN NOT NULL DEFAULT FALSE,
  detail_json  JSONB,
  submitted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_journal_moderator
  ON scan_journal (moderator_id, submitted_at DESC);`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

func (r *JournalRepository) Append(ctx context.Context, e *ticket.HistoryEntry) error {
	const q = `
INSERT INTO scan_journal
(id, moderator_id, code, status, message, synthetic, detail_json, submitted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING;`

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var detail sql.NullString
	if e.Outcome.Detail != nil {
		raw, err := json.Marshal(e.Outcome.Detail)
		if err != nil {
			return err
		}
		detail = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.ModeratorID, string(e.Code),
		string(e.Outcome.Status), e.Outcome.Message, e.Outcome.Synthetic,
		detail, e.SubmittedAt,
	)
	return err
}

func (r *JournalRepository) Recent(ctx context.Context, moderatorID string, limit int) ([]ticket.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, moderator_id, code, status, message, synthetic, detail_json, submitted_at
FROM scan_journal
WHERE moderator_id = $1
ORDER BY submitted_at DESC
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, moderatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ticket.HistoryEntry
	for rows.Next() {
		var (
			e      ticket.HistoryEntry
			code   string
			status string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ModeratorID, &code, &status, &e.Outcome.Message, &e.Outcome.Synthetic, &detail, &e.SubmittedAt); err != nil {
			return nil, err
		}
		e.Code = ticket.Code(code)
		e.Outcome.Status = ticket.Status(status)
		if detail.Valid && detail.String != "" {
			var d ticket.VerificationDetail
			if err := json.Unmarshal([]byte(detail.String), &d); err != nil {
				return nil, err
			}
			e.Outcome.Detail = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *JournalRepository) Totals(ctx context.Context, moderatorID string, since time.Time) (ticket.Stats, error) {
	const q = `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status = 'valid'   THEN 1 ELSE 0 END),0),
       COALESCE(SUM(CASE WHEN status = 'used'    THEN 1 ELSE 0 END),0),
       COALESCE(SUM(CASE WHEN status = 'invalid' THEN 1 ELSE 0 END),0)
FROM scan_journal
WHERE moderator_id = $1 AND submitted_at >= $2;`
	var s ticket.Stats
	err := r.db.QueryRowContext(ctx, q, moderatorID, since).
		Scan(&s.TotalScanned, &s.Valid, &s.Used, &s.Invalid)
	return s, err
}
