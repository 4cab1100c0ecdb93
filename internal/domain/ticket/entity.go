package ticket

import (
	"strings"
	"time"
)

// Code is a normalized ticket code: uppercase, no surrounding whitespace.
type Code string

// Normalize maps operator-typed or decoded input to a Code.
func Normalize(raw string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(raw)))
}

// Status enum returned by the verification backend.
type Status string

const (
	StatusValid   Status = "valid"
	StatusUsed    Status = "used"
	StatusInvalid Status = "invalid"
)

// Buyer identifies who purchased the ticket.
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EventInfo identifies the event a ticket belongs to.
type EventInfo struct {
	Title    string    `json:"title"`
	Date     time.Time `json:"date"`
	Time     string    `json:"time"`
	Location string    `json:"location"`
}

// VerificationDetail is the structured payload the backend attaches to an
// outcome. All fields are optional on the wire.
type VerificationDetail struct {
	Buyer        *Buyer     `json:"buyer,omitempty"`
	Event        *EventInfo `json:"event,omitempty"`
	Seats        int        `json:"seats,omitempty"`
	PurchaseDate time.Time  `json:"purchaseDate,omitempty"`
	ScanTime     time.Time  `json:"scanTime,omitempty"`
	ScannedBy    string     `json:"scannedBy,omitempty"`
}

// Outcome is the result of one submission. Synthetic is set when the outcome
// was produced locally because the backend was unreachable or returned
// garbage; those are surfaced as invalid and never retried.
type Outcome struct {
	Status    Status              `json:"status"`
	Message   string              `json:"message"`
	Detail    *VerificationDetail `json:"verificationResult,omitempty"`
	Synthetic bool                `json:"synthetic,omitempty"`
}

// AttemptResult classifies one extraction cycle.
type AttemptResult string

const (
	AttemptNoCode    AttemptResult = "no-code-found"
	AttemptDuplicate AttemptResult = "duplicate-of-last"
	AttemptPending   AttemptResult = "pending-confirmation"
	AttemptSubmitted AttemptResult = "submitted"
)

// ScanAttempt records a single capture/extract cycle. Transient: only the
// most recent attempt is kept by the workflow.
type ScanAttempt struct {
	ID             string        `json:"id"`
	RecognizedText string        `json:"recognizedText,omitempty"`
	Code           Code          `json:"code,omitempty"`
	At             time.Time     `json:"at"`
	Result         AttemptResult `json:"result"`
}

// HistoryEntry pairs a submitted code with its outcome.
type HistoryEntry struct {
	ID          string    `json:"id"`
	ModeratorID string    `json:"moderatorId,omitempty"`
	Code        Code      `json:"code"`
	Outcome     Outcome   `json:"outcome"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Stats are the running counters shown on the kiosk. Total is incremented for
// every submission, including synthetic failures.
type Stats struct {
	TotalScanned int `json:"totalScanned"`
	Valid        int `json:"validTickets"`
	Used         int `json:"usedTickets"`
	Invalid      int `json:"invalidTickets"`
}

// Record counts one outcome.
func (s *Stats) Record(st Status) {
	s.TotalScanned++
	switch st {
	case StatusValid:
		s.Valid++
	case StatusUsed:
		s.Used++
	case StatusInvalid:
		s.Invalid++
	}
}

// History is a most-recent-first bounded list of entries. Not safe for
// concurrent use; the owning workflow serializes access.
type History struct {
	limit   int
	entries []HistoryEntry
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 20
	}
	return &History{limit: limit}
}

// Add prepends an entry, evicting the oldest when over the cap.
func (h *History) Add(e HistoryEntry) {
	h.entries = append([]HistoryEntry{e}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
}

// Snapshot returns up to limit entries, most recent first. limit <= 0 means
// everything retained.
func (h *History) Snapshot(limit int) []HistoryEntry {
	n := len(h.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]HistoryEntry, n)
	copy(out, h.entries[:n])
	return out
}

func (h *History) Len() int { return len(h.entries) }
