package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatescan/internal/domain/session"
	"gatescan/internal/domain/ticket"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func sampleInput() Input {
	scanned := time.Date(2026, 5, 1, 10, 31, 0, 0, time.UTC)
	return Input{
		Moderator: session.Moderator{ID: "mod-1", Name: "Gate A"},
		Event:     &ticket.EventInfo{Title: "Spring Gala", Location: "Main Hall"},
		Stats:     ticket.Stats{TotalScanned: 2, Valid: 1, Invalid: 1},
		History: []ticket.HistoryEntry{
			{
				Code: "AB12CD34EF",
				Outcome: ticket.Outcome{
					Status:  ticket.StatusValid,
					Message: "Ticket valid",
					Detail: &ticket.VerificationDetail{
						Buyer:     &ticket.Buyer{Name: "Ada, Countess", Email: "ada@example.com"},
						Event:     &ticket.EventInfo{Title: "Spring Gala", Time: "19:00", Location: "Main Hall"},
						ScanTime:  scanned,
						ScannedBy: "Gate A",
					},
				},
				SubmittedAt: scanned,
			},
			{
				Code:        "99887766",
				Outcome:     ticket.Outcome{Status: ticket.StatusInvalid, Message: "Network error", Synthetic: true},
				SubmittedAt: scanned.Add(time.Minute),
			},
		},
	}
}

func newTestExporter() *Exporter {
	return NewExporter(fixedClock{t: time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)})
}

func TestFilename(t *testing.T) {
	e := newTestExporter()
	name := e.Filename(FormatCSV)
	assert.True(t, strings.HasPrefix(name, "Scan_Logs_2026-05-01_"), name)
	assert.True(t, strings.HasSuffix(name, ".csv"), name)
	assert.True(t, strings.HasSuffix(e.Filename(FormatJSON), ".json"))
}

func TestCSVSections(t *testing.T) {
	out := string(newTestExporter().CSV(sampleInput()))

	assert.Contains(t, out, "SCAN SUMMARY REPORT")
	assert.Contains(t, out, "STATISTICS")
	assert.Contains(t, out, "DETAILED SCAN HISTORY")
	assert.Contains(t, out, "Moderator:,Gate A")
	assert.Contains(t, out, "Event:,Spring Gala")
	assert.Contains(t, out, "Total Scanned:,2")
	assert.Contains(t, out, "Valid Tickets:,1")
	assert.Contains(t, out, "Invalid Tickets:,1")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	var header string
	var rows []string
	for i, l := range lines {
		if strings.HasPrefix(l, "Ticket Code,") {
			header = l
			rows = lines[i+1:]
			break
		}
	}
	require.NotEmpty(t, header)
	assert.Len(t, strings.Split(header, ","), 11)
	require.Len(t, rows, 2)

	// A comma inside a cell gets quoted, so the column count holds.
	assert.Contains(t, rows[0], `"Ada, Countess"`)
	assert.Contains(t, rows[0], "VALID")

	// Missing detail fields render N/A, scan time falls back to the entry
	// timestamp, scanned-by falls back to the moderator.
	assert.Contains(t, rows[1], "99887766,INVALID,N/A,N/A")
	assert.Contains(t, rows[1], "2026-05-01 10:32:00")
	assert.Contains(t, rows[1], "Gate A")
}

func TestJSONDocument(t *testing.T) {
	data, err := newTestExporter().JSON(sampleInput())
	require.NoError(t, err)

	var doc struct {
		GeneratedAt time.Time             `json:"generatedAt"`
		Moderator   session.Moderator     `json:"moderator"`
		Stats       ticket.Stats          `json:"stats"`
		History     []ticket.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "mod-1", doc.Moderator.ID)
	assert.Equal(t, 2, doc.Stats.TotalScanned)
	require.Len(t, doc.History, 2)
	assert.True(t, doc.History[1].Outcome.Synthetic)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", ContentType(FormatJSON))
	assert.Equal(t, "text/csv; charset=utf-8", ContentType(FormatCSV))
}
