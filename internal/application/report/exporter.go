package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gatescan/internal/application"
	"gatescan/internal/domain/session"
	"gatescan/internal/domain/ticket"
)

// Format of an export artifact.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Exporter renders the in-memory scan history and counters into a
// downloadable artifact. It is a convenience, not a system of record; the
// journal is the durable copy.
type Exporter struct {
	Clock application.Clock
}

func NewExporter(clock application.Clock) *Exporter {
	return &Exporter{Clock: clock}
}

// Input gathers everything an export needs.
type Input struct {
	Moderator session.Moderator
	Event     *ticket.EventInfo
	Stats     ticket.Stats
	History   []ticket.HistoryEntry
}

// Filename returns the download name for an artifact generated now.
func (e *Exporter) Filename(f Format) string {
	now := e.Clock.Now()
	return fmt.Sprintf("Scan_Logs_%s_%d.%s", now.Format("2006-01-02"), now.UnixMilli(), f)
}

// ContentType for a format.
func ContentType(f Format) string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// CSV renders the three-section report: summary, statistics, detailed
// history. Layout and column set follow the report the kiosk has always
// produced, so downstream spreadsheets keep working.
func (e *Exporter) CSV(in Input) []byte {
	var b strings.Builder

	b.WriteString("SCAN SUMMARY REPORT\n\n")
	fmt.Fprintf(&b, "Report Generated:,%s\n", e.Clock.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Moderator:,%s\n", orNA(in.Moderator.Name))
	eventTitle := ""
	if in.Event != nil {
		eventTitle = in.Event.Title
	}
	fmt.Fprintf(&b, "Event:,%s\n\n", orNA(eventTitle))

	b.WriteString("STATISTICS\n")
	fmt.Fprintf(&b, "Total Scanned:,%d\n", in.Stats.TotalScanned)
	fmt.Fprintf(&b, "Valid Tickets:,%d\n", in.Stats.Valid)
	fmt.Fprintf(&b, "Already Used:,%d\n", in.Stats.Used)
	fmt.Fprintf(&b, "Invalid Tickets:,%d\n\n", in.Stats.Invalid)

	b.WriteString("DETAILED SCAN HISTORY\n")
	b.WriteString("Ticket Code,Status,Buyer Name,Buyer Email,Event Title,Event Date,Event Time,Event Location,Purchase Date,Scan Time,Scanned By\n")

	for _, entry := range in.History {
		d := entry.Outcome.Detail
		var buyerName, buyerEmail, evTitle, evDate, evTime, evLocation, purchase, scanTime, scannedBy string
		if d != nil {
			if d.Buyer != nil {
				buyerName = d.Buyer.Name
				buyerEmail = d.Buyer.Email
			}
			if d.Event != nil {
				evTitle = d.Event.Title
				if !d.Event.Date.IsZero() {
					evDate = d.Event.Date.Format("2006-01-02")
				}
				evTime = d.Event.Time
				evLocation = d.Event.Location
			}
			if !d.PurchaseDate.IsZero() {
				purchase = d.PurchaseDate.Format("2006-01-02")
			}
			if !d.ScanTime.IsZero() {
				scanTime = d.ScanTime.Format("2006-01-02 15:04:05")
			}
			scannedBy = d.ScannedBy
		}
		if scanTime == "" {
			scanTime = entry.SubmittedAt.Format("2006-01-02 15:04:05")
		}
		if scannedBy == "" {
			scannedBy = in.Moderator.Name
		}

		row := []string{
			cleanValue(string(entry.Code)),
			cleanValue(strings.ToUpper(string(entry.Outcome.Status))),
			cleanValue(buyerName),
			cleanValue(buyerEmail),
			cleanValue(evTitle),
			cleanValue(evDate),
			cleanValue(evTime),
			cleanValue(evLocation),
			cleanValue(purchase),
			cleanValue(scanTime),
			cleanValue(scannedBy),
		}
		b.WriteString(strings.Join(row, ","))
		b.WriteByte('\n')
	}

	return []byte(b.String())
}

// JSON renders the same content as a single document.
func (e *Exporter) JSON(in Input) ([]byte, error) {
	doc := struct {
		GeneratedAt time.Time             `json:"generatedAt"`
		Moderator   session.Moderator     `json:"moderator"`
		Event       *ticket.EventInfo     `json:"event,omitempty"`
		Stats       ticket.Stats          `json:"stats"`
		History     []ticket.HistoryEntry `json:"history"`
	}{
		GeneratedAt: e.Clock.Now(),
		Moderator:   in.Moderator,
		Event:       in.Event,
		Stats:       in.Stats,
		History:     in.History,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// cleanValue quotes a CSV cell when it contains a comma, quote or newline and
// substitutes N/A for empty values.
func cleanValue(v string) string {
	if v == "" {
		return "N/A"
	}
	if strings.ContainsAny(v, ",\"\n") {
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	}
	return v
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}
