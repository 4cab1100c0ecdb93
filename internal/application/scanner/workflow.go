package scanner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatescan/internal/application"
	"gatescan/internal/domain/capture"
	"gatescan/internal/domain/extract"
	"gatescan/internal/domain/ocr"
	"gatescan/internal/domain/session"
	"gatescan/internal/domain/ticket"
	"gatescan/internal/domain/verify"
	"gatescan/internal/monitoring"
)

// State of the scan workflow.
type State string

const (
	StateIdle                 State = "idle"
	StateCapturing            State = "capturing"
	StateExtracting           State = "extracting"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateSubmitting           State = "submitting"
	StateShowingResult        State = "showing-result"
)

var (
	// ErrNoSession: scanning requires a logged-in moderator.
	ErrNoSession = errors.New("no moderator session")
	// ErrBusy: an extraction or submission is in flight.
	ErrBusy = errors.New("workflow is busy")
	// ErrNotAwaiting: confirm/reject arrived but no candidate is pending.
	ErrNotAwaiting = errors.New("no candidate awaiting confirmation")
	// ErrEmptyCode: manual entry normalized to nothing.
	ErrEmptyCode = errors.New("empty ticket code")
)

// Config tunes one workflow instance. The old kiosk screens were five
// near-identical copies differing only in these knobs.
type Config struct {
	PollInterval        time.Duration // extraction tick period
	RequireConfirmation bool          // gate camera candidates behind the operator
	ResultDisplay       time.Duration // how long an outcome stays on screen
	HistoryLimit        int           // in-memory ring size
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.ResultDisplay <= 0 {
		c.ResultDisplay = 3 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	return c
}

// Candidate is an extracted code held for operator confirmation.
type Candidate struct {
	Code ticket.Code `json:"code"`
	Text string      `json:"recognizedText"`
	At   time.Time   `json:"at"`
}

// Workflow owns the scan-confirm-submit state machine. All state is guarded
// by mu; the periodic tick, operator HTTP calls and the result-display timer
// land on different goroutines. A tick that arrives while the workflow is
// anywhere past Capturing is dropped, never queued.
type Workflow struct {
	cfg        Config
	source     capture.Source
	recognizer ocr.Recognizer
	verifier   verify.Client
	journal    ticket.Journal // optional
	clock      application.Clock

	mu            sync.Mutex
	gen           uint64 // bumped on start/stop; stale async work checks it
	state         State
	running       bool
	stopCh        chan struct{}
	cancelRun     context.CancelFunc
	sess          *session.Session
	pending       *Candidate
	lastAttempt   *ticket.ScanAttempt
	lastOutcome   *ticket.Outcome
	lastCode      ticket.Code
	lastSubmitted ticket.Code // duplicate-suppression token
	eventInfo     *ticket.EventInfo
	stats         ticket.Stats
	history       *ticket.History
	resultTimer   *time.Timer
}

func New(source capture.Source, recognizer ocr.Recognizer, verifier verify.Client, journal ticket.Journal, clock application.Clock, cfg Config) *Workflow {
	cfg = cfg.withDefaults()
	return &Workflow{
		cfg:        cfg,
		source:     source,
		recognizer: recognizer,
		verifier:   verifier,
		journal:    journal,
		clock:      clock,
		state:      StateIdle,
		history:    ticket.NewHistory(cfg.HistoryLimit),
	}
}

// Attach installs the moderator session the workflow submits on behalf of.
func (w *Workflow) Attach(sess *session.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sess = sess
}

// Detach stops any capture session and forgets the moderator along with their
// counters and history.
func (w *Workflow) Detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.sess = nil
	w.stats = ticket.Stats{}
	w.history = ticket.NewHistory(w.cfg.HistoryLimit)
	w.eventInfo = nil
	w.lastAttempt = nil
}

// Seed pulls today's counters and the recent scan list from the backend so a
// restarted kiosk does not start from zero. Failures are logged and ignored.
func (w *Workflow) Seed(ctx context.Context) {
	w.mu.Lock()
	sess := w.sess
	w.mu.Unlock()
	if sess == nil {
		return
	}

	stats, err := w.verifier.TodayStats(ctx, sess)
	if err != nil {
		log.Printf("seed stats: %v", err)
		if w.journal != nil {
			now := w.clock.Now()
			midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			if totals, jerr := w.journal.Totals(ctx, sess.Moderator.ID, midnight); jerr == nil {
				stats, err = totals, nil
			} else {
				log.Printf("seed journal totals: %v", jerr)
			}
		}
	}
	recent, rerr := w.verifier.RecentScans(ctx, sess)
	if rerr != nil {
		log.Printf("seed recent scans: %v", rerr)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess != sess {
		return
	}
	if err == nil {
		w.stats = stats
	}
	if rerr == nil {
		// Backend returns most recent first; replay oldest first so the ring
		// ends up in the same order.
		h := ticket.NewHistory(w.cfg.HistoryLimit)
		for i := len(recent) - 1; i >= 0; i-- {
			h.Add(recent[i])
		}
		w.history = h
		for _, e := range recent {
			if w.eventInfo == nil && e.Outcome.Detail != nil && e.Outcome.Detail.Event != nil {
				w.eventInfo = e.Outcome.Detail.Event
			}
		}
	}
}

// Start acquires the capture source and arms the periodic extraction tick.
// Any previous capture session is torn down first. On acquisition failure the
// workflow stays Idle and the error wraps capture.ErrUnavailable.
//
// ctx covers only the synchronous source acquisition. The tick loop outlives
// the caller (start requests come from short-lived HTTP handlers) and runs on
// a workflow-owned context cancelled by Stop.
func (w *Workflow) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sess == nil {
		return ErrNoSession
	}
	w.stopLocked()

	if err := w.source.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancelRun = cancel
	w.gen++
	w.running = true
	w.state = StateCapturing
	w.stopCh = make(chan struct{})
	go w.loop(runCtx, w.stopCh)
	return nil
}

// Stop tears down the capture session and returns the workflow to Idle. The
// capture source is always released; an in-flight verification is abandoned,
// not cancelled.
func (w *Workflow) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Workflow) stopLocked() {
	w.gen++
	if w.cancelRun != nil {
		w.cancelRun()
		w.cancelRun = nil
	}
	if w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
	if w.resultTimer != nil {
		w.resultTimer.Stop()
		w.resultTimer = nil
	}
	if err := w.source.Stop(); err != nil {
		log.Printf("capture stop: %v", err)
	}
	w.running = false
	w.pending = nil
	w.lastOutcome = nil
	w.lastCode = ""
	w.lastSubmitted = ""
	w.state = StateIdle
}

func (w *Workflow) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Only stopLocked cancels the run context; teardown already ran.
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick is the only autonomous trigger: grab one frame, run OCR, run the
// extractor, and decide. Reentrancy guard: anything but Capturing drops the
// tick on the floor.
func (w *Workflow) tick(ctx context.Context) {
	w.mu.Lock()
	if w.state != StateCapturing {
		w.mu.Unlock()
		monitoring.TickDropped()
		return
	}
	gen := w.gen
	w.state = StateExtracting
	w.mu.Unlock()

	text, err := w.grabAndRecognize(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen || w.state != StateExtracting {
		return // stopped while we were out
	}

	attempt := &ticket.ScanAttempt{
		ID:             uuid.New().String(),
		RecognizedText: text,
		At:             w.clock.Now(),
	}

	if err != nil {
		if !errors.Is(err, capture.ErrNoFrame) {
			log.Printf("extraction cycle: %v", err)
		}
		w.finishAttempt(attempt, ticket.AttemptNoCode)
		return
	}

	code, ok := extract.FromText(text)
	switch {
	case !ok:
		w.finishAttempt(attempt, ticket.AttemptNoCode)
	case code == w.lastSubmitted && w.lastSubmitted != "":
		attempt.Code = code
		w.finishAttempt(attempt, ticket.AttemptDuplicate)
	case w.cfg.RequireConfirmation:
		attempt.Code = code
		w.pending = &Candidate{Code: code, Text: text, At: attempt.At}
		w.lastAttempt = attempt
		attempt.Result = ticket.AttemptPending
		monitoring.Attempt(string(ticket.AttemptPending))
		w.state = StateAwaitingConfirmation
	default:
		attempt.Code = code
		attempt.Result = ticket.AttemptSubmitted
		monitoring.Attempt(string(ticket.AttemptSubmitted))
		w.lastAttempt = attempt
		w.submitLocked(ctx, code, false)
	}
}

func (w *Workflow) finishAttempt(a *ticket.ScanAttempt, result ticket.AttemptResult) {
	a.Result = result
	w.lastAttempt = a
	monitoring.Attempt(string(result))
	w.state = StateCapturing
}

func (w *Workflow) grabAndRecognize(ctx context.Context) (string, error) {
	frame, err := w.source.Grab(ctx)
	if err != nil {
		return "", err
	}
	return w.recognizer.Recognize(ctx, frame)
}

// Confirm submits the pending candidate.
func (w *Workflow) Confirm(ctx context.Context) (*ticket.Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateAwaitingConfirmation || w.pending == nil {
		return nil, ErrNotAwaiting
	}
	code := w.pending.Code
	w.pending = nil
	return w.submitLocked(ctx, code, false), nil
}

// Reject discards the pending candidate and resumes capturing. The rejected
// code is deliberately not added to the suppression window, so the very next
// frame may re-detect it.
func (w *Workflow) Reject() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateAwaitingConfirmation {
		return ErrNotAwaiting
	}
	w.pending = nil
	w.state = StateCapturing
	return nil
}

// SubmitManual bypasses capture and extraction: the typed text is normalized
// and submitted directly. The workflow returns to its prior state immediately
// after the outcome, with no display hold.
func (w *Workflow) SubmitManual(ctx context.Context, raw string) (*ticket.Outcome, error) {
	code := ticket.Normalize(raw)
	if code == "" {
		return nil, ErrEmptyCode
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess == nil {
		return nil, ErrNoSession
	}
	switch w.state {
	case StateExtracting, StateSubmitting, StateAwaitingConfirmation:
		return nil, ErrBusy
	}
	return w.submitLocked(ctx, code, true), nil
}

// submitLocked issues exactly one verification request for code and records
// exactly one history entry, whether the backend answers or not. Called with
// mu held; temporarily releases it around the network call. While the call is
// in flight the state is Submitting, so concurrent ticks are dropped.
func (w *Workflow) submitLocked(ctx context.Context, code ticket.Code, manual bool) *ticket.Outcome {
	prior := w.state
	if manual {
		// A manual submission ends any result-display window early so the
		// workflow never restores a state whose timer has already fired.
		if prior == StateShowingResult {
			if w.resultTimer != nil {
				w.resultTimer.Stop()
				w.resultTimer = nil
			}
			w.lastSubmitted = ""
		}
		if w.running {
			prior = StateCapturing
		} else {
			prior = StateIdle
		}
	}
	w.state = StateSubmitting
	gen := w.gen
	sess := w.sess
	w.mu.Unlock()

	started := w.clock.Now()
	outcome, err := w.verifier.Verify(ctx, sess, code)
	if err != nil {
		outcome = syntheticOutcome(err)
	}
	monitoring.SubmissionDuration(w.clock.Now().Sub(started))

	w.mu.Lock()

	// The submission happened, so it is counted and journaled even if the
	// workflow was stopped while we were out.
	entry := ticket.HistoryEntry{
		ID:          uuid.New().String(),
		Code:        code,
		Outcome:     *outcome,
		SubmittedAt: w.clock.Now(),
	}
	if sess != nil {
		entry.ModeratorID = sess.Moderator.ID
	}
	w.stats.Record(outcome.Status)
	w.history.Add(entry)
	monitoring.ScanOutcome(string(outcome.Status), outcome.Synthetic)
	if w.journal != nil {
		if jerr := w.journal.Append(context.Background(), &entry); jerr != nil {
			log.Printf("journal append: %v", jerr)
		}
	}
	if w.eventInfo == nil && outcome.Detail != nil && outcome.Detail.Event != nil {
		w.eventInfo = outcome.Detail.Event
	}

	if w.gen != gen {
		return outcome // stopped mid-flight; state already reset
	}

	w.lastOutcome = outcome
	w.lastCode = code

	if manual {
		w.state = prior
		return outcome
	}

	w.lastSubmitted = code
	w.state = StateShowingResult
	w.resultTimer = time.AfterFunc(w.cfg.ResultDisplay, func() { w.finishDisplay(gen) })
	return outcome
}

// finishDisplay ends the result-display window: the outcome and the
// duplicate-suppression token are cleared and capturing resumes.
func (w *Workflow) finishDisplay(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen || w.state != StateShowingResult {
		return
	}
	w.lastOutcome = nil
	w.lastCode = ""
	w.lastSubmitted = ""
	w.resultTimer = nil
	w.state = StateCapturing
}

func syntheticOutcome(err error) *ticket.Outcome {
	msg := "Server Error"
	if errors.Is(err, verify.ErrUnreachable) {
		msg = "Network error"
	}
	return &ticket.Outcome{
		Status:    ticket.StatusInvalid,
		Message:   msg,
		Synthetic: true,
	}
}

// Snapshot is the operator-facing view of the workflow.
type Snapshot struct {
	State       State               `json:"state"`
	Moderator   *session.Moderator  `json:"moderator,omitempty"`
	Pending     *Candidate          `json:"pending,omitempty"`
	LastAttempt *ticket.ScanAttempt `json:"lastAttempt,omitempty"`
	LastCode    ticket.Code         `json:"lastCode,omitempty"`
	LastOutcome *ticket.Outcome     `json:"lastOutcome,omitempty"`
	Event       *ticket.EventInfo   `json:"event,omitempty"`
	Stats       ticket.Stats        `json:"stats"`
}

func (w *Workflow) Status() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := Snapshot{
		State:       w.state,
		Pending:     w.pending,
		LastAttempt: w.lastAttempt,
		LastCode:    w.lastCode,
		LastOutcome: w.lastOutcome,
		Event:       w.eventInfo,
		Stats:       w.stats,
	}
	if w.sess != nil {
		m := w.sess.Moderator
		snap.Moderator = &m
	}
	return snap
}

func (w *Workflow) Stats() ticket.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Workflow) History(limit int) []ticket.HistoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.history.Snapshot(limit)
}

// journalFetchLimit bounds unbounded history reads served from the journal.
const journalFetchLimit = 1000

// RecentHistory serves history and export reads that may want more than the
// in-memory ring retains. When the ring cannot satisfy the request, the
// durable journal is consulted and wins if it remembers more; on journal
// failure the ring is returned as-is.
func (w *Workflow) RecentHistory(ctx context.Context, limit int) []ticket.HistoryEntry {
	w.mu.Lock()
	ring := w.history.Snapshot(limit)
	var moderatorID string
	if w.sess != nil {
		moderatorID = w.sess.Moderator.ID
	}
	w.mu.Unlock()

	if w.journal == nil || moderatorID == "" || (limit > 0 && len(ring) >= limit) {
		return ring
	}
	fetch := limit
	if fetch <= 0 {
		fetch = journalFetchLimit
	}
	entries, err := w.journal.Recent(ctx, moderatorID, fetch)
	if err != nil {
		log.Printf("journal recent: %v", err)
		return ring
	}
	if len(entries) <= len(ring) {
		return ring
	}
	return entries
}

func (w *Workflow) Event() *ticket.EventInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.eventInfo
}
