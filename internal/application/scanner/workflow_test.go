package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatescan/internal/domain/capture"
	"gatescan/internal/domain/session"
	"gatescan/internal/domain/ticket"
	"gatescan/internal/domain/verify"
)

type fakeSource struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
	grabErr  error
}

func (f *fakeSource) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeSource) Grab(ctx context.Context) (*capture.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grabErr != nil {
		return nil, f.grabErr
	}
	return &capture.Frame{Data: []byte("frame"), ContentType: "image/jpeg"}, nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeSource) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeRecognizer struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, frame *capture.Frame) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeVerifier struct {
	mu       sync.Mutex
	outcome  *ticket.Outcome
	err      error
	stats    ticket.Stats
	statsErr error
	calls    []ticket.Code
}

func (f *fakeVerifier) Login(ctx context.Context, email, password string) (*session.Session, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeVerifier) Verify(ctx context.Context, sess *session.Session, code ticket.Code) (*ticket.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, code)
	if f.err != nil {
		return nil, f.err
	}
	out := *f.outcome
	return &out, nil
}

func (f *fakeVerifier) TodayStats(ctx context.Context, sess *session.Session) (ticket.Stats, error) {
	return f.stats, f.statsErr
}

func (f *fakeVerifier) RecentScans(ctx context.Context, sess *session.Session) ([]ticket.HistoryEntry, error) {
	return nil, nil
}

func (f *fakeVerifier) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeJournal struct {
	mu        sync.Mutex
	entries   []ticket.HistoryEntry
	recent    []ticket.HistoryEntry
	recentErr error
	totals    ticket.Stats
	totalsErr error
}

func (f *fakeJournal) Append(ctx context.Context, e *ticket.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeJournal) Recent(ctx context.Context, moderatorID string, limit int) ([]ticket.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if limit > 0 && limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeJournal) Totals(ctx context.Context, moderatorID string, since time.Time) (ticket.Stats, error) {
	return f.totals, f.totalsErr
}

func (f *fakeJournal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testSession() *session.Session {
	return &session.Session{
		Token:     "tok-123",
		Moderator: session.Moderator{ID: "mod-1", Name: "Gate A", Email: "gate-a@example.com"},
	}
}

// newTestWorkflow uses a poll interval long enough that the background loop
// never fires during a test; ticks are driven by hand.
func newTestWorkflow(t *testing.T, src *fakeSource, rec *fakeRecognizer, ver *fakeVerifier, j *fakeJournal, cfg Config) *Workflow {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.ResultDisplay == 0 {
		cfg.ResultDisplay = time.Hour
	}
	var journal ticket.Journal
	if j != nil {
		journal = j
	}
	w := New(src, rec, ver, journal, fixedClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}, cfg)
	t.Cleanup(w.Stop)
	return w
}

func TestStartRequiresSession(t *testing.T) {
	w := newTestWorkflow(t, &fakeSource{}, &fakeRecognizer{}, &fakeVerifier{}, nil, Config{})
	err := w.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, StateIdle, w.Status().State)
}

func TestStartSourceFailureStaysIdle(t *testing.T) {
	src := &fakeSource{startErr: capture.ErrUnavailable}
	w := newTestWorkflow(t, src, &fakeRecognizer{}, &fakeVerifier{}, nil, Config{})
	w.Attach(testSession())

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, capture.ErrUnavailable)
	assert.Equal(t, StateIdle, w.Status().State)
}

func TestStopAlwaysReleasesCapture(t *testing.T) {
	src := &fakeSource{}
	w := newTestWorkflow(t, src, &fakeRecognizer{}, &fakeVerifier{}, nil, Config{})
	w.Attach(testSession())

	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, StateCapturing, w.Status().State)

	w.Stop()
	assert.Equal(t, StateIdle, w.Status().State)
	assert.Greater(t, src.stopCount(), 0)

	// Stop twice is safe.
	w.Stop()
}

func TestTickNoCodeFound(t *testing.T) {
	rec := &fakeRecognizer{text: "WELCOME TO THE VENUE"}
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid}}
	w := newTestWorkflow(t, &fakeSource{}, rec, ver, nil, Config{})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))

	w.tick(context.Background())

	snap := w.Status()
	assert.Equal(t, StateCapturing, snap.State)
	require.NotNil(t, snap.LastAttempt)
	assert.Equal(t, ticket.AttemptNoCode, snap.LastAttempt.Result)
	assert.Zero(t, ver.verifyCount())
}

func TestTickGrabMissIsNotFatal(t *testing.T) {
	src := &fakeSource{grabErr: capture.ErrNoFrame}
	w := newTestWorkflow(t, src, &fakeRecognizer{}, &fakeVerifier{}, nil, Config{})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))

	w.tick(context.Background())

	snap := w.Status()
	assert.Equal(t, StateCapturing, snap.State)
	require.NotNil(t, snap.LastAttempt)
	assert.Equal(t, ticket.AttemptNoCode, snap.LastAttempt.Result)
}

func TestTickSubmitsExtractedCode(t *testing.T) {
	rec := &fakeRecognizer{text: "GATE CODE AB12CD34EF THANKS"}
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid, Message: "Ticket valid"}}
	j := &fakeJournal{}
	w := newTestWorkflow(t, &fakeSource{}, rec, ver, j, Config{})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))

	w.tick(context.Background())

	snap := w.Status()
	assert.Equal(t, StateShowingResult, snap.State)
	assert.Equal(t, ticket.Code("AB12CD34EF"), snap.LastCode)
	require.NotNil(t, snap.LastOutcome)
	assert.Equal(t, ticket.StatusValid, snap.LastOutcome.Status)

	assert.Equal(t, 1, ver.verifyCount())
	assert.Equal(t, 1, j.count())
	assert.Equal(t, 1, snap.Stats.TotalScanned)
	assert.Equal(t, 1, snap.Stats.Valid)

	hist := w.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, ticket.Code("AB12CD34EF"), hist[0].Code)
	assert.Equal(t, "mod-1", hist[0].ModeratorID)
}

func TestDuplicateSuppressionWithinDisplayWindow(t *testing.T) {
	rec := &fakeRecognizer{text: "AB12CD34EF"}
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid}}
	w := newTestWorkflow(t, &fakeSource{}, rec, ver, nil, Config{})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))

	w.tick(context.Background())
	require.Equal(t, 1, ver.verifyCount())

	// The result-display window ends and capture resumes; the same code on
	// the next frame is suppressed only while the window is open, so force
	// the state back to capturing without clearing the token first.
	w.mu.Lock()
	w.state = StateCapturing
	w.mu.Unlock()

	w.tick(context.Background())
	assert.Equal(t, 1, ver.verifyCount(), "identical code must not resubmit inside the window")

	snap := w.Status()
	require.NotNil(t, snap.LastAttempt)
	assert.Equal(t, ticket.AttemptDuplicate, snap.LastAttempt.Result)

	// After the window closes the token is cleared and the code goes through
	// again.
	w.mu.Lock()
	gen := w.gen
	w.state = StateShowingResult
	w.mu.Unlock()
	w.finishDisplay(gen)

	w.tick(context.Background())
	assert.Equal(t, 2, ver.verifyCount())
}

func TestTickWhileBusyIsDropped(t *testing.T) {
	rec := &fakeRecognizer{text: "AB12CD34EF"}
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid}}
	w := newTestWorkflow(t, &fakeSource{}, rec, ver, nil, Config{})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))

	w.mu.Lock()
	w.state = StateSubmitting
	w.mu.Unlock()

	w.tick(context.Background())
	assert.Zero(t, rec.callCount(), "busy tick must not touch the camera")
	assert.Zero(t, ver.verifyCount())
}

func TestConfirmationGate(t *testing.T) {
	rec := &fakeRecognizer{text: "AB12CD34EF"}
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusUsed, Message: "Already used"}}
	w := newTestWorkflow(t, &fakeSource{}, rec, ver, nil, Config{RequireConfirmation: true})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))

	w.tick(context.Background())

	snap := w.Status()
	require.Equal(t, StateAwaitingConfirmation, snap.State)
	require.NotNil(t, snap.Pending)
	assert.Equal(t, ticket.Code("AB12CD34EF"), snap.Pending.Code)
	assert.Zero(t, ver.verifyCount(), "nothing submitted before confirmation")

	outcome, err := w.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusUsed, outcome.Status)
	assert.Equal(t, 1, ver.verifyCount())
}

func TestConfirmWithoutPending(t *testing.T) {
	w := newTestWorkflow(t, &fakeSource{}, &fakeRecognizer{}, &fakeVerifier{}, nil, Config{})
	_, err := w.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNotAwaiting)
	assert.ErrorIs(t, w.Reject(), ErrNotAwaiting)
}

func TestRejectedCandidateIsNotSuppressed(t *testing.T) {
	rec := &fakeRecognizer{text: "AB12CD34EF"}
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid}}
	w := newTestWorkflow(t, &fakeSource{}, rec, ver, nil, Config{RequireConfirmation: true})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))

	w.tick(context.Background())
	require.NoError(t, w.Reject())
	assert.Equal(t, StateCapturing, w.Status().State)

	// The very next frame may re-detect the same code.
	w.tick(context.Background())
	snap := w.Status()
	require.Equal(t, StateAwaitingConfirmation, snap.State)
	require.NotNil(t, snap.Pending)
	assert.Equal(t, ticket.Code("AB12CD34EF"), snap.Pending.Code)
}

func TestFailedSubmissionStillRecordsOneEntry(t *testing.T) {
	rec := &fakeRecognizer{text: "AB12CD34EF"}
	ver := &fakeVerifier{err: verify.ErrUnreachable}
	j := &fakeJournal{}
	w := newTestWorkflow(t, &fakeSource{}, rec, ver, j, Config{})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))

	w.tick(context.Background())

	assert.Equal(t, 1, ver.verifyCount())
	assert.Equal(t, 1, j.count())

	snap := w.Status()
	require.NotNil(t, snap.LastOutcome)
	assert.Equal(t, ticket.StatusInvalid, snap.LastOutcome.Status)
	assert.Equal(t, "Network error", snap.LastOutcome.Message)
	assert.True(t, snap.LastOutcome.Synthetic)
	assert.Equal(t, 1, snap.Stats.TotalScanned)
	assert.Equal(t, 1, snap.Stats.Invalid)
}

func TestBadResponseBecomesServerError(t *testing.T) {
	out, err := (&fakeVerifier{err: verify.ErrBadResponse}).Verify(context.Background(), testSession(), "X")
	require.Error(t, err)
	require.Nil(t, out)

	synth := syntheticOutcome(err)
	assert.Equal(t, "Server Error", synth.Message)
	assert.Equal(t, ticket.StatusInvalid, synth.Status)
	assert.True(t, synth.Synthetic)
}

func TestSubmitManualBypassesCapture(t *testing.T) {
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid, Message: "Ticket valid"}}
	j := &fakeJournal{}
	w := newTestWorkflow(t, &fakeSource{}, &fakeRecognizer{}, ver, j, Config{})
	w.Attach(testSession())

	// Works without any capture session and normalizes the typed code.
	outcome, err := w.SubmitManual(context.Background(), "  ab12cd34ef ")
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusValid, outcome.Status)
	require.Equal(t, 1, ver.verifyCount())

	// No display hold: the workflow returns to Idle immediately.
	assert.Equal(t, StateIdle, w.Status().State)
	assert.Equal(t, 1, j.count())

	hist := w.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, ticket.Code("AB12CD34EF"), hist[0].Code)
}

func TestSubmitManualReturnsToCapturing(t *testing.T) {
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid}}
	w := newTestWorkflow(t, &fakeSource{}, &fakeRecognizer{}, ver, nil, Config{})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))

	_, err := w.SubmitManual(context.Background(), "AB12CD34EF")
	require.NoError(t, err)
	assert.Equal(t, StateCapturing, w.Status().State)
}

func TestSubmitManualValidation(t *testing.T) {
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid}}
	w := newTestWorkflow(t, &fakeSource{}, &fakeRecognizer{}, ver, nil, Config{})

	_, err := w.SubmitManual(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyCode)

	_, err = w.SubmitManual(context.Background(), "AB12CD34EF")
	assert.ErrorIs(t, err, ErrNoSession)

	w.Attach(testSession())
	w.mu.Lock()
	w.state = StateSubmitting
	w.mu.Unlock()
	_, err = w.SubmitManual(context.Background(), "AB12CD34EF")
	assert.ErrorIs(t, err, ErrBusy)
}

func TestDetachForgetsModeratorState(t *testing.T) {
	rec := &fakeRecognizer{text: "AB12CD34EF"}
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid}}
	src := &fakeSource{}
	w := newTestWorkflow(t, src, rec, ver, nil, Config{})
	w.Attach(testSession())
	require.NoError(t, w.Start(context.Background()))
	w.tick(context.Background())
	require.Equal(t, 1, w.Stats().TotalScanned)

	w.Detach()

	snap := w.Status()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Moderator)
	assert.Zero(t, snap.Stats.TotalScanned)
	assert.Empty(t, w.History(0))
	assert.Greater(t, src.stopCount(), 0)
}

func TestStartOutlivesCallerContext(t *testing.T) {
	rec := &fakeRecognizer{text: "AB12CD34EF"}
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid}}
	w := newTestWorkflow(t, &fakeSource{}, rec, ver, nil, Config{PollInterval: 10 * time.Millisecond})
	w.Attach(testSession())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	// net/http cancels the request context as soon as the start handler
	// returns; the capture loop must keep ticking and submitting regardless.
	cancel()

	require.Eventually(t, func() bool { return ver.verifyCount() >= 1 },
		time.Second, 5*time.Millisecond, "loop died with the caller's context")
	assert.NotEqual(t, StateIdle, w.Status().State)
}

func TestRecentHistoryConsultsJournalBeyondRing(t *testing.T) {
	ver := &fakeVerifier{outcome: &ticket.Outcome{Status: ticket.StatusValid}}
	j := &fakeJournal{recent: []ticket.HistoryEntry{
		{ID: "j-1", Code: "CC333333", ModeratorID: "mod-1"},
		{ID: "j-2", Code: "BB222222", ModeratorID: "mod-1"},
		{ID: "j-3", Code: "AA111111", ModeratorID: "mod-1"},
	}}
	w := newTestWorkflow(t, &fakeSource{}, &fakeRecognizer{}, ver, j, Config{HistoryLimit: 2})
	w.Attach(testSession())

	for _, code := range []string{"AA111111", "BB222222", "CC333333"} {
		_, err := w.SubmitManual(context.Background(), code)
		require.NoError(t, err)
	}
	require.Len(t, w.History(0), 2, "ring evicted the oldest entry")

	// An unbounded read reaches the journal, which remembers the eviction.
	hist := w.RecentHistory(context.Background(), 0)
	require.Len(t, hist, 3)
	assert.Equal(t, "j-1", hist[0].ID)

	// A read the ring can satisfy stays in memory.
	inRing := w.RecentHistory(context.Background(), 2)
	require.Len(t, inRing, 2)
	assert.Equal(t, ticket.Code("CC333333"), inRing[0].Code)
	assert.NotEqual(t, "j-1", inRing[0].ID)

	// Journal failure degrades to the ring.
	j.recentErr = errors.New("journal down")
	assert.Len(t, w.RecentHistory(context.Background(), 0), 2)
}

func TestSeedUsesJournalTotalsWhenBackendDown(t *testing.T) {
	ver := &fakeVerifier{statsErr: verify.ErrUnreachable}
	j := &fakeJournal{totals: ticket.Stats{TotalScanned: 7, Valid: 5, Used: 1, Invalid: 1}}
	w := newTestWorkflow(t, &fakeSource{}, &fakeRecognizer{}, ver, j, Config{})
	w.Attach(testSession())

	w.Seed(context.Background())

	assert.Equal(t, ticket.Stats{TotalScanned: 7, Valid: 5, Used: 1, Invalid: 1}, w.Stats())
}

func TestRestartTearsDownPreviousSession(t *testing.T) {
	src := &fakeSource{}
	w := newTestWorkflow(t, src, &fakeRecognizer{}, &fakeVerifier{}, nil, Config{})
	w.Attach(testSession())

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))

	// Second Start stopped the first capture session before acquiring again.
	assert.GreaterOrEqual(t, src.stopCount(), 1)
	assert.Equal(t, StateCapturing, w.Status().State)
}
