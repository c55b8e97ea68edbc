// Package session runs the client side of a timed attempt: it stages answer
// edits locally, flushes them on an auto-save interval, polls the server for
// the authoritative time status, and auto-submits when the server says the
// test ended. The server remains the source of truth throughout; everything
// here is display state and write batching.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/acadex/attempt-service/internal/clock"
	"github.com/acadex/attempt-service/internal/models"
	"github.com/acadex/attempt-service/internal/services"
)

// SaveStatus is the auto-save indicator state shown to the student.
type SaveStatus string

const (
	SaveIdle   SaveStatus = "idle"
	SaveSaving SaveStatus = "saving"
	SaveSaved  SaveStatus = "saved"
	SaveError  SaveStatus = "error"
)

const (
	defaultAutoSaveInterval = 30 * time.Second
	defaultPollInterval     = 10 * time.Second
)

// Backend is the server surface the runner drives. The in-process service
// satisfies it directly; an HTTP client wraps the same three calls.
type Backend interface {
	AutoSaveBatch(ctx context.Context, attemptID uint, studentID string, req *services.AutoSaveRequest) (*services.AutoSaveResponse, error)
	GetTimeStatus(ctx context.Context, attemptID uint) (*clock.TimeStatus, error)
	Complete(ctx context.Context, attemptID uint, studentID string, reason string) (*models.Result, error)
}

// Config carries the runner's intervals and callbacks. Zero intervals take
// the defaults. Callbacks are optional and invoked from the runner's
// goroutines; they must not block.
type Config struct {
	AttemptID uint
	StudentID string

	AutoSaveInterval time.Duration
	PollInterval     time.Duration

	// OnWarning fires once per upward warning-level transition.
	OnWarning func(level clock.WarningLevel, message string)
	// OnStatus fires whenever the save indicator changes.
	OnStatus func(status SaveStatus)
	// OnEnded fires exactly once, when the attempt has been submitted after
	// the server reported the test ended. Failed submissions are retried on
	// the next poll rather than reported here.
	OnEnded func(result *models.Result, err error)
}

// Runner owns the staged answer buffer and the two background loops.
type Runner struct {
	backend Backend
	cfg     Config

	mu       sync.Mutex
	staged   map[uint]services.SubmitAnswerRequest
	status   SaveStatus
	lastSave time.Time
	maxSeen  int // highest warning severity already surfaced

	ending bool // auto-submit in flight
	ended  bool // auto-submit succeeded
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(backend Backend, cfg Config) *Runner {
	if cfg.AutoSaveInterval <= 0 {
		cfg.AutoSaveInterval = defaultAutoSaveInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Runner{
		backend: backend,
		cfg:     cfg,
		staged:  make(map[uint]services.SubmitAnswerRequest),
		status:  SaveIdle,
	}
}

// Stage records a local answer edit. The latest edit per question wins; the
// next flush carries it to the server.
func (r *Runner) Stage(answer services.SubmitAnswerRequest) {
	r.mu.Lock()
	r.staged[answer.QuestionID] = answer
	r.mu.Unlock()
}

// Pending reports how many staged answers await the next flush.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.staged)
}

// Status returns the current save indicator and the time of the last
// successful flush.
func (r *Runner) Status() (SaveStatus, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.lastSave
}

// Start launches the auto-save and poll loops. It flushes and polls once
// immediately so edits staged before Start are not held for a full interval
// and the countdown is correct before the first tick.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)

		saveTicker := time.NewTicker(r.cfg.AutoSaveInterval)
		pollTicker := time.NewTicker(r.cfg.PollInterval)
		defer saveTicker.Stop()
		defer pollTicker.Stop()

		r.Flush(ctx)
		r.poll(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-saveTicker.C:
				r.Flush(ctx)
			case <-pollTicker.C:
				r.poll(ctx)
			}
		}
	}()
}

// Stop cancels the loops and performs one final flush so no staged edit is
// lost. Safe to call more than once.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	r.Flush(ctx)
}

// Flush sends the staged answers, if any, and reconciles with the returned
// time status. A failed flush restages the batch for the next attempt,
// without clobbering edits made while the request was in flight.
func (r *Runner) Flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.staged) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.staged
	r.staged = make(map[uint]services.SubmitAnswerRequest)
	r.setStatusLocked(SaveSaving)
	r.mu.Unlock()

	answers := make([]services.SubmitAnswerRequest, 0, len(batch))
	for _, a := range batch {
		answers = append(answers, a)
	}

	resp, err := r.backend.AutoSaveBatch(ctx, r.cfg.AttemptID, r.cfg.StudentID, &services.AutoSaveRequest{Answers: answers})
	if err != nil {
		r.mu.Lock()
		for id, a := range batch {
			if _, edited := r.staged[id]; !edited {
				r.staged[id] = a
			}
		}
		r.setStatusLocked(SaveError)
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.lastSave = time.Now()
	r.setStatusLocked(SaveSaved)
	r.mu.Unlock()

	if resp.ShouldWarn {
		r.surfaceWarning(resp.TimeStatus.WarningLevel, resp.WarningMessage)
	}
	r.reconcile(ctx, resp.TimeStatus)
}

// poll fetches the authoritative time status. Transient poll failures are
// ignored; the next tick retries and the local countdown keeps displaying.
func (r *Runner) poll(ctx context.Context) {
	ts, err := r.backend.GetTimeStatus(ctx, r.cfg.AttemptID)
	if err != nil {
		return
	}
	if !ts.TestEnded && ts.WarningLevel.Severity() > 0 {
		r.surfaceWarning(ts.WarningLevel, "")
	}
	r.reconcile(ctx, ts)
}

// reconcile reacts to a server time status: once the server reports the test
// ended, flush whatever is staged and auto-submit. Exactly one submission
// succeeds; a failed one is retried on the next poll because losing the
// result at this boundary is not acceptable.
func (r *Runner) reconcile(ctx context.Context, ts *clock.TimeStatus) {
	if ts == nil || !ts.TestEnded {
		return
	}
	r.mu.Lock()
	if r.ended || r.ending {
		r.mu.Unlock()
		return
	}
	r.ending = true
	r.mu.Unlock()

	// Run the final flush and submission to completion even if the view is
	// being torn down concurrently.
	ctx = context.WithoutCancel(ctx)
	r.Flush(ctx)
	result, err := r.backend.Complete(ctx, r.cfg.AttemptID, r.cfg.StudentID, models.AttemptEndReasonTimeout)

	r.mu.Lock()
	r.ending = false
	if err != nil {
		r.setStatusLocked(SaveError)
		r.mu.Unlock()
		return
	}
	r.ended = true
	cancel := r.cancel
	r.mu.Unlock()

	if r.cfg.OnEnded != nil {
		r.cfg.OnEnded(result, nil)
	}
	if cancel != nil {
		cancel()
	}
}

// surfaceWarning invokes OnWarning at most once per level, and only on
// upward transitions so a clock-skew correction cannot repeat a warning.
func (r *Runner) surfaceWarning(level clock.WarningLevel, message string) {
	sev := level.Severity()
	r.mu.Lock()
	if sev <= r.maxSeen {
		r.mu.Unlock()
		return
	}
	r.maxSeen = sev
	r.mu.Unlock()

	if r.cfg.OnWarning != nil {
		r.cfg.OnWarning(level, message)
	}
}

func (r *Runner) setStatusLocked(status SaveStatus) {
	if r.status == status {
		return
	}
	r.status = status
	if r.cfg.OnStatus != nil {
		go r.cfg.OnStatus(status)
	}
}
