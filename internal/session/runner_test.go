package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadex/attempt-service/internal/clock"
	"github.com/acadex/attempt-service/internal/models"
	"github.com/acadex/attempt-service/internal/services"
)

type stubBackend struct {
	mu          sync.Mutex
	batches     [][]services.SubmitAnswerRequest
	saveErr     error
	saveResp    *services.AutoSaveResponse
	ts          clock.TimeStatus
	tsErr       error
	completed   int
	completeErr error
	result      *models.Result
}

func (b *stubBackend) AutoSaveBatch(ctx context.Context, attemptID uint, studentID string, req *services.AutoSaveRequest) (*services.AutoSaveResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return nil, b.saveErr
	}
	b.batches = append(b.batches, req.Answers)
	if b.saveResp != nil {
		return b.saveResp, nil
	}
	ts := b.ts
	return &services.AutoSaveResponse{Saved: len(req.Answers), TimeStatus: &ts}, nil
}

func (b *stubBackend) GetTimeStatus(ctx context.Context, attemptID uint) (*clock.TimeStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tsErr != nil {
		return nil, b.tsErr
	}
	ts := b.ts
	return &ts, nil
}

func (b *stubBackend) Complete(ctx context.Context, attemptID uint, studentID string, reason string) (*models.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed++
	if b.completeErr != nil {
		return nil, b.completeErr
	}
	return b.result, nil
}

func (b *stubBackend) flushCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func (b *stubBackend) completeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

func singleAnswer(questionID uint, selected string) services.SubmitAnswerRequest {
	return services.SubmitAnswerRequest{
		QuestionID: questionID,
		Answer:     models.AnswerValue{Type: models.QuestionSingleChoice, Selected: selected},
	}
}

func runningStatus(remaining int) clock.TimeStatus {
	return clock.TimeStatus{RemainingSeconds: remaining, WarningLevel: clock.WarningNone}
}

func TestStageAndFlush(t *testing.T) {
	backend := &stubBackend{ts: runningStatus(1200)}
	r := NewRunner(backend, Config{AttemptID: 1, StudentID: "s1"})

	r.Stage(singleAnswer(101, "A"))
	r.Stage(singleAnswer(102, "B"))
	assert.Equal(t, 2, r.Pending())

	r.Flush(context.Background())

	assert.Equal(t, 0, r.Pending())
	require.Equal(t, 1, backend.flushCount())
	assert.Len(t, backend.batches[0], 2)

	status, lastSave := r.Status()
	assert.Equal(t, SaveSaved, status)
	assert.False(t, lastSave.IsZero())
}

func TestFlush_LatestEditWins(t *testing.T) {
	backend := &stubBackend{ts: runningStatus(1200)}
	r := NewRunner(backend, Config{AttemptID: 1, StudentID: "s1"})

	r.Stage(singleAnswer(101, "A"))
	r.Stage(singleAnswer(101, "B"))
	assert.Equal(t, 1, r.Pending())

	r.Flush(context.Background())

	require.Equal(t, 1, backend.flushCount())
	require.Len(t, backend.batches[0], 1)
	assert.Equal(t, "B", backend.batches[0][0].Answer.Selected)
}

func TestFlush_NoopWhenEmpty(t *testing.T) {
	backend := &stubBackend{ts: runningStatus(1200)}
	r := NewRunner(backend, Config{AttemptID: 1, StudentID: "s1"})

	r.Flush(context.Background())

	assert.Equal(t, 0, backend.flushCount())
	status, _ := r.Status()
	assert.Equal(t, SaveIdle, status)
}

func TestFlush_ErrorRestagesBatch(t *testing.T) {
	backend := &stubBackend{saveErr: errors.New("network down")}
	r := NewRunner(backend, Config{AttemptID: 1, StudentID: "s1"})

	r.Stage(singleAnswer(101, "A"))
	r.Flush(context.Background())

	assert.Equal(t, 1, r.Pending())
	status, _ := r.Status()
	assert.Equal(t, SaveError, status)

	// Recovery retries the same batch.
	backend.mu.Lock()
	backend.saveErr = nil
	backend.mu.Unlock()
	r.Flush(context.Background())

	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, 1, backend.flushCount())
}

func TestPoll_WarningOncePerLevel(t *testing.T) {
	var warned []clock.WarningLevel
	backend := &stubBackend{ts: clock.TimeStatus{RemainingSeconds: 550, WarningLevel: clock.WarningNotice}}
	r := NewRunner(backend, Config{
		AttemptID: 1,
		StudentID: "s1",
		OnWarning: func(level clock.WarningLevel, _ string) { warned = append(warned, level) },
	})

	r.poll(context.Background())
	r.poll(context.Background())
	assert.Equal(t, []clock.WarningLevel{clock.WarningNotice}, warned)

	backend.mu.Lock()
	backend.ts = clock.TimeStatus{RemainingSeconds: 45, WarningLevel: clock.WarningCritical}
	backend.mu.Unlock()

	r.poll(context.Background())
	r.poll(context.Background())
	assert.Equal(t, []clock.WarningLevel{clock.WarningNotice, clock.WarningCritical}, warned)
}

func TestPoll_FailureIgnored(t *testing.T) {
	backend := &stubBackend{tsErr: errors.New("timeout")}
	r := NewRunner(backend, Config{AttemptID: 1, StudentID: "s1"})

	r.poll(context.Background())

	assert.Equal(t, 0, backend.completeCount())
	status, _ := r.Status()
	assert.Equal(t, SaveIdle, status)
}

func TestEnded_AutoSubmitsExactlyOnce(t *testing.T) {
	var (
		endedCalls int
		endedErr   error
	)
	backend := &stubBackend{
		ts:     clock.TimeStatus{TestEnded: true, WarningLevel: clock.WarningEnded},
		result: &models.Result{AttemptID: 1, ScorePercentage: 70},
	}
	r := NewRunner(backend, Config{
		AttemptID: 1,
		StudentID: "s1",
		OnEnded: func(result *models.Result, err error) {
			endedCalls++
			endedErr = err
			if assert.NotNil(t, result) {
				assert.Equal(t, 70, result.ScorePercentage)
			}
		},
	})
	r.Stage(singleAnswer(101, "A"))

	r.poll(context.Background())
	r.poll(context.Background())

	assert.Equal(t, 1, backend.completeCount())
	assert.Equal(t, 1, endedCalls)
	assert.NoError(t, endedErr)
	// The final flush ran before submission.
	assert.Equal(t, 1, backend.flushCount())
	assert.Equal(t, 0, r.Pending())
}

func TestEnded_FailedSubmitRetriedNextPoll(t *testing.T) {
	var endedCalls int
	backend := &stubBackend{
		ts:          clock.TimeStatus{TestEnded: true, WarningLevel: clock.WarningEnded},
		completeErr: errors.New("gateway timeout"),
		result:      &models.Result{AttemptID: 1},
	}
	r := NewRunner(backend, Config{
		AttemptID: 1,
		StudentID: "s1",
		OnEnded:   func(*models.Result, error) { endedCalls++ },
	})

	r.poll(context.Background())
	assert.Equal(t, 1, backend.completeCount())
	assert.Equal(t, 0, endedCalls)
	status, _ := r.Status()
	assert.Equal(t, SaveError, status)

	backend.mu.Lock()
	backend.completeErr = nil
	backend.mu.Unlock()

	r.poll(context.Background())
	assert.Equal(t, 2, backend.completeCount())
	assert.Equal(t, 1, endedCalls)

	// Submission succeeded; further polls do nothing.
	r.poll(context.Background())
	assert.Equal(t, 2, backend.completeCount())
}

func TestRunnerLoop_FlushesOnInterval(t *testing.T) {
	backend := &stubBackend{ts: runningStatus(1200)}
	r := NewRunner(backend, Config{
		AttemptID:        1,
		StudentID:        "s1",
		AutoSaveInterval: 10 * time.Millisecond,
		PollInterval:     time.Hour, // keep polling out of the picture
	})

	r.Start(context.Background())
	r.Stage(singleAnswer(101, "A"))

	assert.Eventually(t, func() bool { return backend.flushCount() >= 1 }, time.Second, 5*time.Millisecond)
	r.Stop(context.Background())
	assert.Equal(t, 0, r.Pending())
}

func TestStop_FlushesStagedAnswers(t *testing.T) {
	backend := &stubBackend{ts: runningStatus(1200)}
	r := NewRunner(backend, Config{AttemptID: 1, StudentID: "s1"})

	r.Start(context.Background())
	r.Stage(singleAnswer(101, "A"))
	r.Stop(context.Background())

	assert.Equal(t, 1, backend.flushCount())
	assert.Equal(t, 0, r.Pending())
	// A second Stop is a no-op.
	r.Stop(context.Background())
	assert.Equal(t, 1, backend.flushCount())
}
