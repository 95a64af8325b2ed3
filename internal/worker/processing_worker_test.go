package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"essaypipe/internal/analysis"
	"essaypipe/internal/dispatch"
	"essaypipe/internal/models"
	"essaypipe/internal/queue"
	"essaypipe/internal/storage"
)

type fakeEssays struct {
	records map[string]*models.Essay

	getErr            error
	markProcessingErr error
	markProcessedErr  error
}

func essayKey(assignmentID, essayID string) string {
	return assignmentID + "/" + essayID
}

func newFakeEssays(essays ...*models.Essay) *fakeEssays {
	f := &fakeEssays{records: make(map[string]*models.Essay)}
	for _, e := range essays {
		f.records[essayKey(e.AssignmentID, e.EssayID)] = e
	}
	return f
}

func (f *fakeEssays) Create(_ context.Context, essay *models.Essay) error {
	f.records[essayKey(essay.AssignmentID, essay.EssayID)] = essay
	return nil
}

func (f *fakeEssays) Get(_ context.Context, assignmentID, essayID string) (*models.Essay, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.records[essayKey(assignmentID, essayID)], nil
}

func (f *fakeEssays) GetByEssayID(_ context.Context, essayID string) (*models.Essay, error) {
	for _, e := range f.records {
		if e.EssayID == essayID {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeEssays) transition(assignmentID, essayID string, from, to models.EssayStatus) bool {
	essay, ok := f.records[essayKey(assignmentID, essayID)]
	if !ok || essay.Status != from {
		return false
	}
	essay.Status = to
	essay.UpdatedAt = time.Now().UTC()
	return true
}

func (f *fakeEssays) MarkProcessing(_ context.Context, assignmentID, essayID string) (bool, error) {
	if f.markProcessingErr != nil {
		return false, f.markProcessingErr
	}
	return f.transition(assignmentID, essayID, models.EssayStatusPending, models.EssayStatusProcessing), nil
}

func (f *fakeEssays) MarkProcessed(_ context.Context, assignmentID, essayID string, result json.RawMessage, processedAt time.Time) (bool, error) {
	if f.markProcessedErr != nil {
		return false, f.markProcessedErr
	}
	if !f.transition(assignmentID, essayID, models.EssayStatusProcessing, models.EssayStatusProcessed) {
		return false, nil
	}
	essay := f.records[essayKey(assignmentID, essayID)]
	essay.Result = result
	essay.ProcessedAt = &processedAt
	return true, nil
}

func (f *fakeEssays) MarkFailed(_ context.Context, assignmentID, essayID string) (bool, error) {
	return f.transition(assignmentID, essayID, models.EssayStatusProcessing, models.EssayStatusFailed), nil
}

func (f *fakeEssays) ResetForRetry(_ context.Context, assignmentID, essayID string) (bool, error) {
	if !f.transition(assignmentID, essayID, models.EssayStatusProcessing, models.EssayStatusPending) {
		return false, nil
	}
	f.records[essayKey(assignmentID, essayID)].Attempts++
	return true, nil
}

func (f *fakeEssays) ListProcessedByAssignment(_ context.Context, teacherID, assignmentID string) ([]models.Essay, error) {
	var out []models.Essay
	for _, e := range f.records {
		if e.TeacherID == teacherID && e.AssignmentID == assignmentID && e.Status == models.EssayStatusProcessed {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEssays) ListProcessedByStudent(_ context.Context, teacherID, studentID string) ([]models.Essay, error) {
	var out []models.Essay
	for _, e := range f.records {
		if e.TeacherID == teacherID && e.StudentID == studentID && e.Status == models.EssayStatusProcessed {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEssays) ListStalePending(_ context.Context, olderThan time.Time) ([]models.Essay, error) {
	var out []models.Essay
	for _, e := range f.records {
		if e.Status == models.EssayStatusPending && e.UpdatedAt.Before(olderThan) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEssays) ResetStuck(_ context.Context, olderThan time.Time, maxResets int) ([]models.Essay, []models.Essay, error) {
	var requeued, failed []models.Essay
	for _, e := range f.records {
		if e.Status != models.EssayStatusProcessing || !e.UpdatedAt.Before(olderThan) {
			continue
		}
		if e.Attempts >= maxResets {
			e.Status = models.EssayStatusFailed
			failed = append(failed, *e)
		} else {
			e.Status = models.EssayStatusPending
			e.Attempts++
			requeued = append(requeued, *e)
		}
		e.UpdatedAt = time.Now().UTC()
	}
	return requeued, failed, nil
}

func (f *fakeEssays) CountByStatus(context.Context) (map[models.EssayStatus]int, error) {
	counts := make(map[models.EssayStatus]int)
	for _, e := range f.records {
		counts[e.Status]++
	}
	return counts, nil
}

type fakeBlobs struct {
	objects map[string][]byte
	getErr  error
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte) error {
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

type fakeAnalyzer struct {
	result *models.AnalysisResult
	err    error
	calls  int
}

func (f *fakeAnalyzer) Analyze(context.Context, string) (*models.AnalysisResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDispatcher struct {
	work        []*models.WorkItem
	retries     []retryCall
	completions []*models.CompletionEvent
	retryErr    error
}

type retryCall struct {
	item    *models.WorkItem
	attempt int
}

func (f *fakeDispatcher) DispatchWork(_ context.Context, item *models.WorkItem) error {
	f.work = append(f.work, item)
	return nil
}

func (f *fakeDispatcher) DispatchWorkRetry(_ context.Context, item *models.WorkItem, attempt int) error {
	if f.retryErr != nil {
		return f.retryErr
	}
	f.retries = append(f.retries, retryCall{item: item, attempt: attempt})
	return nil
}

func (f *fakeDispatcher) DispatchCompletion(_ context.Context, event *models.CompletionEvent) error {
	f.completions = append(f.completions, event)
	return nil
}

type msgOutcome struct {
	acked   bool
	nacked  bool
	requeue bool
}

func newTestMessage(body []byte, headers amqp.Table) (queue.Message, *msgOutcome) {
	outcome := &msgOutcome{}
	return queue.Message{
		Body:      body,
		Headers:   headers,
		Timestamp: time.Now(),
		Ack: func(bool) error {
			outcome.acked = true
			return nil
		},
		Nack: func(_ bool, requeue bool) error {
			outcome.nacked = true
			outcome.requeue = requeue
			return nil
		},
	}, outcome
}

func pendingEssay() *models.Essay {
	now := time.Now().UTC()
	return &models.Essay{
		AssignmentID: "hw-5",
		EssayID:      "essay-1",
		TeacherID:    "teacher-1",
		StudentID:    "student-1",
		RawTextRef:   "essays/essay-1.txt",
		Status:       models.EssayStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func workItemBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(models.WorkItem{
		TeacherID:    "teacher-1",
		AssignmentID: "hw-5",
		StudentID:    "student-1",
		EssayID:      "essay-1",
	})
	require.NoError(t, err)
	return body
}

func analysisFixture() *models.AnalysisResult {
	return &models.AnalysisResult{
		Metrics: models.EssayMetrics{
			WordCount:      120,
			UniqueWords:    80,
			TypeTokenRatio: 0.667,
		},
		Feedback: []models.FeedbackItem{
			{Word: "utilize", Correct: false, Comment: "prefer use"},
		},
	}
}

func TestProcessingWorker_Success(t *testing.T) {
	essays := newFakeEssays(pendingEssay())
	blobs := &fakeBlobs{objects: map[string][]byte{
		"essays/essay-1.txt": []byte("Name: Anna Lee\n\nEssay body."),
	}}
	analyzer := &fakeAnalyzer{result: analysisFixture()}
	disp := &fakeDispatcher{}

	w := NewProcessingWorker(essays, blobs, analyzer, disp, 3, zerolog.Nop())

	msg, outcome := newTestMessage(workItemBody(t), nil)
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.acked)
	assert.False(t, outcome.nacked)

	essay := essays.records["hw-5/essay-1"]
	assert.Equal(t, models.EssayStatusProcessed, essay.Status)
	assert.NotNil(t, essay.ProcessedAt)

	var stored models.AnalysisResult
	require.NoError(t, json.Unmarshal(essay.Result, &stored))
	assert.Equal(t, 120, stored.Metrics.WordCount)

	require.Len(t, disp.completions, 1)
	assert.Equal(t, "essay-1", disp.completions[0].EssayID)
	assert.Equal(t, "teacher-1", disp.completions[0].TeacherID)
	assert.Equal(t, "student-1", disp.completions[0].StudentID)
}

func TestProcessingWorker_DuplicateDeliveryDropped(t *testing.T) {
	essay := pendingEssay()
	essay.Status = models.EssayStatusProcessed
	essays := newFakeEssays(essay)
	analyzer := &fakeAnalyzer{result: analysisFixture()}
	disp := &fakeDispatcher{}

	w := NewProcessingWorker(essays, &fakeBlobs{objects: map[string][]byte{}}, analyzer, disp, 3, zerolog.Nop())

	msg, outcome := newTestMessage(workItemBody(t), nil)
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.acked)
	assert.Zero(t, analyzer.calls)
	assert.Empty(t, disp.completions)
	assert.Equal(t, models.EssayStatusProcessed, essay.Status)
}

func TestProcessingWorker_MissingRecordDeadLettered(t *testing.T) {
	essays := newFakeEssays()
	w := NewProcessingWorker(essays, &fakeBlobs{objects: map[string][]byte{}}, &fakeAnalyzer{}, &fakeDispatcher{}, 3, zerolog.Nop())

	msg, outcome := newTestMessage(workItemBody(t), nil)
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.nacked)
	assert.False(t, outcome.requeue)
}

func TestProcessingWorker_MalformedPayloadDeadLettered(t *testing.T) {
	w := NewProcessingWorker(newFakeEssays(), &fakeBlobs{objects: map[string][]byte{}}, &fakeAnalyzer{}, &fakeDispatcher{}, 3, zerolog.Nop())

	msg, outcome := newTestMessage([]byte("{not json"), nil)
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.nacked)
	assert.False(t, outcome.requeue)
}

func TestProcessingWorker_InvalidItemDeadLettered(t *testing.T) {
	w := NewProcessingWorker(newFakeEssays(), &fakeBlobs{objects: map[string][]byte{}}, &fakeAnalyzer{}, &fakeDispatcher{}, 3, zerolog.Nop())

	body, err := json.Marshal(models.WorkItem{TeacherID: "teacher-1", AssignmentID: "hw-5"})
	require.NoError(t, err)

	msg, outcome := newTestMessage(body, nil)
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.nacked)
	assert.False(t, outcome.requeue)
}

func TestProcessingWorker_AnalysisRejectedFailsEssay(t *testing.T) {
	essays := newFakeEssays(pendingEssay())
	blobs := &fakeBlobs{objects: map[string][]byte{
		"essays/essay-1.txt": []byte("body"),
	}}
	analyzer := &fakeAnalyzer{err: fmt.Errorf("%w: status 422", analysis.ErrRejected)}
	disp := &fakeDispatcher{}

	w := NewProcessingWorker(essays, blobs, analyzer, disp, 3, zerolog.Nop())

	msg, outcome := newTestMessage(workItemBody(t), nil)
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.nacked)
	assert.False(t, outcome.requeue)
	assert.Equal(t, models.EssayStatusFailed, essays.records["hw-5/essay-1"].Status)
	assert.Empty(t, disp.completions)
}

func TestProcessingWorker_MissingTextFailsEssay(t *testing.T) {
	essays := newFakeEssays(pendingEssay())
	disp := &fakeDispatcher{}

	w := NewProcessingWorker(essays, &fakeBlobs{objects: map[string][]byte{}}, &fakeAnalyzer{}, disp, 3, zerolog.Nop())

	msg, outcome := newTestMessage(workItemBody(t), nil)
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.nacked)
	assert.False(t, outcome.requeue)
	assert.Equal(t, models.EssayStatusFailed, essays.records["hw-5/essay-1"].Status)
}

func TestProcessingWorker_TransientErrorRetries(t *testing.T) {
	essays := newFakeEssays(pendingEssay())
	blobs := &fakeBlobs{objects: map[string][]byte{
		"essays/essay-1.txt": []byte("body"),
	}}
	analyzer := &fakeAnalyzer{err: errors.New("connection refused")}
	disp := &fakeDispatcher{}

	w := NewProcessingWorker(essays, blobs, analyzer, disp, 3, zerolog.Nop())

	msg, outcome := newTestMessage(workItemBody(t), nil)
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.acked)

	// Claim released so the redelivery can take it again.
	essay := essays.records["hw-5/essay-1"]
	assert.Equal(t, models.EssayStatusPending, essay.Status)
	assert.Equal(t, 1, essay.Attempts)

	require.Len(t, disp.retries, 1)
	assert.Equal(t, 1, disp.retries[0].attempt)
	assert.Equal(t, "essay-1", disp.retries[0].item.EssayID)
}

func TestProcessingWorker_RetryBudgetExhausted(t *testing.T) {
	essays := newFakeEssays(pendingEssay())
	blobs := &fakeBlobs{objects: map[string][]byte{
		"essays/essay-1.txt": []byte("body"),
	}}
	analyzer := &fakeAnalyzer{err: errors.New("connection refused")}
	disp := &fakeDispatcher{}

	w := NewProcessingWorker(essays, blobs, analyzer, disp, 3, zerolog.Nop())

	msg, outcome := newTestMessage(workItemBody(t), amqp.Table{dispatch.AttemptsHeader: int32(2)})
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.nacked)
	assert.False(t, outcome.requeue)
	assert.Equal(t, models.EssayStatusFailed, essays.records["hw-5/essay-1"].Status)
	assert.Empty(t, disp.retries)
}

func TestProcessingWorker_ClaimErrorRequeues(t *testing.T) {
	essays := newFakeEssays(pendingEssay())
	essays.markProcessingErr = errors.New("db down")

	w := NewProcessingWorker(essays, &fakeBlobs{objects: map[string][]byte{}}, &fakeAnalyzer{}, &fakeDispatcher{}, 3, zerolog.Nop())

	msg, outcome := newTestMessage(workItemBody(t), nil)
	w.Handle(context.Background(), msg)

	assert.True(t, outcome.nacked)
	assert.True(t, outcome.requeue)
}

func TestAttemptFrom(t *testing.T) {
	assert.Equal(t, 0, attemptFrom(nil))
	assert.Equal(t, 2, attemptFrom(int32(2)))
	assert.Equal(t, 3, attemptFrom(int64(3)))
	assert.Equal(t, 4, attemptFrom(4))
	assert.Equal(t, 5, attemptFrom(float64(5)))
	assert.Equal(t, 0, attemptFrom("not a number"))
}
