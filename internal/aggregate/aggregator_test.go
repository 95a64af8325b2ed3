package aggregate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"essaypipe/internal/models"
	"essaypipe/internal/queue"
)

type fakeEssayLister struct {
	mu              sync.Mutex
	byAssignment    map[string][]models.Essay
	byStudent       map[string][]models.Essay
	assignmentCalls int
	studentCalls    int
}

func (f *fakeEssayLister) ListProcessedByAssignment(_ context.Context, teacherID, assignmentID string) ([]models.Essay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignmentCalls++
	return f.byAssignment[teacherID+"/"+assignmentID], nil
}

func (f *fakeEssayLister) ListProcessedByStudent(_ context.Context, teacherID, studentID string) ([]models.Essay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.studentCalls++
	return f.byStudent[teacherID+"/"+studentID], nil
}

type fakeMetricsStore struct {
	mu       sync.Mutex
	classes  []*models.ClassMetricsRecord
	students []*models.StudentMetricsRecord
}

func (f *fakeMetricsStore) UpsertClass(_ context.Context, record *models.ClassMetricsRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes = append(f.classes, record)
	return nil
}

func (f *fakeMetricsStore) UpsertStudent(_ context.Context, record *models.StudentMetricsRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.students = append(f.students, record)
	return nil
}

type ackRecorder struct {
	mu     sync.Mutex
	acked  int
	nacked int
}

func (r *ackRecorder) message(t *testing.T, event models.CompletionEvent) queue.Message {
	t.Helper()

	body, err := json.Marshal(event)
	require.NoError(t, err)

	return queue.Message{
		Body: body,
		Ack: func(bool) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.acked++
			return nil
		},
		Nack: func(bool, bool) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.nacked++
			return nil
		},
	}
}

func (r *ackRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked, r.nacked
}

func completionEvent(essayID string) models.CompletionEvent {
	return models.CompletionEvent{
		TeacherID:    "teacher-1",
		AssignmentID: "hw-5",
		StudentID:    "student-1",
		EssayID:      essayID,
	}
}

func runAggregator(run func(context.Context, <-chan queue.Message), messages chan queue.Message) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		run(ctx, messages)
		close(done)
	}()

	return func() {
		cancel()
		<-done
	}
}

func TestClassAggregator_BatchesByAssignment(t *testing.T) {
	lister := &fakeEssayLister{byAssignment: map[string][]models.Essay{}}
	store := &fakeMetricsStore{}
	rec := &ackRecorder{}

	agg := NewClassAggregator(lister, store, 20*time.Millisecond, zerolog.Nop())
	messages := make(chan queue.Message, 8)
	stop := runAggregator(agg.Run, messages)
	defer stop()

	// Three completions for the same assignment inside one window.
	for _, id := range []string{"e1", "e2", "e3"} {
		messages <- rec.message(t, completionEvent(id))
	}

	require.Eventually(t, func() bool {
		acked, _ := rec.counts()
		return acked == 3
	}, time.Second, 5*time.Millisecond)

	lister.mu.Lock()
	calls := lister.assignmentCalls
	lister.mu.Unlock()
	assert.Equal(t, 1, calls, "burst should collapse to one recompute")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.classes, 1)
	assert.Equal(t, "teacher-1", store.classes[0].TeacherID)
	assert.Equal(t, "hw-5", store.classes[0].AssignmentID)
}

func TestClassAggregator_MalformedEventDropped(t *testing.T) {
	agg := NewClassAggregator(&fakeEssayLister{}, &fakeMetricsStore{}, 20*time.Millisecond, zerolog.Nop())
	messages := make(chan queue.Message, 1)
	stop := runAggregator(agg.Run, messages)
	defer stop()

	rec := &ackRecorder{}
	msg := rec.message(t, completionEvent("e1"))
	msg.Body = []byte("{broken")
	messages <- msg

	require.Eventually(t, func() bool {
		_, nacked := rec.counts()
		return nacked == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStudentAggregator_SkipsUnassigned(t *testing.T) {
	lister := &fakeEssayLister{byStudent: map[string][]models.Essay{}}
	store := &fakeMetricsStore{}
	rec := &ackRecorder{}

	agg := NewStudentAggregator(lister, store, 20*time.Millisecond, zerolog.Nop())
	messages := make(chan queue.Message, 2)
	stop := runAggregator(agg.Run, messages)
	defer stop()

	event := completionEvent("e1")
	event.StudentID = ""
	messages <- rec.message(t, event)

	require.Eventually(t, func() bool {
		acked, _ := rec.counts()
		return acked == 1
	}, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.students)
}

func TestStudentAggregator_RecomputesStudent(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	result, err := json.Marshal(models.AnalysisResult{
		Metrics: models.EssayMetrics{TypeTokenRatio: 0.5, WordCount: 100, UniqueWords: 50, AvgWordFreqRank: 1000},
	})
	require.NoError(t, err)

	lister := &fakeEssayLister{byStudent: map[string][]models.Essay{
		"teacher-1/student-1": {
			{
				AssignmentID: "hw-5",
				EssayID:      "e1",
				TeacherID:    "teacher-1",
				StudentID:    "student-1",
				Status:       models.EssayStatusProcessed,
				Result:       result,
				CreatedAt:    base,
			},
		},
	}}
	store := &fakeMetricsStore{}
	rec := &ackRecorder{}

	agg := NewStudentAggregator(lister, store, 20*time.Millisecond, zerolog.Nop())
	messages := make(chan queue.Message, 1)
	stop := runAggregator(agg.Run, messages)
	defer stop()

	messages <- rec.message(t, completionEvent("e1"))

	require.Eventually(t, func() bool {
		acked, _ := rec.counts()
		return acked == 1
	}, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.students, 1)
	stats := store.students[0].Stats
	assert.Equal(t, 1, stats.TotalEssays)
	assert.Equal(t, 0.5, stats.AvgTTR)
	require.NotNil(t, stats.LastEssayDate)
	assert.Equal(t, base, *stats.LastEssayDate)
}
