package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biliarchive/biliarchive/internal/models"
)

type fakeStage struct {
	id      string
	execute func(ctx context.Context, state *State) (*StageResult, error)
}

func (s *fakeStage) ID() string   { return s.id }
func (s *fakeStage) Name() string { return s.id }
func (s *fakeStage) Execute(ctx context.Context, state *State) (*StageResult, error) {
	return s.execute(ctx, state)
}

type fakeMetrics struct {
	mu              sync.Mutex
	stageDurations  map[string]int
	videoOutcomes   map[string]int
	downloadFailure map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		stageDurations:  make(map[string]int),
		videoOutcomes:   make(map[string]int),
		downloadFailure: make(map[string]int),
	}
}

func (m *fakeMetrics) ObserveStageDuration(stage string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageDurations[stage]++
}

func (m *fakeMetrics) IncVideoProcessed(sourceKey, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoOutcomes[sourceKey+"/"+status]++
}

func (m *fakeMetrics) IncDownloadFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadFailure[reason]++
}

func newTestState(t *testing.T) *State {
	t.Helper()
	source := &models.Source{Variant: models.SourceVariantFavorite, IdentityKey: "123"}
	source.ID = models.NewULID()
	return NewState(source, nil, nil)
}

func TestOrchestrator_Execute_RunsStagesInOrder(t *testing.T) {
	state := newTestState(t)

	var mu sync.Mutex
	var order []string
	record := func(id string) func(context.Context, *State) (*StageResult, error) {
		return func(ctx context.Context, s *State) (*StageResult, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return &StageResult{RecordsProcessed: 1}, nil
		}
	}

	orch := NewOrchestrator(state, []Stage{
		&fakeStage{id: "a", execute: record("a")},
		&fakeStage{id: "b", execute: record("b")},
		&fakeStage{id: "c", execute: record("c")},
	})

	result, err := orch.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Len(t, result.StageResults, 3)
}

func TestOrchestrator_Execute_StopsAtFirstError(t *testing.T) {
	state := newTestState(t)
	boom := errors.New("stage b failed")

	var ran []string
	orch := NewOrchestrator(state, []Stage{
		&fakeStage{id: "a", execute: func(ctx context.Context, s *State) (*StageResult, error) {
			ran = append(ran, "a")
			return &StageResult{}, nil
		}},
		&fakeStage{id: "b", execute: func(ctx context.Context, s *State) (*StageResult, error) {
			ran = append(ran, "b")
			return &StageResult{}, boom
		}},
		&fakeStage{id: "c", execute: func(ctx context.Context, s *State) (*StageResult, error) {
			ran = append(ran, "c")
			return &StageResult{}, nil
		}},
	})

	result, err := orch.Execute(context.Background())
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, []string{"a", "b"}, ran)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, "b", stageErr.StageID)
}

func TestOrchestrator_Execute_RejectsConcurrentRunForSameSource(t *testing.T) {
	state := newTestState(t)

	release := make(chan struct{})
	entered := make(chan struct{})
	orch1 := NewOrchestrator(state, []Stage{
		&fakeStage{id: "slow", execute: func(ctx context.Context, s *State) (*StageResult, error) {
			close(entered)
			<-release
			return &StageResult{}, nil
		}},
	})

	done := make(chan error, 1)
	go func() {
		_, err := orch1.Execute(context.Background())
		done <- err
	}()
	<-entered

	orch2 := NewOrchestrator(state, []Stage{
		&fakeStage{id: "noop", execute: func(ctx context.Context, s *State) (*StageResult, error) {
			return &StageResult{}, nil
		}},
	})
	_, err := orch2.Execute(context.Background())
	assert.ErrorIs(t, err, ErrSourceAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
}

func TestOrchestrator_Execute_RecordsStageDurationMetrics(t *testing.T) {
	state := newTestState(t)
	metrics := newFakeMetrics()
	state.Metrics = metrics

	orch := NewOrchestrator(state, []Stage{
		&fakeStage{id: "a", execute: func(ctx context.Context, s *State) (*StageResult, error) {
			return &StageResult{}, nil
		}},
		&fakeStage{id: "b", execute: func(ctx context.Context, s *State) (*StageResult, error) {
			return &StageResult{}, nil
		}},
	})

	_, err := orch.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.stageDurations["a"])
	assert.Equal(t, 1, metrics.stageDurations["b"])
}
