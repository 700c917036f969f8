package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/pipeline"
	"github.com/biliarchive/biliarchive/internal/repository"
)

// fakeSourceRepo is an in-memory stand-in for repository.SourceRepository.
type fakeSourceRepo struct {
	mu      sync.Mutex
	sources []*models.Source
}

func (f *fakeSourceRepo) GetEnabled(ctx context.Context) ([]*models.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Source, len(f.sources))
	copy(out, f.sources)
	return out, nil
}

func (f *fakeSourceRepo) Create(ctx context.Context, source *models.Source) error { return nil }
func (f *fakeSourceRepo) GetByID(ctx context.Context, id models.ULID) (*models.Source, error) {
	return nil, nil
}
func (f *fakeSourceRepo) GetByKey(ctx context.Context, variant models.SourceVariant, identityKey string) (*models.Source, error) {
	return nil, nil
}
func (f *fakeSourceRepo) GetAll(ctx context.Context) ([]*models.Source, error) { return nil, nil }
func (f *fakeSourceRepo) Update(ctx context.Context, source *models.Source) error { return nil }
func (f *fakeSourceRepo) UpdateCursor(ctx context.Context, id models.ULID, cursor string) error {
	return nil
}
func (f *fakeSourceRepo) Delete(ctx context.Context, id models.ULID) error { return nil }
func (f *fakeSourceRepo) Transaction(ctx context.Context, fn func(repository.SourceRepository) error) error {
	return fn(f)
}

var _ repository.SourceRepository = (*fakeSourceRepo)(nil)

// stubStage is a pipeline.Stage that returns a canned result or error.
type stubStage struct {
	id      string
	err     error
	onRun   func()
	blockCh chan struct{}
}

func (s *stubStage) ID() string   { return s.id }
func (s *stubStage) Name() string { return s.id }
func (s *stubStage) Execute(ctx context.Context, state *pipeline.State) (*pipeline.StageResult, error) {
	if s.onRun != nil {
		s.onRun()
	}
	if s.blockCh != nil {
		<-s.blockCh
	}
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.StageResult{RecordsProcessed: 1}, nil
}

func newTestSource(key, cronSchedule string) *models.Source {
	return &models.Source{
		BaseModel:    models.BaseModel{ID: models.NewULID()},
		Variant:      models.SourceVariantFavorite,
		IdentityKey:  key,
		Name:         key,
		Path:         "/tmp/" + key,
		CronSchedule: cronSchedule,
	}
}

func factoryFor(stage *stubStage) OrchestratorFactory {
	return func(source *models.Source) (*pipeline.Orchestrator, error) {
		state := pipeline.NewState(source, nil, nil)
		return pipeline.NewOrchestrator(state, []pipeline.Stage{stage}), nil
	}
}

func TestScheduler_RunTick_RunsOnlySourcesWithoutCronOverride(t *testing.T) {
	var ran sync.Map
	newOrch := func(source *models.Source) (*pipeline.Orchestrator, error) {
		stage := &stubStage{id: "noop", onRun: func() { ran.Store(source.IdentityKey, true) }}
		state := pipeline.NewState(source, nil, nil)
		return pipeline.NewOrchestrator(state, []pipeline.Stage{stage}), nil
	}

	repo := &fakeSourceRepo{sources: []*models.Source{
		newTestSource("a", ""),
		newTestSource("b", "0 0 * * * *"),
	}}

	s := New(repo, newOrch, nil, nil, Config{SourceConcurrency: 2})
	s.runTick(context.Background())

	_, ranA := ran.Load("a")
	_, ranB := ran.Load("b")
	assert.True(t, ranA, "source without a cron override should run on the fixed tick")
	assert.False(t, ranB, "source with a cron override should not run on the fixed tick")
}

func TestScheduler_RunSource_CredentialExpiryHaltsGlobally(t *testing.T) {
	stage := &stubStage{id: "fail", err: &models.CredentialExpiredError{Message: "expired"}}
	repo := &fakeSourceRepo{sources: []*models.Source{newTestSource("a", "")}}

	s := New(repo, factoryFor(stage), nil, nil, DefaultConfig())
	s.runSource(context.Background(), repo.sources[0])

	assert.True(t, s.Halted())
	s.Resume()
	assert.False(t, s.Halted())
}

func TestScheduler_RunSource_RiskControlSkipsOnlyThatSource(t *testing.T) {
	stage := &stubStage{id: "fail", err: &models.RiskControlError{Message: "blocked"}}
	repo := &fakeSourceRepo{sources: []*models.Source{newTestSource("a", "")}}

	s := New(repo, factoryFor(stage), nil, nil, DefaultConfig())
	s.runSource(context.Background(), repo.sources[0])

	assert.False(t, s.Halted())
}

func TestScheduler_RunTick_SkipsWhenHalted(t *testing.T) {
	var runs int
	newOrch := func(source *models.Source) (*pipeline.Orchestrator, error) {
		stage := &stubStage{id: "noop", onRun: func() { runs++ }}
		state := pipeline.NewState(source, nil, nil)
		return pipeline.NewOrchestrator(state, []pipeline.Stage{stage}), nil
	}

	repo := &fakeSourceRepo{sources: []*models.Source{newTestSource("a", "")}}
	s := New(repo, newOrch, nil, nil, DefaultConfig())
	s.credentialHalted.Store(true)

	s.runTick(context.Background())
	assert.Equal(t, 0, runs)
}

func TestScheduler_SyncCronOverrides_RegistersAndRemovesEntries(t *testing.T) {
	stage := &stubStage{id: "noop"}
	repo := &fakeSourceRepo{sources: []*models.Source{newTestSource("a", "0 */5 * * * *")}}

	s := New(repo, factoryFor(stage), nil, nil, DefaultConfig())
	require.NoError(t, s.syncCronOverrides(context.Background()))
	assert.Len(t, s.entryMap, 1)

	repo.mu.Lock()
	repo.sources = nil
	repo.mu.Unlock()

	require.NoError(t, s.syncCronOverrides(context.Background()))
	assert.Len(t, s.entryMap, 0)
}

func TestScheduler_UpsertCronEntryLocked_DedupsUnchangedSchedule(t *testing.T) {
	stage := &stubStage{id: "noop"}
	source := newTestSource("a", "0 */5 * * * *")

	s := New(&fakeSourceRepo{}, factoryFor(stage), nil, nil, DefaultConfig())

	s.mu.Lock()
	err := s.upsertCronEntryLocked("source:a", source.CronSchedule, source)
	require.NoError(t, err)
	first := s.entryMap["source:a"]

	err = s.upsertCronEntryLocked("source:a", source.CronSchedule, source)
	require.NoError(t, err)
	second := s.entryMap["source:a"]
	s.mu.Unlock()

	assert.Equal(t, first, second, "identical schedule should not churn the cron entry")
}

type fakeLogRotator struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeLogRotator) Rotate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func TestScheduler_RegisterLogRotation_InvokesRotatorOnSchedule(t *testing.T) {
	rotator := &fakeLogRotator{}
	s := New(&fakeSourceRepo{}, factoryFor(&stubStage{id: "noop"}), rotator, nil, Config{LogRotateSchedule: "* * * * * *"})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		rotator.mu.Lock()
		defer rotator.mu.Unlock()
		return rotator.calls > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestNormalizeCronExpression_StripsYearField(t *testing.T) {
	got, err := NormalizeCronExpression("0 0 * * * * 2030")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * * *", got)

	_, err = NormalizeCronExpression("0 0 * * * * bogus")
	assert.Error(t, err)
}
