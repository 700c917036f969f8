// Package scheduler runs the per-source ingestion pipeline on a periodic
// tick, with an optional per-source cron override and periodic log rotation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/pipeline"
	"github.com/biliarchive/biliarchive/internal/repository"
	"github.com/biliarchive/biliarchive/pkg/format"
)

// NormalizeCronExpression normalizes a cron expression to 6-field format.
// It accepts both 6-field (default) and 7-field (legacy with year) formats;
// the year field, if present, is validated then stripped since robfig/cron
// has no year support.
func NormalizeCronExpression(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", fmt.Errorf("empty cron expression")
	}

	if strings.HasPrefix(expr, "@") {
		return expr, nil
	}

	fields := strings.Fields(expr)
	switch len(fields) {
	case 6:
		return expr, nil
	case 7:
		yearField := fields[6]
		if !isValidYearField(yearField) {
			return "", fmt.Errorf("invalid year field %q: must be * or a valid year/range", yearField)
		}
		return strings.Join(fields[:6], " "), nil
	default:
		return "", fmt.Errorf("invalid cron expression: expected 6 or 7 fields, got %d", len(fields))
	}
}

// isValidYearField validates a cron year field: *, a year, a range, a list,
// or a step value.
func isValidYearField(field string) bool {
	if field == "*" {
		return true
	}
	for _, r := range field {
		if !((r >= '0' && r <= '9') || r == ',' || r == '-' || r == '/' || r == '*') {
			return false
		}
	}
	return len(field) > 0
}

// OrchestratorFactory builds a ready-to-run pipeline orchestrator for one
// source. The scheduler owns only the tick/cron timing; wiring the concrete
// adapter, remote client, repositories and stages together is the caller's
// job (see cmd/biliarchive).
type OrchestratorFactory func(source *models.Source) (*pipeline.Orchestrator, error)

// LogRotator rotates and prunes the ingest log sink on a schedule.
type LogRotator interface {
	Rotate(ctx context.Context) error
}

// ErrAlreadyStarted is returned by Start when the scheduler is already running.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Config holds the tunable scheduler parameters.
type Config struct {
	// ScanInterval is the fixed tick applied to every enabled source that
	// has no per-source CronSchedule override. Default: 30 minutes.
	ScanInterval time.Duration

	// ResyncInterval is how often cron overrides are reloaded from the
	// source table, so edits to that table take effect without a restart.
	// Default: 1 minute.
	ResyncInterval time.Duration

	// SourceConcurrency bounds how many sources run their pipeline at
	// once on a single tick. Default: 2.
	SourceConcurrency int

	// LogRotateSchedule is a cron expression for the log rotation job.
	// Empty disables scheduled rotation.
	LogRotateSchedule string
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		ScanInterval:      30 * time.Minute,
		ResyncInterval:    time.Minute,
		SourceConcurrency: 2,
	}
}

// Scheduler ticks every enabled source through its pipeline on a fixed
// interval, honoring a per-source cron override and halting globally when a
// source reports expired credentials.
type Scheduler struct {
	mu sync.RWMutex

	sourceRepo repository.SourceRepository
	newOrch    OrchestratorFactory
	logRotator LogRotator
	logger     *slog.Logger

	parser     cron.Parser
	cronEngine *cron.Cron
	entryMap   map[string]cron.EntryID

	scanInterval      time.Duration
	resyncInterval    time.Duration
	sourceConcurrency int
	logRotateSchedule string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	credentialHalted atomic.Bool
}

// New creates a scheduler. newOrch and sourceRepo are required; logRotator
// may be nil to disable log rotation entirely.
func New(sourceRepo repository.SourceRepository, newOrch OrchestratorFactory, logRotator LogRotator, logger *slog.Logger, config Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = DefaultConfig().ScanInterval
	}
	if config.ResyncInterval <= 0 {
		config.ResyncInterval = DefaultConfig().ResyncInterval
	}
	if config.SourceConcurrency <= 0 {
		config.SourceConcurrency = DefaultConfig().SourceConcurrency
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronEngine := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	return &Scheduler{
		sourceRepo:        sourceRepo,
		newOrch:           newOrch,
		logRotator:        logRotator,
		logger:            logger,
		parser:            parser,
		cronEngine:        cronEngine,
		entryMap:          make(map[string]cron.EntryID),
		scanInterval:      config.ScanInterval,
		resyncInterval:    config.ResyncInterval,
		sourceConcurrency: config.SourceConcurrency,
		logRotateSchedule: config.LogRotateSchedule,
	}
}

// Start begins the scan-interval tick loop and the cron engine that carries
// per-source overrides and log rotation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if err := s.syncCronOverrides(s.ctx); err != nil {
		s.logger.Error("failed to load initial cron overrides", slog.Any("error", err))
	}
	s.registerLogRotation()

	s.cronEngine.Start()

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("scheduler started",
		slog.Duration("scan_interval", s.scanInterval),
		slog.Duration("resync_interval", s.resyncInterval),
		slog.Int("source_concurrency", s.sourceConcurrency))

	return nil
}

// Stop cancels the tick loop and drains the cron engine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cronEngine.Stop()
	s.mu.Unlock()

	<-stopCtx.Done()
	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// Halted reports whether the scheduler has stopped dispatching new ticks
// after a credential-expiry error, per spec C7.
func (s *Scheduler) Halted() bool {
	return s.credentialHalted.Load()
}

// Resume clears a credential-expiry halt, e.g. once an operator has
// refreshed the stored credential.
func (s *Scheduler) Resume() {
	if s.credentialHalted.CompareAndSwap(true, false) {
		s.logger.Info("scheduler resumed after credential halt")
	}
}

// tickLoop runs the fixed-interval scan and periodically resyncs cron
// overrides from the source table.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	s.runTick(s.ctx)

	scanTicker := time.NewTicker(s.scanInterval)
	defer scanTicker.Stop()
	resyncTicker := time.NewTicker(s.resyncInterval)
	defer resyncTicker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-scanTicker.C:
			s.runTick(s.ctx)
		case <-resyncTicker.C:
			if err := s.syncCronOverrides(s.ctx); err != nil {
				s.logger.Error("failed to resync cron overrides", slog.Any("error", err))
			}
		}
	}
}

// runTick scans every enabled source that has no per-source cron override
// and runs its pipeline, bounded by sourceConcurrency. Sources with a cron
// override are driven instead by their own registered cron entry.
func (s *Scheduler) runTick(ctx context.Context) {
	if s.Halted() {
		s.logger.Warn("skipping scan tick: scheduler halted on credential expiry")
		return
	}

	sources, err := s.sourceRepo.GetEnabled(ctx)
	if err != nil {
		s.logger.Error("failed to list enabled sources", slog.Any("error", err))
		return
	}

	due := make([]*models.Source, 0, len(sources))
	for _, source := range sources {
		if source.CronSchedule == "" {
			due = append(due, source)
		}
	}
	if len(due) == 0 {
		return
	}

	s.runSources(ctx, due)
}

// runSources runs each source's pipeline, at most sourceConcurrency at a
// time, stopping early if a credential expiry halts the scheduler mid-batch.
func (s *Scheduler) runSources(ctx context.Context, sources []*models.Source) {
	sem := make(chan struct{}, s.sourceConcurrency)
	var wg sync.WaitGroup

	for _, source := range sources {
		if s.Halted() {
			break
		}
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(source *models.Source) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runSource(ctx, source)
		}(source)
	}

	wg.Wait()
}

// runSource executes one source's pipeline and classifies the resulting
// error per spec C7: a credential expiry halts scheduling globally until
// Resume is called; risk-control errors (including the verification-required
// variant) are logged and skip only that source; anything else is logged
// generically and the source is retried on the next tick.
func (s *Scheduler) runSource(ctx context.Context, source *models.Source) {
	orch, err := s.newOrch(source)
	if err != nil {
		s.logger.Error("failed to build orchestrator", slog.String("source", source.SourceKey()), slog.Any("error", err))
		return
	}

	_, err = orch.Execute(ctx)
	if err == nil {
		return
	}

	var credErr *models.CredentialExpiredError
	var riskErr *models.RiskControlError
	var riskVerifyErr *models.RiskControlVerificationRequiredError

	switch {
	case errors.As(err, &credErr):
		s.credentialHalted.Store(true)
		s.logger.Error("credential expired, halting scheduler until resumed",
			slog.String("source", source.SourceKey()), slog.Any("error", err))
	case errors.As(err, &riskVerifyErr):
		s.logger.Warn("risk control verification required, skipping source",
			slog.String("source", source.SourceKey()), slog.Any("error", err))
	case errors.As(err, &riskErr):
		s.logger.Warn("risk control triggered, skipping source",
			slog.String("source", source.SourceKey()), slog.Any("error", err))
	case errors.Is(err, pipeline.ErrSourceAlreadyRunning):
		s.logger.Debug("source still running from a previous tick", slog.String("source", source.SourceKey()))
	default:
		s.logger.Error("source pipeline failed", slog.String("source", source.SourceKey()), slog.Any("error", err))
	}
}

// syncCronOverrides loads every enabled source with a non-empty
// CronSchedule and registers (or updates) a dedicated cron entry for it,
// removing entries for sources whose override was cleared or disabled.
func (s *Scheduler) syncCronOverrides(ctx context.Context) error {
	sources, err := s.sourceRepo.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing enabled sources: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(sources))
	for _, source := range sources {
		if source.CronSchedule == "" {
			continue
		}
		key := "source:" + source.ID.String()
		seen[key] = true
		if err := s.upsertCronEntryLocked(key, source.CronSchedule, source); err != nil {
			s.logger.Error("invalid cron override, skipping",
				slog.String("source", source.SourceKey()),
				slog.String("cron", source.CronSchedule),
				slog.Any("error", err))
		}
	}

	for key, entryID := range s.entryMap {
		if strings.HasPrefix(key, "source:") && !seen[key] {
			s.cronEngine.Remove(entryID)
			delete(s.entryMap, key)
		}
	}

	return nil
}

// upsertCronEntryLocked adds or replaces the cron entry for key. Callers
// must hold s.mu. A no-op dedup check mirrors NewScheduler's original
// heuristic: if the existing entry's next run time matches the new
// schedule's, leave it alone.
func (s *Scheduler) upsertCronEntryLocked(key, cronExpr string, source *models.Source) error {
	normalized, err := NormalizeCronExpression(cronExpr)
	if err != nil {
		return err
	}
	schedule, err := s.parser.Parse(normalized)
	if err != nil {
		return err
	}

	if existingID, ok := s.entryMap[key]; ok {
		entry := s.cronEngine.Entry(existingID)
		if entry.Valid() && entry.Schedule.Next(time.Now()).Equal(schedule.Next(time.Now())) {
			return nil
		}
		s.cronEngine.Remove(existingID)
		delete(s.entryMap, key)
	}

	entryID, err := s.cronEngine.AddFunc(normalized, func() {
		if s.Halted() {
			return
		}
		s.runSource(context.Background(), source)
	})
	if err != nil {
		return fmt.Errorf("adding cron entry: %w", err)
	}

	s.logger.Info("registered source cron override",
		slog.String("source", key),
		slog.String("schedule", format.CronDescription(normalized)),
	)

	s.entryMap[key] = entryID
	return nil
}

// registerLogRotation registers the configured log-rotation cron job, if
// both a schedule and a LogRotator were supplied.
func (s *Scheduler) registerLogRotation() {
	if s.LogRotateSchedule() == "" || s.logRotator == nil {
		return
	}

	normalized, err := NormalizeCronExpression(s.LogRotateSchedule())
	if err != nil {
		s.logger.Error("invalid log rotation schedule", slog.Any("error", err))
		return
	}

	entryID, err := s.cronEngine.AddFunc(normalized, func() {
		if err := s.logRotator.Rotate(context.Background()); err != nil {
			s.logger.Error("log rotation failed", slog.Any("error", err))
		}
	})
	if err != nil {
		s.logger.Error("failed to register log rotation job", slog.Any("error", err))
		return
	}

	s.logger.Info("registered log rotation job", slog.String("schedule", format.CronDescription(normalized)))

	s.mu.Lock()
	s.entryMap["log-rotate"] = entryID
	s.mu.Unlock()
}

// LogRotateSchedule returns the configured rotation schedule; kept as a
// method so it can be overridden by tests without touching Config wiring.
func (s *Scheduler) LogRotateSchedule() string {
	return s.logRotateSchedule
}
