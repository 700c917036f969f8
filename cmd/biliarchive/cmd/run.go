package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/biliarchive/biliarchive/internal/cache"
	"github.com/biliarchive/biliarchive/internal/config"
	"github.com/biliarchive/biliarchive/internal/danmaku"
	"github.com/biliarchive/biliarchive/internal/database"
	"github.com/biliarchive/biliarchive/internal/database/migrations"
	"github.com/biliarchive/biliarchive/internal/downloader"
	"github.com/biliarchive/biliarchive/internal/filtering"
	internalhttp "github.com/biliarchive/biliarchive/internal/http"
	"github.com/biliarchive/biliarchive/internal/http/handlers"
	"github.com/biliarchive/biliarchive/internal/ingestlog"
	"github.com/biliarchive/biliarchive/internal/logsink"
	"github.com/biliarchive/biliarchive/internal/metrics"
	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/muxer"
	"github.com/biliarchive/biliarchive/internal/observability"
	"github.com/biliarchive/biliarchive/internal/pipeline"
	"github.com/biliarchive/biliarchive/internal/pipeline/stages"
	"github.com/biliarchive/biliarchive/internal/remote"
	"github.com/biliarchive/biliarchive/internal/renamer"
	"github.com/biliarchive/biliarchive/internal/repository"
	"github.com/biliarchive/biliarchive/internal/scheduler"
	"github.com/biliarchive/biliarchive/internal/sources"
	"github.com/biliarchive/biliarchive/internal/startup"
	"github.com/biliarchive/biliarchive/internal/storage"
	"github.com/biliarchive/biliarchive/internal/version"
	"github.com/biliarchive/biliarchive/pkg/format"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the archiver's scan loop and debug HTTP surface",
	Long: `Start the periodic scan loop that drives every enabled source through its
ingest pipeline, plus the debug HTTP surface (health, Prometheus metrics,
ingest-event tail) if enabled.`,
	RunE: runArchiver,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("host", "", "debug HTTP server host override")
	runCmd.Flags().Int("port", 0, "debug HTTP server port override")
	runCmd.Flags().String("database", "", "database file path override")
	runCmd.Flags().String("data-dir", "", "storage base directory override")

	viper.BindPFlag("debug.host_override", runCmd.Flags().Lookup("host"))
	viper.BindPFlag("debug.port_override", runCmd.Flags().Lookup("port"))
	viper.BindPFlag("database.path_override", runCmd.Flags().Lookup("database"))
	viper.BindPFlag("storage.base_dir_override", runCmd.Flags().Lookup("data-dir"))
}

func runArchiver(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if v := viper.GetString("database.path_override"); v != "" {
		cfg.Database.Path = v
	}
	if v := viper.GetString("storage.base_dir_override"); v != "" {
		cfg.Storage.BaseDir = v
	}

	logger := observability.NewLogger(cfg.Logging)

	var csvSink *logsink.Sink
	if cfg.Logging.CSVEnabled {
		sink, err := logsink.New(cfg.Storage.LogsPath())
		if err != nil {
			return fmt.Errorf("opening CSV log sink: %w", err)
		}
		csvSink = sink
		logger = slog.New(logsink.Wrap(csvSink, logger.Handler(), "biliarchive"))
	}
	slog.SetDefault(logger)

	orphansRemoved, err := startup.CleanupSystemTempDirs(logger)
	if err != nil {
		logger.Warn("failed to clean orphaned temp directories", slog.String("error", err.Error()))
	} else if orphansRemoved > 0 {
		logger.Info("cleaned orphaned temp directories on startup", slog.Int("removed_count", orphansRemoved))
	}

	if _, err := storage.NewSandbox(cfg.Storage.BaseDir); err != nil {
		return fmt.Errorf("initializing storage sandbox: %w", err)
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	sourceRepo := repository.NewSourceRepository(db.DB)
	videoRepo := repository.NewVideoRepository(db.DB)
	pageRepo := repository.NewPageRepository(db.DB)

	remoteClient := remote.New(cfg.Remote, logger)
	sourceFactory := sources.NewFactory()
	downloaderSvc := downloader.New(cfg.Downloader, cfg.Remote.BaseURL, logger)
	logger.Info("downloader configured",
		slog.Int("threads", cfg.Downloader.Threads),
		slog.String("min_segment_size", format.Bytes(cfg.Downloader.MinSegmentSize.Bytes())),
		slog.String("min_free_space", format.Bytes(cfg.Downloader.MinFreeSpace.Bytes())),
	)
	muxerSvc, err := muxer.New(cfg.Muxer)
	if err != nil {
		return fmt.Errorf("initializing muxer: %w", err)
	}
	pathCache := cache.NewPathCache()
	danmakuFetcher := danmaku.New(remoteClient)
	keywordFilter := &filtering.KeywordFilter{}
	titleRenamer := renamer.Noop{}

	ring := ingestlog.New(cfg.IngestLog.Capacity)
	metricsRegistry := metrics.New()

	fingerprints := pipeline.NewFingerprintTracker()

	newOrchestrator := func(source *models.Source) (*pipeline.Orchestrator, error) {
		ctor, err := sourceFactory.Get(source.Variant)
		if err != nil {
			return nil, fmt.Errorf("resolving source adapter: %w", err)
		}
		adapter := ctor(source, remoteClient)
		adapter.SetRelationID(source.ID)
		adapter.SetCursor(source.Cursor)

		state := pipeline.NewState(source, adapter, logger)
		state.SourceRepo = sourceRepo
		state.VideoRepo = videoRepo
		state.PageRepo = pageRepo
		state.Detail = pipeline.NewRemoteDetailClient(remoteClient)
		state.Fetcher = downloaderSvc
		state.Muxer = muxerSvc
		state.Filter = keywordFilter
		state.Ingest = ring
		state.Paths = pathCache
		state.Danmaku = danmakuFetcher
		state.Renamer = titleRenamer
		state.Metrics = metricsRegistry
		state.Fingerprints = fingerprints
		state.VideoConcurrency = cfg.Pipeline.VideoConcurrency
		state.PageConcurrency = cfg.Pipeline.PageConcurrency

		return pipeline.NewOrchestrator(state, []pipeline.Stage{
			stages.NewCreateStage(),
			stages.NewFetchDetailStage(),
			stages.NewDownloadStage(),
		}), nil
	}

	var logRotator scheduler.LogRotator
	if csvSink != nil {
		logRotator = csvSink
	}

	schedConfig := scheduler.DefaultConfig()
	schedConfig.ScanInterval = cfg.Scheduler.ScanInterval.Duration()
	if cfg.Scheduler.LogRetentionDays > 0 {
		schedConfig.LogRotateSchedule = "0 0 * * *"
	}

	sched := scheduler.New(sourceRepo, newOrchestrator, logRotator, logger, schedConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	if cfg.Debug.Enabled {
		serverConfig := internalhttp.DefaultServerConfig()
		if cfg.Debug.Addr != "" {
			serverConfig.Host, serverConfig.Port = splitHostPort(cfg.Debug.Addr, serverConfig.Host, serverConfig.Port)
		}
		if h := viper.GetString("debug.host_override"); h != "" {
			serverConfig.Host = h
		}
		if p := viper.GetInt("debug.port_override"); p != 0 {
			serverConfig.Port = p
		}

		server := internalhttp.NewServer(serverConfig, logger)
		healthHandler := handlers.NewHealthHandler(version.Version).WithDB(db.DB).WithScheduler(sched)
		server.RegisterDebugRoutes(healthHandler, metricsRegistry, ring)

		logger.Info("starting debug HTTP server", slog.String("addr", cfg.Debug.Addr))
		if err := server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("debug HTTP server: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// splitHostPort parses "host:port" into its parts, falling back to the
// given defaults on a malformed address rather than failing startup over a
// debug-surface misconfiguration.
func splitHostPort(addr, fallbackHost string, fallbackPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fallbackHost, fallbackPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fallbackHost, fallbackPort
	}
	return host, port
}
