package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/recarr/internal/artifacts"
	"github.com/jmylchreest/recarr/internal/automation"
	"github.com/jmylchreest/recarr/internal/config"
	"github.com/jmylchreest/recarr/internal/credentials"
	"github.com/jmylchreest/recarr/internal/database"
	"github.com/jmylchreest/recarr/internal/database/migrations"
	internalhttp "github.com/jmylchreest/recarr/internal/http"
	"github.com/jmylchreest/recarr/internal/http/handlers"
	"github.com/jmylchreest/recarr/internal/httpclient"
	"github.com/jmylchreest/recarr/internal/ingest"
	"github.com/jmylchreest/recarr/internal/match"
	"github.com/jmylchreest/recarr/internal/media"
	"github.com/jmylchreest/recarr/internal/pipeline"
	"github.com/jmylchreest/recarr/internal/pipeline/steps"
	"github.com/jmylchreest/recarr/internal/providers"
	"github.com/jmylchreest/recarr/internal/queue"
	"github.com/jmylchreest/recarr/internal/quota"
	"github.com/jmylchreest/recarr/internal/repository"
	"github.com/jmylchreest/recarr/internal/retention"
	"github.com/jmylchreest/recarr/internal/scheduler"
	"github.com/jmylchreest/recarr/internal/startup"
	"github.com/jmylchreest/recarr/internal/tokens"
	"github.com/jmylchreest/recarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recarr server",
	Long: `Start the recarr server: queue workers, the automation scheduler,
and the HTTP control plane.

The server provides:
- REST API for recordings, sources, templates, tasks, and quota
- Health check endpoint and Prometheus metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "recarr.db", "Database DSN")
	serveCmd.Flags().String("data-dir", "./data", "Artifact root directory")

	// Bind flags to viper
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	viper.BindPFlag("storage.root", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Database and schema
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Artifact store
	store, err := artifacts.NewStore(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("initializing artifact store: %w", err)
	}

	// Sweep leftovers from interrupted runs before anything writes.
	if n, err := startup.SweepScratchDir(logger, store.TempDir(), startup.DefaultSweepAge); err != nil {
		logger.Warn("scratch sweep failed", slog.Any("error", err))
	} else if n > 0 {
		logger.Info("swept abandoned scratch entries", slog.Int("removed", n))
	}
	if n, err := startup.SweepAbandonedWrites(logger, store.Root(), startup.DefaultSweepAge); err != nil {
		logger.Warn("temp file sweep failed", slog.Any("error", err))
	} else if n > 0 {
		logger.Info("swept abandoned temp files", slog.Int("removed", n))
	}

	// Repositories
	userRepo := repository.NewUserRepository(db.DB)
	recordingRepo := repository.NewRecordingRepository(db.DB, artifacts.Remover{})
	sourceRepo := repository.NewInputSourceRepository(db.DB)
	templateRepo := repository.NewTemplateRepository(db.DB)
	presetRepo := repository.NewPresetRepository(db.DB)
	timingRepo := repository.NewTimingRepository(db.DB)
	taskRepo := repository.NewTaskRepository(db.DB)
	joinRepo := repository.NewJoinRepository(db.DB)
	quotaRepo := repository.NewQuotaRepository(db.DB)
	credentialRepo := repository.NewCredentialRepository(db.DB)
	automationRepo := repository.NewAutomationRepository(db.DB)

	// Return tasks a dead worker still holds before the dispatcher starts.
	if _, err := startup.RecoverInterruptedTasks(context.Background(), logger, taskRepo, 0); err != nil {
		return fmt.Errorf("recovering interrupted tasks: %w", err)
	}

	// Credential vault
	sealer, err := newSealer(cfg.Security, logger)
	if err != nil {
		return err
	}
	vault := credentials.NewVault(credentialRepo, sealer)
	tokenManager := tokens.NewManager(logger)

	// Outbound HTTP shared by every provider adapter.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.Providers.HTTP.Timeout
	httpCfg.RetryAttempts = cfg.Providers.HTTP.RetryAttempts
	httpCfg.RetryDelay = cfg.Providers.HTTP.RetryDelay
	httpCfg.UserAgent = version.UserAgent()
	httpCfg.Logger = logger
	httpClient := httpclient.New(httpCfg)

	meetingClient := providers.NewMeetingClient(cfg.Providers.Meeting.BaseURL, cfg.Providers.Meeting.TokenURL, httpClient)
	transcriber := providers.NewHTTPTranscriber(
		cfg.Providers.Transcription.BaseURL,
		cfg.Providers.Transcription.APIKey,
		cfg.Providers.Transcription.Model,
		httpClient,
	)
	topicExtractor := providers.NewHTTPTopicExtractor(cfg.Providers.Topics.BaseURL, cfg.Providers.Topics.APIKey, httpClient)

	uploaders := providers.NewUploaderRegistry()
	for _, up := range cfg.Providers.Uploads {
		uploaders.Register(providers.NewHTTPUploader(up.Platform, up.BaseURL, up.APIKey, httpClient))
		logger.Info("upload platform registered", slog.String("platform", up.Platform))
	}

	// Queue dispatcher and domain services
	dispatcher := queue.NewDispatcher(cfg.Queues, taskRepo, logger)
	quotaService := quota.NewService(quotaRepo, taskRepo, logger)
	matcher := match.NewMatcher(logger)

	syncer := ingest.NewSyncer(sourceRepo, recordingRepo, templateRepo, matcher, logger)
	syncer.RegisterFetcher(ingest.NewMeetingFetcher(meetingClient, vault, tokenManager, logger))
	syncer.RegisterFetcher(ingest.NewURLListFetcher(httpClient))
	syncer.RegisterFetcher(ingest.NewCloudFolderFetcher())
	syncer.RegisterFetcher(ingest.NewLocalFetcher(store))
	syncer.Register(dispatcher)

	env := &steps.Env{
		Recordings:          recordingRepo,
		Users:               userRepo,
		Templates:           templateRepo,
		Presets:             presetRepo,
		Timings:             timingRepo,
		Store:               store,
		Quota:               quotaService,
		Tokens:              tokenManager,
		Vault:               vault,
		Meeting:             meetingClient,
		Transcriber:         transcriber,
		Topics:              topicExtractor,
		Uploaders:           uploaders,
		HTTP:                httpClient,
		FFmpeg:              media.NewDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath),
		TopicsPrimaryModel:  cfg.Providers.Topics.PrimaryModel,
		TopicsFallbackModel: cfg.Providers.Topics.FallbackModel,
		Logger:              logger,
	}
	orchestrator := pipeline.NewOrchestrator(env, joinRepo, dispatcher, logger)
	orchestrator.Register()

	runner := automation.NewRunner(
		automationRepo, templateRepo, sourceRepo, recordingRepo, userRepo,
		syncer, orchestrator, matcher, logger,
	)
	runner.Register(dispatcher)

	controller := retention.NewController(
		recordingRepo, userRepo, credentialRepo, taskRepo,
		quotaService, store, cfg.Queues.TaskRetention, logger,
	)
	controller.Register(dispatcher)

	sched := scheduler.New(automationRepo, runner, dispatcher, cfg.Scheduler, cfg.Retention, logger)

	// HTTP control plane
	server := internalhttp.NewServer(cfg.Server, userRepo, logger, version.Version)

	handlers.NewHealthHandler(version.Version).WithDB(db.DB).Register(server.API())
	handlers.NewRecordingHandler(recordingRepo, userRepo, orchestrator).Register(server.API())
	handlers.NewSourceHandler(sourceRepo, dispatcher).Register(server.API())
	handlers.NewTemplateHandler(recordingRepo, templateRepo).Register(server.API())
	handlers.NewAutomationHandler(automationRepo, runner, dispatcher).Register(server.API())
	handlers.NewTaskHandler(taskRepo).Register(server.API())
	handlers.NewQuotaHandler(quotaService).Register(server.API())

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	logger.Info("starting recarr server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// newSealer builds the credential sealer from the configured vault key.
// Without a key, an ephemeral one is generated: the process works, but
// stored credentials do not survive a restart.
func newSealer(cfg config.SecurityConfig, logger *slog.Logger) (credentials.Sealer, error) {
	key, err := cfg.VaultKeyBytes()
	if err != nil {
		return nil, err
	}
	if key == nil {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating ephemeral vault key: %w", err)
		}
		logger.Warn("security.vault_key not set; stored credentials will not survive a restart")
	}
	sealer, err := credentials.NewAESSealer(key)
	if err != nil {
		return nil, fmt.Errorf("initializing credential sealer: %w", err)
	}
	return sealer, nil
}
