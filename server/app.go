package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"labelpanel/cache"
	"labelpanel/config"
	"labelpanel/core/audit"
	"labelpanel/core/auth"
	"labelpanel/core/catalog"
	"labelpanel/core/commit"
	"labelpanel/core/progress"
	"labelpanel/core/release"
	"labelpanel/core/upload"
	"labelpanel/db"
	"labelpanel/logger"
	"labelpanel/repository"
	"labelpanel/storage"
)

// App holds the wired components shared by the server and the CLI commands.
type App struct {
	Config    *config.Config
	Hub       *progress.Hub
	Commits   *commit.Coordinator
	Merger    *release.Merger
	Assembler *upload.Assembler
	Verifier  *auth.Verifier

	recorder *audit.Recorder
}

// NewApp connects MySQL, Redis and (optionally) MinIO and wires the pipeline.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.TempUploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp upload dir %s: %w", cfg.TempUploadDir, err)
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(); err != nil {
		return nil, err
	}

	var (
		sequencer upload.Sequencer = upload.NewMemorySequencer()
		locker    commit.Locker    = commit.NewMemoryLocker()
	)
	if cfg.RedisHost != "" {
		if err := cache.ConnectRedis(cfg); err != nil {
			return nil, err
		}
		sequencer = cache.NewChunkSequence(cache.RedisClient)
		locker = cache.NewCommitLock(cache.RedisClient)
	} else {
		logger.Warn("REDIS_HOST not set, chunk ordering and commit locks are process-local")
	}

	var archive commit.Archiver
	if cfg.ArchiveMasters {
		a, err := storage.NewArchive(cfg)
		if err != nil {
			return nil, err
		}
		if err := a.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		archive = a
	}

	client := catalog.NewClient(catalog.Config{
		BaseURL:  cfg.CatalogAPIURL,
		APIKey:   cfg.CatalogAPIKey,
		Referer:  cfg.CatalogReferer,
		Timeout:  cfg.CatalogTimeout,
		Token:    cfg.CatalogToken,
		Username: cfg.CatalogUsername,
		Password: cfg.CatalogPassword,
	}, nil)

	recorder := audit.NewRecorder(repository.NewGormAuditRepository(db.GormDB))
	hub := progress.NewHub()
	go hub.Run()

	tracks := repository.NewGormTrackRepository(db.GormDB)
	assembler := upload.NewAssembler(cfg.TempUploadDir, sequencer)
	commits := commit.New(commit.Options{
		Staging:          repository.NewGormStagingRepository(db.GormDB),
		Tracks:           tracks,
		Catalog:          client,
		Locker:           locker,
		Archive:          archive,
		Progress:         hub,
		Audit:            recorder,
		DefaultReleaseID: cfg.DefaultReleaseID,
	})
	merger := release.NewMerger(client, commits, repository.NewGormReleaseRepository(db.GormDB), assembler, recorder)

	return &App{
		Config:    cfg,
		Hub:       hub,
		Commits:   commits,
		Merger:    merger,
		Assembler: assembler,
		Verifier:  auth.NewVerifier(cfg.JWTSecret),
		recorder:  recorder,
	}, nil
}

// Close drains pending audit writes and releases the connections.
func (a *App) Close() {
	a.Hub.Stop()

	done := make(chan struct{})
	go func() {
		a.recorder.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("audit writes still pending at shutdown")
	}

	if err := cache.CloseRedis(); err != nil {
		logger.Warn("failed to close Redis", logger.ErrorField(err))
	}
	if err := db.CloseGormDB(); err != nil {
		logger.Warn("failed to close database", logger.ErrorField(err))
	}
}
