package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftarr/driftarr/internal/api"
	"github.com/driftarr/driftarr/internal/config"
	"github.com/driftarr/driftarr/internal/database"
	"github.com/driftarr/driftarr/internal/decision"
	"github.com/driftarr/driftarr/internal/download"
	"github.com/driftarr/driftarr/internal/events"
	"github.com/driftarr/driftarr/internal/filesystem"
	"github.com/driftarr/driftarr/internal/history"
	"github.com/driftarr/driftarr/internal/identification"
	"github.com/driftarr/driftarr/internal/importer"
	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/logger"
	"github.com/driftarr/driftarr/internal/mediafile"
	"github.com/driftarr/driftarr/internal/parser"
	"github.com/driftarr/driftarr/internal/profile"
	"github.com/driftarr/driftarr/internal/scanner"
	"github.com/driftarr/driftarr/internal/scheduler"
	"github.com/driftarr/driftarr/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("Driftarr exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info().Str("db", cfg.Database.Path).Msg("Starting Driftarr")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	conn := db.Conn()

	bus := events.NewBus(log.WithComponent("events"))
	disk := filesystem.NewDisk()
	registry := profile.NewRegistry(profile.DefaultProfile())

	libraryStore := library.NewStore(conn)
	fileStore := mediafile.NewStore(conn, log.Logger)

	identify := identification.NewService(libraryStore, registry, parser.FileTagReader{}, log.Logger)
	engine := decision.NewEngine(registry, fileStore, cfg.Library.MinimumFileSize, log.Logger)
	importSvc := importer.NewService(fileStore, libraryStore, disk, bus, log.Logger)
	manualSvc := importer.NewManualService(disk, libraryStore, identify, engine, importSvc, log.Logger)

	historySvc := history.NewService(conn, bus, log.Logger)

	scanSvc := scanner.NewService(disk, libraryStore, fileStore, identify, engine, importSvc, bus,
		scanner.Options{RemoveEmptyFolders: cfg.Library.RemoveEmptyFolders}, log.Logger)

	tracked := download.NewTrackedStore(log.Logger)
	completed := download.NewCompletedService(historySvc, libraryStore, identify, engine, importSvc, disk, bus, log.Logger)
	// Download client adapters are registered through configuration; none
	// are wired statically.
	var clients []download.Client
	tracking := download.NewTrackingService(clients, tracked, completed, bus, log.Logger)
	pending := download.NewPendingService(conn, bus, log.Logger)

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := sched.RegisterTask(scheduler.TaskConfig{
		ID:         "rescan",
		Name:       "Rescan library",
		Cron:       cfg.Library.RescanCron,
		Func:       scanSvc.ScanAll,
		RunOnStart: true,
	}); err != nil {
		return err
	}
	if err := sched.RegisterTask(scheduler.TaskConfig{
		ID:   "downloads-poll",
		Name: "Poll download clients",
		Cron: cfg.Downloads.PollCron,
		Func: func(ctx context.Context) error {
			tracking.Refresh(ctx)
			return nil
		},
	}); err != nil {
		return err
	}

	server := api.NewServer(libraryStore, scanSvc, manualSvc, historySvc, tracked, tracking,
		pending, sched, log.Logger)

	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Warn().Err(err).Msg("Scheduler shutdown failed")
		}
	}()

	if cfg.Library.Watch {
		watchSvc, err := watcher.NewService(libraryStore, scanSvc, watcher.DefaultConfig(), log.Logger)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watchSvc.Start(context.Background()); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer func() {
			if err := watchSvc.Stop(); err != nil {
				log.Warn().Err(err).Msg("Watcher shutdown failed")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
