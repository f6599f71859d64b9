package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"lathe/internal/config"
	"lathe/internal/daemon"
	"lathe/internal/generate"
	"lathe/internal/logging"
	"lathe/internal/notifications"
	"lathe/internal/orchestrator"
	"lathe/internal/preflight"
	"lathe/internal/progress"
	"lathe/internal/queue"
	"lathe/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	for _, check := range preflight.RunAll(ctx, cfg) {
		if check.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail))
			continue
		}
		logger.Warn("preflight check failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldErrorHint, "fix the configuration before submitting work"))
	}

	store, err := queue.Open(cfg)
	if err != nil {
		log.Fatalf("open queue store: %v", err)
	}

	retention := time.Duration(cfg.Progress.RetentionMinutes) * time.Minute
	snapshots, err := progress.OpenSnapshots(cfg.ProgressDBDir(), retention)
	if err != nil {
		log.Fatalf("open progress store: %v", err)
	}
	hub := progress.NewHub(cfg.Progress.HubCapacity)
	tracker := progress.NewTracker(hub, snapshots, logger)

	notifier := notifications.NewService(cfg)
	orch := orchestrator.New(cfg, store, tracker, notifier, logger)

	generator := generate.NewHTTP(cfg)
	executors := worker.DefaultExecutors(store, generator, cfg, logger)
	manager := worker.NewManager(store, orch, executors, worker.SettingsFromConfig(cfg), logger)

	d, err := daemon.New(cfg, store, tracker, orch, manager, logger)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer d.Close()
	d.SetShutdownFunc(cancel)

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("lathed shutting down")
}
