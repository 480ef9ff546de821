package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetworks/fleetd/internal/blackboard"
	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/internal/config"
	"github.com/fleetworks/fleetd/internal/credits"
	"github.com/fleetworks/fleetd/internal/gateway"
	"github.com/fleetworks/fleetd/internal/journal"
	"github.com/fleetworks/fleetd/internal/metrics"
	"github.com/fleetworks/fleetd/internal/notify"
	"github.com/fleetworks/fleetd/internal/planner"
	"github.com/fleetworks/fleetd/internal/scheduler"
	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/internal/store/pg"
	"github.com/fleetworks/fleetd/internal/supervisor"
	"github.com/fleetworks/fleetd/internal/tracing"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the fleetd server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// runServe is the composition root: every component is constructed here
// and handed its dependencies explicitly. Nothing is global.
func runServe() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	log := slog.Default()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.PostgresDSN == "" {
		log.Error("FLEETD_POSTGRES_DSN is not set")
		os.Exit(1)
	}
	if cfg.Gateway.Secret == "" {
		log.Error("FLEETD_SECRET is not set")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Error("telemetry setup", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	db, err := pg.OpenDB(cfg.Database.PostgresDSN, cfg.Database.MaxOpenConns)
	if err != nil {
		log.Error("open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := pg.Migrate(db); err != nil {
		log.Error("migrate store", "error", err)
		os.Exit(1)
	}
	stores := pg.NewStores(db)

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Error("create data dir", "dir", dataDir, "error", err)
		os.Exit(1)
	}
	jrnl, err := journal.Open(filepath.Join(dataDir, "journal.db"))
	if err != nil {
		log.Error("open journal", "error", err)
		os.Exit(1)
	}
	defer jrnl.Close()

	workRoot := cfg.WorkRoot()
	if err := os.MkdirAll(workRoot, 0o755); err != nil {
		log.Error("create work root", "dir", workRoot, "error", err)
		os.Exit(1)
	}

	b := bus.New(log)
	m := metrics.New()

	fleetURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Gateway.Port)
	super := supervisor.New(supervisor.Config{
		WorkRoot:     workRoot,
		AgentCommand: cfg.Workers.AgentCommand,
		FleetURL:     fleetURL,
		GracePeriod:  time.Duration(cfg.Workers.GracePeriodSec) * time.Second,
		RestartCap:   cfg.Workers.RestartCap,
		RingCapacity: cfg.Workers.RingCapacity,
		TaskTimeout:  time.Duration(cfg.Workers.TaskTimeoutSec) * time.Second,
		ForceMemory:  cfg.Workers.ForceMemory,
	}, stores, jrnl, b, log)

	var notifier notify.Notifier = &notify.LogNotifier{Log: log}
	if cfg.Scheduler.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Scheduler.WebhookURL)
	}

	ledger := credits.New(stores, log)
	board := blackboard.New(stores, b, log)

	// Planner and scheduler reference each other: the scheduler enqueues
	// through the planner, and the planner asks the scheduler's gate
	// before advancing scheduler-originated items.
	var sched *scheduler.Scheduler
	pl := planner.New(planner.Config{
		Tick:      time.Duration(cfg.Planner.TickMs) * time.Millisecond,
		BatchSize: cfg.Planner.BatchSize,
		GlobalCap: cfg.Planner.GlobalCap,
		WorkRoot:  workRoot,
		SchedulerGate: func() bool {
			return sched == nil || sched.Gate()
		},
	}, stores, super, b, log)
	sched = scheduler.New(scheduler.Config{
		Tick:               time.Duration(cfg.Scheduler.TickSec) * time.Second,
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		DefaultRetries:     cfg.Scheduler.DefaultRetries,
		DefaultRetryDelay:  time.Duration(cfg.Scheduler.RetryDelaySec) * time.Second,
	}, stores, pl, b, notifier, log)

	// Counters update on bus events; gauges are sampled.
	b.Subscribe("metrics", func(ev bus.Event) {
		switch ev.Name {
		case protocol.EventSpawnAdmitted:
			m.SpawnAdmitted.Inc()
		case protocol.EventSpawnRejected:
			m.SpawnRejected.Inc()
		case protocol.EventScheduleFired:
			m.ScheduleFired.Inc()
		case protocol.EventTaskCompleted:
			m.TasksCompleted.Inc()
		case protocol.EventTaskFailed:
			m.TasksFailed.Inc()
		}
	})
	go sampleGauges(ctx, m, super, stores)

	pl.Start(ctx)
	defer pl.Stop()
	if cfg.Scheduler.Autostart {
		sched.Start(ctx)
		defer sched.Stop()
	}

	if cfg.Scheduler.SeedFile != "" {
		watcher := scheduler.NewWatcher(config.ExpandHome(cfg.Scheduler.SeedFile), stores, sched, log)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error("schedule seed watcher", "error", err)
			}
		}()
	}

	srv := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		Secret:       cfg.Gateway.Secret,
		RateLimitRPM: cfg.Gateway.RateLimitRPM,
		Version:      Version,
	}, stores, super, pl, board, ledger, sched, b, m, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("gateway", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := super.Shutdown(shutdownCtx); err != nil {
		log.Warn("supervisor shutdown", "error", err)
	}
}

// sampleGauges refreshes the worker and queue-depth gauges every 15s.
func sampleGauges(ctx context.Context, m *metrics.Metrics, super *supervisor.Supervisor, stores *store.Stores) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	states := []string{
		store.WorkerStateStarting, store.WorkerStateReady,
		store.WorkerStateWorking, store.WorkerStateStopping,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.WorkersLive.Set(float64(super.LiveCount(nil)))
			counts := super.StateCounts()
			for _, st := range states {
				m.WorkersByState.WithLabelValues(st).Set(float64(counts[st]))
			}
			qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			items, err := stores.SpawnQueue.ListSpawnItems(qctx, store.SpawnStatusPending, 1000)
			cancel()
			if err == nil {
				m.QueueDepth.Set(float64(len(items)))
			}
		}
	}
}
