package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sitecrew/worksync/cmd/worksync/handlers"
	"github.com/sitecrew/worksync/internal/config"
	"github.com/sitecrew/worksync/internal/connectivity"
	"github.com/sitecrew/worksync/internal/logging"
	"github.com/sitecrew/worksync/internal/models"
	"github.com/sitecrew/worksync/internal/mutation"
	"github.com/sitecrew/worksync/internal/notify"
	"github.com/sitecrew/worksync/internal/remote"
	"github.com/sitecrew/worksync/internal/scheduler"
	"github.com/sitecrew/worksync/internal/store"
	"github.com/sitecrew/worksync/internal/tasks"
)

// serveCmd runs the agent
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync agent and its local API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !verbose {
		logging.Get().SetLevel(cfg.GetLogLevel())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	api, err := openRemote(cfg)
	if err != nil {
		return err
	}

	manager := mutation.NewManager(backend.Bucket(store.NamespaceMutations), api)
	defer manager.Close()
	monitor := connectivity.NewMonitor(cfg.GetConnectivityMode() != connectivity.ModeOffline)
	prober := connectivity.NewProber(monitor, cfg.ProberConfig())

	hub := notify.NewHub(notify.WithOriginCheck(originCheck(cfg.Server.AllowedOrigins)))
	defer hub.Close()
	recorder := notify.NewRecorder(100)

	svc := tasks.NewService(manager, api, monitor, tasks.WithNotifier(notify.Multi{hub, recorder}))

	onFlushed := func(ctx context.Context, res mutation.FlushResult, err error) {
		svc.HandleFlush(ctx, res)
		hub.BroadcastFlushed(res.Succeeded, res.Failed, res.Skipped, res.Remaining)
	}

	unsubscribe := monitor.Subscribe(func(ev connectivity.Event) {
		hub.BroadcastConnectivity(ev.Online, manager.QueueLength(ctx))
	})
	defer unsubscribe()

	listener := connectivity.Register(ctx, monitor, manager, connectivity.OnFlushed(onFlushed))
	defer listener.Wait()

	sched := scheduler.New(manager, monitor, cfg.SchedulerConfig(), scheduler.OnFlushed(onFlushed))
	if cfg.Scheduler.Enabled {
		sched.Start(ctx)
		defer sched.Stop()
	}

	prober.Start(ctx)
	defer prober.Stop()

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		if !verbose {
			logging.Get().SetLevel(next.GetLogLevel())
		}
		if mode := next.GetConnectivityMode(); mode != prober.Mode() {
			prober.SetMode(mode)
		}
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		logging.Warn("Config hot reload disabled", map[string]interface{}{"error": err.Error()})
	}
	defer watcher.Stop()

	routes := handlers.New(svc, manager, monitor, prober,
		handlers.WithScheduler(sched),
		handlers.WithFlushCallback(onFlushed),
		handlers.WithWebSocket(hub),
	).Routes()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("Worksync agent listening", map[string]interface{}{
			"addr":   cfg.Server.Addr,
			"store":  cfg.Store.Driver,
			"remote": cfg.Remote.Driver,
			"mode":   string(prober.Mode()),
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logging.Info("Worksync agent stopped", map[string]interface{}{
		"queue_length": manager.QueueLength(context.Background()),
	})
	return err
}

// openStore returns the configured backend and its closer.
func openStore(cfg *config.Config) (store.Backend, func(), error) {
	if cfg.Store.Driver == "memory" {
		logging.Warn("Using in-memory store, queued changes will not survive a restart", nil)
		return store.NewMemory(0), func() {}, nil
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			logging.Error("Failed to close store", err, nil)
		}
	}, nil
}

// openRemote returns the configured backend API.
func openRemote(cfg *config.Config) (remote.API, error) {
	if cfg.Remote.Driver == "memory" {
		logging.Warn("Using in-memory remote with demo tasks", nil)
		return remote.NewMemory(demoTasks(time.Now())...), nil
	}
	return remote.NewClient(remote.ClientConfig{
		BaseURL:     cfg.Remote.BaseURL,
		APIKey:      cfg.Remote.APIKey,
		AccessToken: cfg.Remote.AccessToken,
		Timeout:     cfg.GetRemoteTimeout(),
	})
}

func demoTasks(now time.Time) []models.Task {
	due := now.Add(48 * time.Hour).UTC().Truncate(time.Hour)
	return []models.Task{
		{ID: "demo-1", Title: "Inspect scaffolding on level 3", AssignedTo: "demo-worker", Status: models.TaskStatusPending, DueDate: &due, UpdatedAt: now},
		{ID: "demo-2", Title: "Pour east footing", AssignedTo: "demo-worker", Status: models.TaskStatusInProgress, UpdatedAt: now},
		{ID: "demo-3", Title: "Photograph rebar before inspection", AssignedTo: "demo-worker", Status: models.TaskStatusPending, UpdatedAt: now},
	}
}

// originCheck allows same-host requests and the configured origins.
func originCheck(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}
