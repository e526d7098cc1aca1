package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/engine"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/schedule"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/watcher"
	"github.com/hochfrequenz/claude-chain-orchestrator/web/api"
)

var (
	servePort int
	serveHost string
)

// scheduleSyncInterval is how often serve picks up schedules changed by
// other processes
const scheduleSyncInterval = time.Minute

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API, run schedules and watch the chains directory",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	if n, err := a.store.FailInterruptedRuns(); err != nil {
		return err
	} else if n > 0 {
		a.log.Warnw("marked interrupted runs as failed", "count", n)
	}

	schedules, err := a.store.ListSchedules()
	if err != nil {
		return err
	}
	sched, err := schedule.NewScheduler(schedules, a.log.Named("schedule"))
	if err != nil {
		return err
	}

	m := a.newManager()
	defer m.Close()

	host, port := a.cfg.Web.Host, a.cfg.Web.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	server := api.NewServer(api.Options{
		Addr:      addr,
		Store:     a.store,
		Runs:      m,
		Catalog:   a.catalog(),
		Scheduler: sched,
		Logger:    a.log.Named("api"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})
	g.Go(func() error {
		return sched.Start(ctx, scheduledRun(a, m))
	})
	g.Go(func() error {
		return syncSchedules(ctx, a, sched)
	})
	if dir := a.cfg.General.ChainsDir; dir != "" {
		w, err := watcher.New(dir, a.store, a.log.Named("watcher"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	fmt.Printf("Serving on http://%s\n", addr)
	return g.Wait()
}

// scheduledRun runs the schedule's chain to completion and records when it fired
func scheduledRun(a *app, m *engine.Manager) schedule.RunFunc {
	return func(ctx context.Context, sch domain.Schedule) error {
		if err := a.store.MarkScheduleRun(sch.ID, time.Now()); err != nil {
			a.log.Warnw("failed to record schedule run", "schedule_id", sch.ID, "error", err)
		}
		run, err := m.Run(ctx, sch.ChainID, nil)
		if err != nil {
			return err
		}
		m.Forget(run.ID)
		if run.Status != domain.RunCompleted {
			return fmt.Errorf("run %s %s: %s", run.ID, run.Status, run.Error)
		}
		return nil
	}
}

// syncSchedules reloads schedules from the store until ctx is done
func syncSchedules(ctx context.Context, a *app, sched *schedule.Scheduler) error {
	ticker := time.NewTicker(scheduleSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			schedules, err := a.store.ListSchedules()
			if err != nil {
				a.log.Warnw("failed to reload schedules", "error", err)
				continue
			}
			if err := sched.Sync(schedules); err != nil {
				a.log.Warnw("failed to sync schedules", "error", err)
			}
		}
	}
}
