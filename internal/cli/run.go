package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/metrics"
	"github.com/roach88/geoattend/internal/presence"
	"github.com/roach88/geoattend/internal/recovery"
	"github.com/roach88/geoattend/internal/session"
	"github.com/roach88/geoattend/internal/syncer"
	"github.com/roach88/geoattend/internal/tracking"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Events      string // JSON-lines event file, "-" for stdin
	MetricsAddr string
	NoGeofence  bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the attendance daemon",
		Long: `Run the attendance daemon until interrupted.

Startup reconciles any session left open by a previous run, re-arms zone
monitoring and requests a sync pass. The daemon then polls the device
status file for zone transitions, delivers events to the session state
machine one at a time, and pushes completed sessions to the remote store.

Events can also be fed as JSON lines, one per line:
  {"kind":"zone_enter","zone_id":"office"}

Example:
  geoattend run
  geoattend run --events - --no-geofence
  geoattend run --metrics-addr :9090 --log-file activity.log`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Events, "events", "", `read JSON-lines events from this file ("-" for stdin)`)
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.NoGeofence, "no-geofence", false, "do not poll the device status file for zone transitions")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.ensureZone(ctx); err != nil {
		return a.out.Fail(ExitCommandError, CodeStore, "failed to persist zone", err)
	}

	zone, err := a.zone(ctx)
	if err != nil {
		return a.out.Fail(ExitCommandError, CodeStore, "failed to load zone", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	dev := a.device()
	notifier := a.notifier()

	engine, err := a.engine(m)
	if err != nil {
		return a.out.Fail(ExitCommandError, CodeRemote, "failed to open remote store", err)
	}
	sched := syncer.NewScheduler(engine, syncer.SchedulerConfig{
		Interval:     a.cfg.Sync.Interval.Std(),
		RetryBackoff: a.cfg.Sync.RetryBackoff.Std(),
		MaxBackoff:   a.cfg.Sync.MaxBackoff.Std(),
	}, syncer.WithSchedulerLogger(logger), syncer.OnRun(func(reason string, rep syncer.Report, err error) {
		if err != nil {
			return
		}
		logger.Info("sync pass finished", "reason", reason, "report", rep.String())
	}))

	// The dispatcher is created after the tracker, which reports permission
	// loss back through it.
	var dispatcher *session.Dispatcher
	tracker := tracking.New(dev, a.gate(), dev, tracking.Config{
		TelemetryInterval:   a.cfg.Tracking.TelemetryInterval.Std(),
		GateRecheckInterval: a.cfg.Tracking.GateRecheckInterval.Std(),
	},
		tracking.WithZone(zone),
		tracking.WithNotifier(notifier),
		tracking.WithLogger(logger),
		tracking.OnPermissionLost(func() {
			dispatcher.Enqueue(attendance.Event{
				Kind:   attendance.EventPermissionLost,
				Source: "tracking",
				At:     time.Now(),
			})
		}),
	)
	defer tracker.Stop()

	manager, err := a.manager(ctx, dev,
		session.WithZone(zone),
		session.WithTracker(tracker),
		session.WithSync(sched),
		session.WithMetrics(m),
	)
	if err != nil {
		return a.out.Fail(ExitCommandError, CodeStore, "failed to build session manager", err)
	}
	dispatcher = session.NewDispatcher(manager,
		session.WithDispatcherLogger(logger),
		session.WithObserver(func(ev attendance.Event, res session.Result, err error) {
			if err == nil {
				logger.Info("event handled", "event", ev.String(), "outcome", res.Outcome.String(), "record_id", res.Record.ID)
			}
		}),
	)
	defer dispatcher.Stop()

	geofencer := presence.NewGeofencer(dev,
		presence.WithPollInterval(a.cfg.Presence.PollInterval.Std()),
		presence.WithLogger(logger),
	)

	proc := recovery.New(a.store, geofencer, dev, manager,
		recovery.WithPolicy(a.policy()),
		recovery.WithUserID(a.cfg.UserID),
		recovery.WithFallbackZone(zone),
		recovery.WithNotifier(notifier),
		recovery.WithMetrics(m),
		recovery.WithLogger(logger),
	)
	// Recovery finishes before any live event is delivered.
	rep, err := proc.Run(ctx)
	if err != nil {
		return a.out.Fail(ExitFailure, CodeFailed, "recovery failed", err)
	}
	a.out.VerboseLog("Recovery: %s", rep.Action)

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", "component", name, "error", err)
			}
		}()
	}

	spawn("dispatcher", dispatcher.Run)
	spawn("sync_scheduler", sched.Run)
	if !opts.NoGeofence {
		spawn("geofencer", func(ctx context.Context) error {
			return geofencer.Run(ctx, dispatcher)
		})
	}
	if opts.Events != "" {
		in, closeIn, err := openEvents(opts.Events, cmd.InOrStdin())
		if err != nil {
			cancel()
			wg.Wait()
			return a.out.Fail(ExitCommandError, CodeInput, "failed to open events", err)
		}
		defer closeIn()
		reader := presence.NewLineReader("events", logger)
		spawn("events", func(ctx context.Context) error {
			stats, err := reader.Forward(ctx, in, dispatcher)
			logger.Info("event input finished", "accepted", stats.Accepted, "rejected", stats.Rejected)
			return err
		})
	}
	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           metricsMux(m),
			ReadHeaderTimeout: 5 * time.Second,
		}
		spawn("metrics", func(ctx context.Context) error {
			return serveMetrics(ctx, srv, logger)
		})
	}

	sched.Enqueue(syncer.ReasonStartup)

	fmt.Fprintln(cmd.OutOrStdout(), "Daemon started. Watching zone", zone.ID)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	<-ctx.Done()
	dispatcher.Stop()
	wg.Wait()

	logger.Info("daemon stopped gracefully")
	return nil
}

// openEvents opens path for reading; "-" is stdin.
func openEvents(path string, stdin io.Reader) (io.Reader, func() error, error) {
	if path == "-" {
		return stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func metricsMux(m *metrics.Set) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// serveMetrics runs srv until ctx is cancelled.
func serveMetrics(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}
