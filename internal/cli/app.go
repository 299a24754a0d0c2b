package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/config"
	"github.com/roach88/geoattend/internal/device"
	"github.com/roach88/geoattend/internal/gate"
	"github.com/roach88/geoattend/internal/metrics"
	"github.com/roach88/geoattend/internal/notify"
	"github.com/roach88/geoattend/internal/recovery"
	"github.com/roach88/geoattend/internal/remote"
	"github.com/roach88/geoattend/internal/session"
	"github.com/roach88/geoattend/internal/store"
	"github.com/roach88/geoattend/internal/syncer"
)

// app holds what every command needs: configuration, logging and the
// record store.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	out    *OutputFormatter

	closers []func() error
}

// openApp loads configuration, configures logging and opens the store.
// Errors are already reported through the formatter.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	out := newFormatter(cmd, opts)

	cfg, err := config.Load(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "failed to load configuration", err)
	}

	a := &app{cfg: cfg, out: out}

	logger, closeLog, err := newLogger(opts, cmd.ErrOrStderr())
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "failed to open log file", err)
	}
	a.logger = logger
	a.closers = append(a.closers, closeLog)
	slog.SetDefault(logger)

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		a.Close()
		return nil, out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Error("error during shutdown", "error", err)
		}
	}
	a.closers = nil
}

// newLogger builds the slog logger for opts. Records go to w, and are also
// appended to opts.LogFile when set.
func newLogger(opts *RootOptions, w io.Writer) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	closeFn := func() error { return nil }
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(w, f)
		closeFn = f.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), closeFn, nil
}

// zone returns the persisted zone, falling back to the configured one.
func (a *app) zone(ctx context.Context) (attendance.Zone, error) {
	z, ok, err := a.store.LoadZone(ctx)
	if err != nil {
		return attendance.Zone{}, err
	}
	if ok && z.Armable() {
		return z, nil
	}
	return a.cfg.ZoneValue(), nil
}

// ensureZone persists the configured zone when none has been saved yet.
func (a *app) ensureZone(ctx context.Context) error {
	z, ok, err := a.store.LoadZone(ctx)
	if err != nil {
		return err
	}
	if ok && z.Armable() {
		return nil
	}
	cz := a.cfg.ZoneValue()
	if !cz.Armable() {
		return nil
	}
	a.logger.Info("persisting configured zone", "zone_id", cz.ID)
	return a.store.SaveZone(ctx, cz)
}

func (a *app) device() *device.StatusFile {
	return device.NewStatusFile(a.cfg.DeviceStatus)
}

func (a *app) gate() *gate.Gate {
	return gate.New(a.cfg.TrustedNetworks...)
}

func (a *app) notifier() notify.Notifier {
	return notify.NewLogger(a.logger.With("component", "notify"))
}

// policy maps the recovery config section onto a recovery.Policy.
func (a *app) policy() recovery.Policy {
	return recovery.Policy{
		OnProbeFailure: recovery.ProbeFailurePolicy(a.cfg.Recovery.OnProbeFailure),
		OnEmptyStore:   recovery.EmptyStorePolicy(a.cfg.Recovery.OnEmptyStore),
		FixTimeout:     a.cfg.Recovery.FixTimeout.Std(),
	}
}

// manager builds a session manager over the store with the device status
// file as network identity. Extra options override the defaults.
func (a *app) manager(ctx context.Context, dev *device.StatusFile, opts ...session.Option) (*session.Manager, error) {
	z, err := a.zone(ctx)
	if err != nil {
		return nil, fmt.Errorf("load zone: %w", err)
	}
	base := []session.Option{
		session.WithUserID(a.cfg.UserID),
		session.WithZone(z),
		session.WithNotifier(a.notifier()),
		session.WithLogger(a.logger),
	}
	return session.New(a.store, a.gate(), dev, append(base, opts...)...), nil
}

// openRemote opens the configured remote store and registers it for Close.
func (a *app) openRemote() (*remote.Client, error) {
	a.logger.Debug("opening remote store", "driver", a.cfg.Remote.Driver)
	client, err := remote.Open(a.cfg.Remote.Driver, a.cfg.Remote.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return client, nil
}

// engine builds a sync engine against the configured remote store.
func (a *app) engine(m *metrics.Set) (*syncer.Engine, error) {
	client, err := a.openRemote()
	if err != nil {
		return nil, err
	}
	opts := []syncer.Option{
		syncer.WithCollection(a.cfg.Sync.Collection),
		syncer.WithLogger(a.logger),
	}
	if m != nil {
		opts = append(opts, syncer.WithMetrics(m))
	}
	return syncer.NewEngine(a.store, client, opts...), nil
}

// syncFlag records whether a transition asked for a sync pass.
type syncFlag struct {
	requested bool
	reason    string
}

func (f *syncFlag) Enqueue(reason string) {
	f.requested = true
	f.reason = reason
}
