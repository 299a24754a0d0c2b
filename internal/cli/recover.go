package cli

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/roach88/geoattend/internal/presence"
	"github.com/roach88/geoattend/internal/recovery"
	"github.com/roach88/geoattend/internal/session"
	"github.com/roach88/geoattend/internal/syncer"
)

// RecoverOptions holds flags for the recover command.
type RecoverOptions struct {
	*RootOptions
	NoSync bool
}

// RecoverResult is the recover command output.
type RecoverResult struct {
	Action    string      `json:"action"`
	Rearmed   bool        `json:"rearmed"`
	FixSource string      `json:"fix_source,omitempty"`
	DistanceM int64       `json:"distance_m"`
	Record    *RecordView    `json:"record,omitempty"`
	Sync      *syncer.Report `json:"sync,omitempty"`
}

func (r RecoverResult) String() string {
	s := fmt.Sprintf("recovery: %s (rearmed=%t", r.Action, r.Rearmed)
	if r.FixSource != "" {
		s += fmt.Sprintf(", fix=%s, distance=%dm", r.FixSource, r.DistanceM)
	}
	s += ")"
	if r.Record != nil {
		s += fmt.Sprintf("\n  record %d", r.Record.ID)
	}
	if r.Sync != nil {
		s += "\n  sync: " + r.Sync.String()
	}
	return s
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecoverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reconcile session state as after a restart",
		Long: `Run the restart recovery procedure once and print what it did.

Recovery re-arms the persisted zone, takes a location fix from the device
status file and resumes, opens or closes the session accordingly. A
session closed here is synced right away unless --no-sync is given. The
run command does this at startup; this command is for inspecting it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoSync, "no-sync", false, "Do not push a closed session to the remote store")

	return cmd
}

func runRecover(opts *RecoverOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	dev := a.device()
	zone, err := a.zone(ctx)
	if err != nil {
		return a.out.Fail(ExitCommandError, CodeStore, "failed to load zone", err)
	}
	flag := &syncFlag{}
	manager, err := a.manager(ctx, dev, session.WithSync(flag))
	if err != nil {
		return a.out.Fail(ExitCommandError, CodeStore, "failed to build session manager", err)
	}
	monitor := presence.NewGeofencer(dev, presence.WithLogger(a.logger))

	proc := recovery.New(a.store, monitor, dev, manager,
		recovery.WithPolicy(a.policy()),
		recovery.WithUserID(a.cfg.UserID),
		recovery.WithFallbackZone(zone),
		recovery.WithNotifier(a.notifier()),
		recovery.WithLogger(a.logger),
	)
	rep, err := proc.Run(ctx)
	if err != nil {
		return a.out.Fail(ExitFailure, CodeFailed, "recovery failed", err)
	}

	result := RecoverResult{
		Action:    string(rep.Action),
		Rearmed:   rep.Rearmed,
		FixSource: rep.FixSource,
		DistanceM: int64(math.Round(rep.Distance)),
	}
	if rep.Record.ID != 0 {
		view := newRecordView(rep.Record)
		result.Record = &view
	}

	if flag.requested && !opts.NoSync {
		a.out.VerboseLog("Sync requested: %s", flag.reason)
		engine, err := a.engine(nil)
		if err != nil {
			return a.out.Fail(ExitFailure, CodeRemote, "failed to open remote store", err)
		}
		rep, err := engine.Run(ctx)
		if err != nil {
			return a.out.Fail(ExitFailure, CodeFailed, "sync failed", err)
		}
		result.Sync = &rep
	}

	return a.out.Success(result)
}
