package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/geoattend/internal/syncer"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push completed sessions to the remote store",
		Long: `Run one synchronization pass.

Every completed record that is not yet synced is pushed to the remote
store. Records already pushed once are updated in place; records without
a user are skipped. Running sync again is always safe.

Exit codes:
  0 - Every eligible record was pushed (or there was nothing to do)
  1 - One or more records failed to push
  2 - Command error (bad config, unreachable remote store)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.engine(nil)
	if err != nil {
		return a.out.Fail(ExitCommandError, CodeRemote, "failed to open remote store", err)
	}

	a.out.VerboseLog("Sync pass (%s)", syncer.ReasonManual)
	rep, err := engine.Run(cmd.Context())
	if err != nil {
		return a.out.Fail(ExitFailure, CodeFailed, "sync failed", err)
	}

	if err := a.out.Success(rep); err != nil {
		return err
	}
	if rep.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) failed to sync", rep.Failed))
	}
	return nil
}
