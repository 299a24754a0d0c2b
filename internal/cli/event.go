package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/session"
	"github.com/roach88/geoattend/internal/syncer"
)

// EventOptions holds flags for the event and checkin commands.
type EventOptions struct {
	*RootOptions
	ZoneID string
	NoSync bool
}

// EventResult is the output of a handled event.
type EventResult struct {
	Event   string         `json:"event"`
	Outcome string         `json:"outcome"`
	Record  *RecordView    `json:"record,omitempty"`
	Gate    *GateView      `json:"gate,omitempty"`
	Sync    *syncer.Report `json:"sync,omitempty"`
}

// GateView is the JSON form of a gate decision.
type GateView struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
	SSID   string `json:"ssid,omitempty"`
}

func (r EventResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Event, r.Outcome)
	if r.Record != nil {
		fmt.Fprintf(&b, " (record %d)", r.Record.ID)
	}
	if r.Gate != nil && !r.Gate.Passed {
		fmt.Fprintf(&b, "\n  gate: %s", r.Gate.Reason)
	}
	if r.Sync != nil {
		fmt.Fprintf(&b, "\n  sync: %s", r.Sync)
	}
	return b.String()
}

// NewEventCommand creates the event command.
func NewEventCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "event <kind>",
		Short: "Deliver one event to the session state machine",
		Long: fmt.Sprintf(`Deliver one event to the session state machine and print the outcome.

Kinds: %s

A checkout requests a sync pass, which runs immediately unless --no-sync
is given.

Examples:
  geoattend event zone_enter --zone office
  geoattend event zone_exit --format json`, strings.Join(attendance.EventKindNames(), ", ")),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := attendance.ParseEventKind(args[0])
			if err != nil {
				out := newFormatter(cmd, rootOpts)
				return out.Fail(ExitCommandError, CodeInput, "invalid event kind", err)
			}
			return deliverEvent(opts, kind, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ZoneID, "zone", "", "zone id carried by the event (defaults to the monitored zone)")
	cmd.Flags().BoolVar(&opts.NoSync, "no-sync", false, "do not run the sync pass a checkout requests")

	return cmd
}

// NewCheckInCommand creates the checkin command.
func NewCheckInCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "checkin",
		Short: "Check in manually",
		Long: `Check in manually. The device must be on a trusted network.

An already open session is left as it is.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return deliverEvent(opts, attendance.EventManualCheckIn, cmd)
		},
	}
}

func deliverEvent(opts *EventOptions, kind attendance.EventKind, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.ensureZone(ctx); err != nil {
		return a.out.Fail(ExitCommandError, CodeStore, "failed to persist zone", err)
	}

	flag := &syncFlag{}
	manager, err := a.manager(ctx, a.device(), session.WithSync(flag))
	if err != nil {
		return a.out.Fail(ExitCommandError, CodeStore, "failed to build session manager", err)
	}

	zoneID := opts.ZoneID
	if zoneID == "" && kind != attendance.EventManualCheckIn {
		zoneID = manager.Zone().ID
	}
	ev := attendance.Event{Kind: kind, ZoneID: zoneID, Source: "cli", At: time.Now()}

	a.out.VerboseLog("Delivering %s", ev)
	res, err := manager.Handle(ctx, ev)
	if err != nil {
		return a.out.Fail(ExitFailure, CodeFailed, "event failed", err)
	}

	result := EventResult{Event: kind.String(), Outcome: res.Outcome.String()}
	if res.Record.ID != 0 {
		view := newRecordView(res.Record)
		result.Record = &view
	}
	if res.Gate != nil {
		result.Gate = &GateView{Passed: res.Gate.Passed, Reason: res.Gate.Reason, SSID: res.Gate.Identity.SSID}
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
