package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/geoattend/internal/attendance"
)

// RecordsOptions holds flags for the records command.
type RecordsOptions struct {
	*RootOptions
	Limit    int
	Unsynced bool
}

// RecordView is the JSON form of an attendance record.
type RecordView struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id,omitempty"`
	ZoneLabel string `json:"zone_label"`
	CheckIn   string `json:"check_in"`
	CheckOut  string `json:"check_out,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Completed bool   `json:"completed"`
	Synced    bool   `json:"synced"`
	RemoteID  string `json:"remote_id,omitempty"`
}

func newRecordView(r attendance.Record) RecordView {
	v := RecordView{
		ID:        r.ID,
		UserID:    r.UserID,
		ZoneLabel: r.ZoneLabel,
		CheckIn:   r.CheckInTime.UTC().Format(time.RFC3339),
		Completed: r.Completed(),
		Synced:    r.Synced,
		RemoteID:  r.RemoteID,
	}
	if r.CheckOutTime != nil {
		v.CheckOut = r.CheckOutTime.UTC().Format(time.RFC3339)
		v.Duration = r.Duration().String()
	}
	return v
}

// RecordList is the records command output.
type RecordList struct {
	Records []RecordView `json:"records"`
	Total   int          `json:"total"`
}

func (l RecordList) String() string {
	if len(l.Records) == 0 {
		return "No records."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-12s %-20s %-20s %-10s %s\n", "ID", "USER", "CHECK IN", "CHECK OUT", "DURATION", "SYNCED")
	for _, r := range l.Records {
		out := r.CheckOut
		if out == "" {
			out = "active"
		}
		synced := "no"
		if r.Synced {
			synced = "yes"
		}
		fmt.Fprintf(&b, "%-6d %-12s %-20s %-20s %-10s %s\n", r.ID, r.UserID, r.CheckIn, out, r.Duration, synced)
	}
	fmt.Fprintf(&b, "%d record(s)", l.Total)
	return b.String()
}

// NewRecordsCommand creates the records command.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List attendance records, newest first",
		Long: `List attendance records from the local store, newest first.

Examples:
  geoattend records
  geoattend records --unsynced
  geoattend records --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRecords(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many records (0 for all)")
	cmd.Flags().BoolVar(&opts.Unsynced, "unsynced", false, "only completed records not yet synced")

	return cmd
}

func listRecords(opts *RecordsOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.AllRecords(cmd.Context())
	if err != nil {
		return a.out.Fail(ExitFailure, CodeStore, "failed to list records", err)
	}

	list := RecordList{Records: []RecordView{}}
	for _, r := range records {
		if opts.Unsynced && !r.Eligible() {
			continue
		}
		if opts.Limit > 0 && len(list.Records) >= opts.Limit {
			break
		}
		list.Records = append(list.Records, newRecordView(r))
	}
	list.Total = len(list.Records)

	return a.out.Success(list)
}
