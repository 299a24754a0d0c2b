package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/geoattend/internal/attendance"
)

// ZoneView is the JSON form of a zone.
type ZoneView struct {
	ID      string  `json:"id"`
	Label   string  `json:"label"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	RadiusM float64 `json:"radius_m"`
	Source  string  `json:"source"` // "store" or "config"
}

func newZoneView(z attendance.Zone, source string) ZoneView {
	return ZoneView{
		ID:      z.ID,
		Label:   z.DisplayLabel(),
		Lat:     z.Center.Lat,
		Lon:     z.Center.Lon,
		RadiusM: z.RadiusMeters,
		Source:  source,
	}
}

func (v ZoneView) String() string {
	return fmt.Sprintf("%s (%s) at %.6f,%.6f radius %.0fm [%s]", v.ID, v.Label, v.Lat, v.Lon, v.RadiusM, v.Source)
}

// ZoneSetOptions holds flags for zone set.
type ZoneSetOptions struct {
	*RootOptions
	ID      string
	Label   string
	Lat     float64
	Lon     float64
	RadiusM float64
}

// NewZoneCommand creates the zone command group.
func NewZoneCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zone",
		Short: "Show or change the monitored zone",
		Long: `Show or change the monitored zone.

The persisted zone is what recovery re-arms after a restart. Until one is
saved, the zone from the config file is used.`,
	}

	cmd.AddCommand(newZoneShowCommand(rootOpts))
	cmd.AddCommand(newZoneSetCommand(rootOpts))

	return cmd
}

func newZoneShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Show the monitored zone",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			z, ok, err := a.store.LoadZone(cmd.Context())
			if err != nil {
				return a.out.Fail(ExitFailure, CodeStore, "failed to load zone", err)
			}
			if ok && z.Armable() {
				return a.out.Success(newZoneView(z, "store"))
			}
			return a.out.Success(newZoneView(a.cfg.ZoneValue(), "config"))
		},
	}
}

func newZoneSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ZoneSetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Persist a new monitored zone",
		Long: `Persist a new monitored zone. The running daemon picks it up on its
next restart.

Example:
  geoattend zone set --id office --label HQ --lat 28.720126 --lon 77.0822006 --radius 150`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			z := attendance.Zone{
				ID:           opts.ID,
				Label:        opts.Label,
				Center:       attendance.Coordinate{Lat: opts.Lat, Lon: opts.Lon},
				RadiusMeters: opts.RadiusM,
			}
			if err := validateZone(z); err != nil {
				return out.Fail(ExitCommandError, CodeInput, "invalid zone", err)
			}

			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SaveZone(cmd.Context(), z); err != nil {
				return a.out.Fail(ExitFailure, CodeStore, "failed to save zone", err)
			}
			a.logger.Info("zone saved", "zone_id", z.ID, "radius_m", z.RadiusMeters)
			return a.out.Success(newZoneView(z, "store"))
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "zone id (required)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "display label (defaults to "+attendance.DefaultZoneLabel+")")
	cmd.Flags().Float64Var(&opts.Lat, "lat", 0, "center latitude")
	cmd.Flags().Float64Var(&opts.Lon, "lon", 0, "center longitude")
	cmd.Flags().Float64Var(&opts.RadiusM, "radius", 0, "radius in meters (required)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("radius")

	return cmd
}

func validateZone(z attendance.Zone) error {
	var errs []error
	if !z.Armable() {
		errs = append(errs, errors.New("zone needs an id and a positive radius"))
	}
	if z.Center.Lat < -90 || z.Center.Lat > 90 {
		errs = append(errs, fmt.Errorf("latitude %v out of range", z.Center.Lat))
	}
	if z.Center.Lon < -180 || z.Center.Lon > 180 {
		errs = append(errs, fmt.Errorf("longitude %v out of range", z.Center.Lon))
	}
	return errors.Join(errs...)
}
