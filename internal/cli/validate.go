package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/geoattend/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("✓ %s is valid", r.Path)
	}
	return fmt.Sprintf("✗ %s has %d problem(s):\n  %s", r.Path, len(r.Problems), strings.Join(r.Problems, "\n  "))
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file without running anything",
		Long: `Validate a config file against the configuration schema.

Every problem is reported, not just the first. The environment and .env
overrides are not applied, so the file is checked as written. Defaults to
the --config path.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts)

	f, err := os.Open(path)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "failed to open config file", err)
	}
	defer f.Close()

	result := ValidationResult{Path: path, Valid: true}

	cfg, err := config.Decode(f)
	if err == nil {
		out.VerboseLog("Decoded %s, checking schema", path)
		err = cfg.Validate()
	}
	if err != nil {
		result.Valid = false
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			result.Problems = ve.Problems
		} else {
			result.Problems = []string{err.Error()}
		}
	}

	if err := out.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%s is invalid", path))
	}
	return nil
}
