// Package config loads geoattend configuration.
//
// Configuration is a YAML file decoded strictly (unknown keys are errors),
// overlaid on defaults, then overridden from the environment (optionally
// seeded from a .env file). The result is validated against an embedded CUE
// schema before use.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/geoattend/internal/attendance"
)

//go:embed schema.cue
var schemaSource string

// Environment variables that override file values.
const (
	EnvDatabase     = "GEOATTEND_DATABASE"
	EnvUserID       = "GEOATTEND_USER_ID"
	EnvRemoteDriver = "GEOATTEND_REMOTE_DRIVER"
	EnvRemoteDSN    = "GEOATTEND_REMOTE_DSN"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "geoattend.yaml"

// Duration is a Go duration string such as "10s" or "5m".
type Duration string

// Std returns the parsed duration, or zero if d does not parse. Validate
// rejects unparseable values, so a validated Config never yields zero here
// by accident.
func (d Duration) Std() time.Duration {
	v, err := time.ParseDuration(string(d))
	if err != nil {
		return 0
	}
	return v
}

// Config is the full configuration.
type Config struct {
	Database        string                       `yaml:"database" json:"database"`
	UserID          string                       `yaml:"user_id" json:"user_id"`
	Zone            Zone                         `yaml:"zone" json:"zone"`
	TrustedNetworks []attendance.NetworkIdentity `yaml:"trusted_networks" json:"trusted_networks"`
	DeviceStatus    string                       `yaml:"device_status" json:"device_status"`
	Recovery        Recovery                     `yaml:"recovery" json:"recovery"`
	Tracking        Tracking                     `yaml:"tracking" json:"tracking"`
	Sync            Sync                         `yaml:"sync" json:"sync"`
	Remote          Remote                       `yaml:"remote" json:"remote"`
	Presence        Presence                     `yaml:"presence" json:"presence"`
}

// Zone is the monitored zone.
type Zone struct {
	ID      string  `yaml:"id" json:"id"`
	Label   string  `yaml:"label" json:"label"`
	Lat     float64 `yaml:"lat" json:"lat"`
	Lon     float64 `yaml:"lon" json:"lon"`
	RadiusM float64 `yaml:"radius_m" json:"radius_m"`
}

// Recovery holds the restart recovery policies.
type Recovery struct {
	FixTimeout     Duration `yaml:"fix_timeout" json:"fix_timeout"`
	OnProbeFailure string   `yaml:"on_probe_failure" json:"on_probe_failure"`
	OnEmptyStore   string   `yaml:"on_empty_store" json:"on_empty_store"`
}

// Tracking holds the active-session job intervals.
type Tracking struct {
	TelemetryInterval   Duration `yaml:"telemetry_interval" json:"telemetry_interval"`
	GateRecheckInterval Duration `yaml:"gate_recheck_interval" json:"gate_recheck_interval"`
}

// Sync holds synchronization scheduling.
type Sync struct {
	Collection   string   `yaml:"collection" json:"collection"`
	Interval     Duration `yaml:"interval" json:"interval"`
	RetryBackoff Duration `yaml:"retry_backoff" json:"retry_backoff"`
	MaxBackoff   Duration `yaml:"max_backoff" json:"max_backoff"`
}

// Remote selects the remote store.
type Remote struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// Presence holds the software geofence settings.
type Presence struct {
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Database:     "geoattend.db",
		DeviceStatus: "device.yaml",
		Zone: Zone{
			Label: attendance.DefaultZoneLabel,
		},
		Recovery: Recovery{
			FixTimeout:     "10s",
			OnProbeFailure: "close",
			OnEmptyStore:   "check_in",
		},
		Tracking: Tracking{
			TelemetryInterval:   "5s",
			GateRecheckInterval: "5m",
		},
		Sync: Sync{
			Collection:   attendance.DefaultCollection,
			Interval:     "15m",
			RetryBackoff: "30s",
			MaxBackoff:   "10m",
		},
		Remote: Remote{
			Driver: "sqlite",
			DSN:    "geoattend-remote.db",
		},
		Presence: Presence{
			PollInterval: "5s",
		},
	}
}

// ZoneValue returns the zone as a domain value.
func (c Config) ZoneValue() attendance.Zone {
	return attendance.Zone{
		ID:           c.Zone.ID,
		Label:        c.Zone.Label,
		Center:       attendance.Coordinate{Lat: c.Zone.Lat, Lon: c.Zone.Lon},
		RadiusMeters: c.Zone.RadiusM,
	}
}

// Load reads path, applies envFile (if it exists) and the environment, and
// validates the result.
func Load(path, envFile string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML over Default. Unknown keys are errors.
func Decode(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		c.Database = v
	}
	if v, ok := lookup(EnvUserID); ok && v != "" {
		c.UserID = v
	}
	if v, ok := lookup(EnvRemoteDriver); ok && v != "" {
		c.Remote.Driver = v
	}
	if v, ok := lookup(EnvRemoteDSN); ok && v != "" {
		c.Remote.DSN = v
	}
}

// ValidationError lists every schema violation.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration:\n  " + strings.Join(e.Problems, "\n  ")
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(cctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return newValidationError(err)
	}

	if c.Sync.MaxBackoff.Std() < c.Sync.RetryBackoff.Std() {
		return &ValidationError{Problems: []string{"sync.max_backoff: must not be shorter than sync.retry_backoff"}}
	}
	return nil
}

func newValidationError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Problems: []string{err.Error()}}
	}
	seen := make(map[string]bool, len(errs))
	ve := &ValidationError{}
	for _, e := range errs {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := strings.Join(e.Path(), "."); path != "" {
			msg = path + ": " + msg
		}
		if !seen[msg] {
			seen[msg] = true
			ve.Problems = append(ve.Problems, msg)
		}
	}
	return ve
}
