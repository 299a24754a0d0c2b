package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/config"
	"github.com/roach88/geoattend/internal/device"
	"github.com/roach88/geoattend/internal/store"
)

const (
	officeLat = 28.720126
	officeLon = 77.0822006
)

var officeNetwork = attendance.NetworkIdentity{SSID: "Office", BSSID: "4a:ce:45:52:b8:5c"}

// env is a working directory with a config file, a device status file and
// the database paths the config points at.
type env struct {
	dir        string
	configPath string
	dbPath     string
	remotePath string
	status     *device.StatusFile
}

// newEnv writes a config file. extra is appended verbatim to the YAML, so
// indented lines land in the recovery section.
func newEnv(t *testing.T, extra string) *env {
	t.Helper()
	for _, k := range []string{config.EnvDatabase, config.EnvUserID, config.EnvRemoteDriver, config.EnvRemoteDSN} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	e := &env{
		dir:        dir,
		configPath: filepath.Join(dir, "geoattend.yaml"),
		dbPath:     filepath.Join(dir, "attendance.db"),
		remotePath: filepath.Join(dir, "remote.db"),
	}
	e.status = device.NewStatusFile(filepath.Join(dir, "device.yaml"))

	cfg := fmt.Sprintf(`database: %s
user_id: alice
zone:
  id: office
  label: HQ
  lat: %v
  lon: %v
  radius_m: 150
trusted_networks:
  - ssid: Office
    bssid: 4a:ce:45:52:b8:5c
device_status: %s
remote:
  driver: sqlite
  dsn: %s
recovery:
  fix_timeout: 50ms
`, e.dbPath, officeLat, officeLon, e.status.Path(), e.remotePath) + extra
	require.NoError(t, os.WriteFile(e.configPath, []byte(cfg), 0644))
	return e
}

// device writes the status file. A nil network means not associated.
func (e *env) device(t *testing.T, inside bool, network *attendance.NetworkIdentity) {
	t.Helper()
	lat := officeLat
	if !inside {
		lat += 0.01
	}
	require.NoError(t, e.status.Write(device.Status{
		Location:           &device.Location{Lat: lat, Lon: officeLon, FixedAt: time.Now().UTC().Add(-time.Minute)},
		LocationPermission: device.PermissionGranted,
		Network:            network,
	}))
}

// run executes the root command with args. It returns stdout.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), args...)
}

func (e *env) runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.configPath, "--env-file", ""}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// runJSON executes args with --format json and decodes the response.
func (e *env) runJSON(t *testing.T, args ...string) (CLIResponse, map[string]any, error) {
	t.Helper()
	out, err := e.run(t, append([]string{"--format", "json"}, args...)...)

	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)

	var data map[string]any
	if len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, &data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}, data, err
}

// records opens the database the config points at.
func (e *env) records(t *testing.T) []attendance.Record {
	t.Helper()
	st, err := store.Open(e.dbPath)
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.AllRecords(context.Background())
	require.NoError(t, err)
	return recs
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
