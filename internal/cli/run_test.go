package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/geoattend/internal/metrics"
	"github.com/roach88/geoattend/internal/store"
)

func TestRun_RejectsArgs(t *testing.T) {
	e := newEnv(t, "")

	_, err := e.run(t, "run", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRun_BadConfig(t *testing.T) {
	e := newEnv(t, "")
	require.NoError(t, os.WriteFile(e.configPath, []byte("zone: {id: office}\n"), 0644))

	_, err := e.run(t, "run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_MissingEventsFile(t *testing.T) {
	e := newEnv(t, "  on_empty_store: wait\n")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := e.runContext(t, ctx, "run", "--no-geofence", "--events", filepath.Join(e.dir, "missing.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_ProcessesEventsAndSyncs(t *testing.T) {
	e := newEnv(t, "  on_empty_store: wait\n")
	e.device(t, true, &officeNetwork)

	events := filepath.Join(e.dir, "events.jsonl")
	require.NoError(t, os.WriteFile(events, []byte(`# replayed transitions
{"kind":"zone_enter","zone_id":"office"}
not json
{"kind":"zone_exit","zone_id":"office"}
`), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	var out string
	go func() {
		var err error
		out, err = e.runContext(t, ctx, "run", "--no-geofence", "--events", events)
		done <- err
	}()

	waitForRemote(t, e)

	st, err := store.Open(e.dbPath)
	require.NoError(t, err)
	defer st.Close()

	require.Eventually(t, func() bool {
		recs, err := st.AllRecords(context.Background())
		return err == nil && len(recs) == 1 && recs[0].Completed() && recs[0].Synced
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Contains(t, out, "Daemon started")
}

func TestRun_RecoveryClosesStaleSession(t *testing.T) {
	e := newEnv(t, "")
	e.device(t, true, &officeNetwork)
	_, err := e.run(t, "checkin")
	require.NoError(t, err)

	// The device left while nothing was running.
	e.device(t, false, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := e.runContext(t, ctx, "run", "--no-geofence")
		done <- err
	}()
	waitForRemote(t, e)

	st, err := store.Open(e.dbPath)
	require.NoError(t, err)
	defer st.Close()

	require.Eventually(t, func() bool {
		recs, err := st.AllRecords(context.Background())
		return err == nil && len(recs) == 1 && recs[0].Completed()
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_TrackingUsesPersistedZone(t *testing.T) {
	e := newEnv(t, "tracking:\n  telemetry_interval: 1s\n")

	// Move the zone to where the "outside" device position is.
	_, err := e.run(t, "zone", "set", "--id", "office", "--label", "Annex",
		"--lat", fmt.Sprint(officeLat+0.01), "--lon", fmt.Sprint(officeLon), "--radius", "150")
	require.NoError(t, err)
	e.device(t, false, &officeNetwork)
	_, err = e.run(t, "checkin")
	require.NoError(t, err)

	logPath := filepath.Join(e.dir, "daemon.log")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := e.runContext(t, ctx, "--verbose", "--log-file", logPath, "run", "--no-geofence")
		done <- err
	}()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(data), "msg=telemetry")
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	for _, line := range strings.Split(readFile(t, logPath), "\n") {
		if strings.Contains(line, "msg=telemetry") {
			assert.Contains(t, line, "inside=true", line)
		}
	}
	assert.Contains(t, readFile(t, logPath), "action=resumed")
}

// waitForRemote blocks until the daemon has opened the remote store, which
// happens after the local schema is in place.
func waitForRemote(t *testing.T, e *env) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Stat(e.remotePath)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestMetricsMux(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.Transition("zone_enter", "created")

	srv := httptest.NewServer(metricsMux(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp404, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp404.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
}

func TestServeMetrics_StopsOnCancel(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: metricsMux(m)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveMetrics(ctx, srv, discardLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
