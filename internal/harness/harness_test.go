package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/config"
	"github.com/roach88/geoattend/internal/notify"
)

var trustedOffice = attendance.NetworkIdentity{SSID: "Office", BSSID: "4a:ce:45:52:b8:5c"}

func baseScenario(name string) *Scenario {
	return &Scenario{
		Name:            name,
		Description:     name,
		UserID:          "alice",
		Zone:            config.Zone{ID: "office", Label: "HQ", Lat: 28.720126, Lon: 77.0822006, RadiusM: 150},
		TrustedNetworks: []attendance.NetworkIdentity{trustedOffice},
	}
}

func TestRun_TestdataScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_StepExpectMismatchFails(t *testing.T) {
	s := baseScenario("mismatch")
	s.Steps = []Step{{Action: ActionEvent, Kind: "zone_exit", Expect: "closed"}}
	s.Assertions = []Assertion{{Type: AssertTraceContains, Action: ActionEvent}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected outcome "closed"`)
	assert.Contains(t, result.Errors[0], "no_active_session")
}

func TestRun_AssertionFailureReported(t *testing.T) {
	s := baseScenario("assertion_failure")
	s.Steps = []Step{{Action: ActionEvent, Kind: "manual_check_in"}}
	s.Assertions = []Assertion{{Type: AssertFinalState, Expect: map[string]any{"records": 2}}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `field "records" = 2`)
}

func TestRun_TraceAndState(t *testing.T) {
	s := baseScenario("trace_and_state")
	s.Steps = []Step{
		{Action: ActionEvent, Kind: "manual_check_in"},
		{Action: ActionAdvance, Duration: "2h"},
		{Action: ActionEvent, Kind: "zone_exit"},
		{Action: ActionSync},
	}
	s.Assertions = []Assertion{{Type: AssertTraceCount, Action: ActionEvent, Count: 2}}

	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 4)
	assert.Equal(t, TraceEvent{Seq: 1, Action: ActionEvent, Args: map[string]any{"kind": "manual_check_in"}, Outcome: "created", Record: 1}, result.Trace[0])
	assert.Equal(t, "closed", result.Trace[2].Outcome)
	assert.Equal(t, "office", result.Trace[2].Args["zone_id"])
	assert.Equal(t, "created=1 updated=0 skipped=0 failed=0", result.Trace[3].Outcome)

	// Still on the trusted network at exit.
	assert.Equal(t, []string{notify.TitleCheckedIn, notify.TitleCheckedOut, notify.TitleTrustedOutside}, result.Notifications)

	rec, ok := result.Record(1)
	require.True(t, ok)
	assert.Equal(t, "2025-01-06T09:00:00Z", rec["check_in"])
	assert.Equal(t, "2025-01-06T11:00:00Z", rec["check_out"])
	assert.Equal(t, "remote-1", rec["remote_id"])
	assert.Equal(t, 1, result.State["remote_docs"])
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "enter_exit.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a := NewSnapshot(scenario.Name, first)
	b := NewSnapshot(scenario.Name, second)
	aj, err := a.MarshalCanonical()
	require.NoError(t, err)
	bj, err := b.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(aj), string(bj))
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	s := baseScenario("fresh_database")
	s.Steps = []Step{{Action: ActionEvent, Kind: "zone_enter", Expect: "created"}}
	s.Assertions = []Assertion{{Type: AssertFinalState, Expect: map[string]any{"records": 1}}}

	for i := 0; i < 2; i++ {
		result, err := Run(s)
		require.NoError(t, err)
		assert.True(t, result.Pass, "run %d: %v", i, result.Errors)
	}
}

func TestRun_ConcurrentDuplicatesLeaveOneActive(t *testing.T) {
	s := baseScenario("duplicates")
	for i := 0; i < 5; i++ {
		s.Steps = append(s.Steps,
			Step{Action: ActionEvent, Kind: "zone_enter"},
			Step{Action: ActionEvent, Kind: "manual_check_in"},
		)
	}
	s.Assertions = []Assertion{
		{Type: AssertTraceCount, Action: ActionEvent, Outcome: "created", Count: 1},
		{Type: AssertTraceCount, Action: ActionEvent, Outcome: "already_active", Count: 9},
		{Type: AssertFinalState, Expect: map[string]any{"active_records": 1}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestResult_AddErrorAndTrace(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	ev := r.AddTrace(ActionSync, nil, "ok", 0)
	assert.Equal(t, int64(1), ev.Seq)
	ev = r.AddTrace(ActionPoll, nil, outcomeNoEvent, 0)
	assert.Equal(t, int64(2), ev.Seq)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
