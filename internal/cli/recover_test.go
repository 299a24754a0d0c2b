package cli

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover_ResumesActiveSessionInside(t *testing.T) {
	e := newEnv(t, "")
	e.device(t, true, &officeNetwork)
	_, err := e.run(t, "checkin")
	require.NoError(t, err)

	_, data, err := e.runJSON(t, "recover")
	require.NoError(t, err)
	assert.Equal(t, "resumed", data["action"])
	assert.Equal(t, true, data["rearmed"])
	assert.Equal(t, "last_known", data["fix_source"])
	assert.Equal(t, float64(0), data["distance_m"])

	recs := e.records(t)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Active())
}

func TestRecover_ClosesActiveSessionOutside(t *testing.T) {
	e := newEnv(t, "")
	e.device(t, true, &officeNetwork)
	_, err := e.run(t, "checkin")
	require.NoError(t, err)

	e.device(t, false, nil)
	out, err := e.run(t, "recover")
	require.NoError(t, err)
	assert.Contains(t, out, "recovery: closed_outside")
	assert.Contains(t, out, "sync: created=1")

	recs := e.records(t)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Completed())
	assert.True(t, recs[0].Synced)
	assert.NotEmpty(t, recs[0].RemoteID)
}

func TestRecover_NoSyncLeavesClosedSessionUnsynced(t *testing.T) {
	e := newEnv(t, "")
	e.device(t, true, &officeNetwork)
	_, err := e.run(t, "checkin")
	require.NoError(t, err)

	e.device(t, false, nil)
	_, data, err := e.runJSON(t, "recover", "--no-sync")
	require.NoError(t, err)
	assert.Equal(t, "closed_outside", data["action"])
	assert.Nil(t, data["sync"])

	recs := e.records(t)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Completed())
	assert.False(t, recs[0].Synced)
}

func TestRecover_ResumeDoesNotSync(t *testing.T) {
	e := newEnv(t, "")
	e.device(t, true, &officeNetwork)
	_, err := e.run(t, "checkin")
	require.NoError(t, err)

	_, data, err := e.runJSON(t, "recover")
	require.NoError(t, err)
	assert.Equal(t, "resumed", data["action"])
	assert.Nil(t, data["sync"])
	_, statErr := os.Stat(e.remotePath)
	assert.True(t, os.IsNotExist(statErr), "remote store should not be opened")
}

func TestRecover_EmptyStoreChecksIn(t *testing.T) {
	e := newEnv(t, "")
	e.device(t, true, &officeNetwork)

	_, data, err := e.runJSON(t, "recover")
	require.NoError(t, err)
	assert.Equal(t, "checked_in", data["action"])
	assert.Len(t, e.records(t), 1)
}

func TestRecover_EmptyStoreWaitPolicy(t *testing.T) {
	e := newEnv(t, "  on_empty_store: wait\n")
	e.device(t, true, &officeNetwork)

	_, data, err := e.runJSON(t, "recover")
	require.NoError(t, err)
	assert.Equal(t, "waiting", data["action"])
	assert.Empty(t, e.records(t))
}

func TestRecover_NoFixClosesByDefault(t *testing.T) {
	e := newEnv(t, "")
	e.device(t, true, &officeNetwork)
	_, err := e.run(t, "checkin")
	require.NoError(t, err)

	// No status file: no last known fix, and the fresh fix times out.
	require.NoError(t, os.Remove(e.status.Path()))

	_, data, err := e.runJSON(t, "recover")
	require.NoError(t, err)
	assert.Equal(t, "closed_no_fix", data["action"])
	assert.True(t, e.records(t)[0].Completed())
	assert.True(t, e.records(t)[0].Synced)
}
