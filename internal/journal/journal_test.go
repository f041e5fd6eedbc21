package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestMigrateIsIdempotent(t *testing.T) {
	j := openTest(t)
	require.NoError(t, j.Migrate(context.Background()))

	var n int
	require.NoError(t, j.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSessionRecordsEvents(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)

	// nothing is recorded outside a session
	j.Handle(instrument.Result{Code: status.OK, Lane: status.AllLanes})

	id := uuid.NewString()
	require.NoError(t, j.StartSession(ctx, id, "dual", "sim"))
	j.Handle(instrument.DriverAdded{Family: device.FamilyCore, Device: 0, Address: 0x12})
	j.Handle(instrument.DriverAdded{Family: device.FamilyIO, Device: 0, Address: 0x1C})
	j.Handle(instrument.StatusMessage{Text: "Ready."})
	j.Handle(instrument.Result{Code: status.BadLaneID, Lane: 3})
	j.Handle(instrument.LockDetect{Locked: true})
	require.NoError(t, j.EndSession(ctx))

	sessions, err := j.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "sim", sessions[0].Port)
	assert.True(t, sessions[0].EndedAt.Valid)

	comps, err := j.Components(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []Component{
		{Family: device.FamilyCore, Device: 0, Address: 0x12},
		{Family: device.FamilyIO, Device: 0, Address: 0x1C},
	}, comps)

	results, err := j.Results(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, status.BadLaneID, results[0].Code)
	assert.Equal(t, 3, results[0].Lane)

	msgs, err := j.Messages(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ready."}, msgs)
}

func TestFileJournalPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "bertctl.db")

	j, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, j.StartSession(ctx, "s1", "pixie", "/dev/ttyUSB0"))
	j.Handle(instrument.Result{Code: status.OK, Lane: status.AllLanes})
	require.NoError(t, j.Close())

	j, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer j.Close()
	results, err := j.Results(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
