package sim

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/config"
)

func TestManager_CreateGetClose(t *testing.T) {
	m := NewManager()
	seed := int64(777)
	meta := m.CreateSession(config.Easy(), &seed, "")

	assert.Equal(t, "local", meta.UserID)
	assert.Equal(t, int64(777), meta.Seed)

	session, err := m.Get(meta.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(777), session.Seed())

	assert.True(t, m.CloseSession(meta.SessionID))
	_, err = m.Get(meta.SessionID)
	assert.Error(t, err)
}

func TestManager_ListSessions(t *testing.T) {
	m := NewManager()
	seed1, seed2 := int64(1), int64(2)
	m.CreateSession(config.Medium(), &seed1, "alice")
	m.CreateSession(config.Hard(), &seed2, "bob")

	sessions := m.ListSessions()
	assert.Len(t, sessions, 2)
}

func TestSaveAndLoadCheckpoint_PreservesSeedAndDifficulty(t *testing.T) {
	m := NewManager()
	seed := int64(999)
	meta := m.CreateSession(config.Hard(), &seed, "carol")

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, m.SaveCheckpoint(meta.SessionID, path))

	loadedMeta, session, err := m.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, int64(999), loadedMeta.Seed)
	assert.Equal(t, "HARD", loadedMeta.DifficultyName)
	assert.Equal(t, int64(999), session.Seed())
}

func TestDifficultyByName_FallsBackToMediumForUnknown(t *testing.T) {
	d := DifficultyByName("nonsense")
	assert.Equal(t, config.Medium(), d)
}
