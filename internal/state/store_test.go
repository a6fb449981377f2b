package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)

	_, ok, err := s.Load(ctx, "zone-1")
	require.NoError(t, err)
	assert.False(t, ok)

	doc := sampleDocument()
	require.NoError(t, s.Save(ctx, "zone-1", doc))
	doc.Heating.AutoApplyCount = 5
	require.NoError(t, s.Save(ctx, "zone-1", doc))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, ok, err := s.Load(ctx, "zone-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, got.Heating.AutoApplyCount)
	assert.Equal(t, doc.Gains, got.Gains)

	_, ok, err = s.Load(ctx, "zone-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_MigratesOnLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Put("zone", []byte(`{"cycle_history": [], "auto_apply_count": 2, "convergence_confidence": 0.3, "pid_history": []}`))

	doc, ok, err := s.Load(ctx, "zone")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, doc.Heating.AutoApplyCount)
	assert.Equal(t, CurrentVersion, doc.Version)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, Config{Driver: "postgres"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	s, err = Open(ctx, Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
