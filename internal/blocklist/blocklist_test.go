package blocklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "blocked_users.json"))
	require.NoError(t, err)
	require.Equal(t, 0, l.Len())
	require.False(t, l.Contains(42))
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked_users.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestBlockPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked_users.json")

	l, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, l.Block(100))
	require.NoError(t, l.Block(200))
	require.True(t, l.Contains(100))
	require.True(t, l.Contains(200))

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Len())
	require.True(t, reloaded.Contains(100))
	require.True(t, reloaded.Contains(200))
}

func TestUnblock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked_users.json")

	l, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, l.Block(7))
	require.NoError(t, l.Unblock(7))
	require.False(t, l.Contains(7))

	// Unblocking an unknown id is a no-op, not an error.
	require.NoError(t, l.Unblock(999))

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0, reloaded.Len())
}

func TestBlockIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked_users.json")

	l, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, l.Block(5))
	require.NoError(t, l.Block(5))
	require.Equal(t, 1, l.Len())
}
