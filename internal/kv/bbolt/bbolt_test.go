package bbolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/al-bashkir/implicit-session/internal/kv"
	"github.com/al-bashkir/implicit-session/internal/kv/kvtest"
)

func TestStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "session.db"), "")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	kvtest.Run(t, s)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	s, err := Open(path, "sessions")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "user", []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = Open(path, "sessions")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Get(ctx, "user")
	require.NoError(t, err)
	require.Equal(t, "persisted", string(got))
}

func TestStoreBucketsIsolated(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "shared.db"), 0600, nil)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	a, err := New(db, "a")
	require.NoError(t, err)
	b, err := New(db, "b")
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, "user", []byte("in-a")))

	_, err = b.Get(ctx, "user")
	require.ErrorIs(t, err, kv.ErrNotFound)
}
