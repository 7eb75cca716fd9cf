// Package kvtest holds behavior checks shared by every kv.Store backend.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/al-bashkir/implicit-session/internal/kv"
)

// Run exercises s as an empty store.
func Run(t *testing.T, s kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("SetGet", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "user", []byte(`{"uuid":"u-1"}`)))

		got, err := s.Get(ctx, "user")
		require.NoError(t, err)
		require.Equal(t, `{"uuid":"u-1"}`, string(got))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "user", []byte("first")))
		require.NoError(t, s.Set(ctx, "user", []byte("second")))

		got, err := s.Get(ctx, "user")
		require.NoError(t, err)
		require.Equal(t, "second", string(got))
	})

	t.Run("KeysIsolated", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "a", []byte("1")))
		require.NoError(t, s.Set(ctx, "b", []byte("2")))

		a, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, "1", string(a))

		b, err := s.Get(ctx, "b")
		require.NoError(t, err)
		require.Equal(t, "2", string(b))
	})

	t.Run("ValueCopied", func(t *testing.T) {
		value := []byte("original")
		require.NoError(t, s.Set(ctx, "copy", value))
		value[0] = 'X'

		got, err := s.Get(ctx, "copy")
		require.NoError(t, err)
		require.Equal(t, "original", string(got))

		got[0] = 'Y'
		again, err := s.Get(ctx, "copy")
		require.NoError(t, err)
		require.Equal(t, "original", string(again))
	})
}
