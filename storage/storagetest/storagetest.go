// Package storagetest provides a conformance suite shared by every
// storage.Repository backend.
package storagetest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certreq/storage"
)

// Factory returns an empty repository for a single sub-test.
type Factory func(t *testing.T) storage.Repository

// Run exercises the Repository contract against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("SessionLifecycle", func(t *testing.T) {
		repo := newRepo(t)

		ok, err := repo.SessionExists("s1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.CreateSession("s1"))
		require.NoError(t, repo.CreateSession("s1"), "CreateSession must be idempotent")
		require.NoError(t, repo.CreateSession("s0"))

		ok, err = repo.SessionExists("s1")
		require.NoError(t, err)
		assert.True(t, ok)

		ids, err := repo.ListSessions()
		require.NoError(t, err)
		assert.Equal(t, []string{"s0", "s1"}, ids)

		require.NoError(t, repo.DeleteSession("s1"))
		ok, err = repo.SessionExists("s1")
		require.NoError(t, err)
		assert.False(t, ok)

		err = repo.DeleteSession("s1")
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	})

	t.Run("PutAndGet", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateSession("s1"))

		env := storage.SealValue([]byte("value"), 1)
		require.NoError(t, repo.Put("s1", storage.SideLocal, "k", env))

		got, err := repo.Get("s1", storage.SideLocal, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), got.Value)
		assert.Equal(t, uint64(1), got.Version)

		// Sides are separate keyspaces.
		_, err = repo.Get("s1", storage.SideRemote, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		// Returned envelopes are copies.
		got.Value[0] = 'X'
		again, err := repo.Get("s1", storage.SideLocal, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), again.Value)
	})

	t.Run("MissingSession", func(t *testing.T) {
		repo := newRepo(t)
		env := storage.SealValue([]byte("v"), 1)

		_, err := repo.Get("nope", storage.SideLocal, "k")
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)

		err = repo.Put("nope", storage.SideLocal, "k", env)
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)

		err = repo.PutCAS("nope", storage.SideLocal, "k", 0, env)
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)

		err = repo.Delete("nope", storage.SideLocal, "k")
		assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateSession("s1"))
		require.NoError(t, repo.Put("s1", storage.SideRemote, "k", storage.SealValue([]byte("v"), 1)))

		require.NoError(t, repo.Delete("s1", storage.SideRemote, "k"))
		_, err := repo.Get("s1", storage.SideRemote, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		err = repo.Delete("s1", storage.SideRemote, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PutCAS", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateSession("s1"))

		// Create-only.
		require.NoError(t, repo.PutCAS("s1", storage.SideLocal, "k", 0, storage.SealValue([]byte("a"), 1)))
		err := repo.PutCAS("s1", storage.SideLocal, "k", 0, storage.SealValue([]byte("b"), 1))
		assert.ErrorIs(t, err, storage.ErrCASFailed)

		// Version mismatch on a missing record.
		err = repo.PutCAS("s1", storage.SideLocal, "other", 1, storage.SealValue([]byte("b"), 2))
		assert.ErrorIs(t, err, storage.ErrCASFailed)

		// Version match.
		require.NoError(t, repo.PutCAS("s1", storage.SideLocal, "k", 1, storage.SealValue([]byte("b"), 2)))

		// Stale version.
		err = repo.PutCAS("s1", storage.SideLocal, "k", 1, storage.SealValue([]byte("c"), 2))
		assert.ErrorIs(t, err, storage.ErrCASFailed)

		got, err := repo.Get("s1", storage.SideLocal, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("b"), got.Value)
		assert.Equal(t, uint64(2), got.Version)
	})

	t.Run("DeleteSessionDropsRecords", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateSession("s1"))
		require.NoError(t, repo.Put("s1", storage.SideLocal, "k", storage.SealValue([]byte("v"), 1)))
		require.NoError(t, repo.DeleteSession("s1"))
		require.NoError(t, repo.CreateSession("s1"))

		_, err := repo.Get("s1", storage.SideLocal, "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
