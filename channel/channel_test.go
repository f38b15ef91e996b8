package channel

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certreq/storage"
	"github.com/jmcleod/certreq/storage/memory"
)

func TestChannel_ReadAbsent(t *testing.T) {
	ctx := t.Context()
	p := NewProvider(memory.NewRepository())

	// Absent session.
	v, ok, err := p.Open("s1").Read(ctx, storage.SideLocal, KeyCSRs)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)

	// Absent key in an existing session.
	ch, err := p.Establish("s1")
	require.NoError(t, err)
	_, ok, err = ch.Read(ctx, storage.SideRemote, KeyCertificates)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChannel_Exists(t *testing.T) {
	ctx := t.Context()
	p := NewProvider(memory.NewRepository())

	ok, err := p.Open("s1").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Establish("s1")
	require.NoError(t, err)
	ok, err = p.Open("s1").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.Teardown("s1"))
	ok, err = p.Open("s1").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChannel_WriteRead(t *testing.T) {
	ctx := t.Context()
	p := NewProvider(memory.NewRepository())
	ch, err := p.Establish("s1")
	require.NoError(t, err)

	require.NoError(t, ch.Write(ctx, storage.SideRemote, KeyCertificates, "[]"))
	require.NoError(t, ch.Write(ctx, storage.SideRemote, KeyCertificates, `[{"x":1}]`))

	v, ok, err := ch.Read(ctx, storage.SideRemote, KeyCertificates)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"x":1}]`, v)
}

func TestChannel_WriteWithoutSession(t *testing.T) {
	p := NewProvider(memory.NewRepository())
	err := p.Open("missing").Write(t.Context(), storage.SideLocal, KeyCSRs, "[]")
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestChannel_InvalidSide(t *testing.T) {
	p := NewProvider(memory.NewRepository())
	ch, err := p.Establish("s1")
	require.NoError(t, err)

	_, _, err = ch.Read(t.Context(), storage.Side("peer"), KeyCSRs)
	assert.ErrorIs(t, err, ErrInvalidSide)
	err = ch.Write(t.Context(), storage.Side("peer"), KeyCSRs, "[]")
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestChannel_UpdateSkipWrite(t *testing.T) {
	ctx := t.Context()
	p := NewProvider(memory.NewRepository())
	ch, err := p.Establish("s1")
	require.NoError(t, err)

	err = ch.Update(ctx, storage.SideLocal, KeyCSRs, func(cur string, ok bool) (string, bool, error) {
		return "", false, nil
	})
	require.NoError(t, err)

	_, ok, err := ch.Read(ctx, storage.SideLocal, KeyCSRs)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChannel_UpdateError(t *testing.T) {
	p := NewProvider(memory.NewRepository())
	ch, err := p.Establish("s1")
	require.NoError(t, err)

	boom := errors.New("boom")
	calls := 0
	err = ch.Update(t.Context(), storage.SideLocal, KeyCSRs, func(string, bool) (string, bool, error) {
		calls++
		return "", false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non-conflict errors must not be retried")
}

func TestChannel_ConcurrentUpdatesAllLand(t *testing.T) {
	ctx := t.Context()
	p := NewProvider(memory.NewRepository())
	_, err := p.Establish("s1")
	require.NoError(t, err)

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := p.Open("s1")
			err := ch.Update(ctx, storage.SideLocal, "log", func(cur string, ok bool) (string, bool, error) {
				return cur + strconv.Itoa(i) + ",", true, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	v, _, err := p.Open("s1").Read(ctx, storage.SideLocal, "log")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSuffix(v, ","), ","), writers)
}

// conflictingRepo fails the first n PutCAS calls as if another process had
// written in between.
type conflictingRepo struct {
	storage.Repository
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingRepo) PutCAS(sessionID string, side storage.Side, key string, expected uint64, env *storage.Envelope) error {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return storage.ErrCASFailed
	}
	r.mu.Unlock()
	return r.Repository.PutCAS(sessionID, side, key, expected, env)
}

func TestChannel_RetriesOnConflict(t *testing.T) {
	repo := &conflictingRepo{Repository: memory.NewRepository(), conflicts: 2}
	p := NewProvider(repo)
	ch, err := p.Establish("s1")
	require.NoError(t, err)

	calls := 0
	err = ch.Update(t.Context(), storage.SideLocal, KeyCSRs, func(string, bool) (string, bool, error) {
		calls++
		return "[]", true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestChannel_GivesUpAfterMaxTries(t *testing.T) {
	repo := &conflictingRepo{Repository: memory.NewRepository(), conflicts: 100}
	p := NewProvider(repo, WithMaxTries(3))
	ch, err := p.Establish("s1")
	require.NoError(t, err)

	err = ch.Write(t.Context(), storage.SideLocal, KeyCSRs, "[]")
	assert.ErrorIs(t, err, storage.ErrCASFailed)
}

func TestChannel_CanceledContext(t *testing.T) {
	p := NewProvider(memory.NewRepository())
	ch, err := p.Establish("s1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, _, err = ch.Read(ctx, storage.SideLocal, KeyCSRs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProvider_EstablishInvalidID(t *testing.T) {
	p := NewProvider(memory.NewRepository())
	for _, id := range []string{"", "a:b", "a/b", "a b", "bad\x00", strings.Repeat("x", MaxSessionIDLength+1)} {
		_, err := p.Establish(id)
		assert.ErrorIs(t, err, ErrInvalidSessionID, "id %q", id)
	}

	ids, err := p.Sessions()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestProvider_TeardownKeepsSessionLock(t *testing.T) {
	p := NewProvider(memory.NewRepository())
	_, err := p.Establish("s")
	require.NoError(t, err)

	before := p.lock("s")
	require.NoError(t, p.Teardown("s"))
	assert.Same(t, before, p.lock("s"))

	// A re-established session serializes on the same mutex.
	ch, err := p.Establish("s")
	require.NoError(t, err)
	before.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, ch.Write(context.Background(), storage.SideLocal, "k", "v"))
	}()
	select {
	case <-done:
		t.Fatal("write ran while the session lock was held")
	case <-time.After(50 * time.Millisecond):
	}
	before.Unlock()
	<-done
}
