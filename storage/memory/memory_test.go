package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certreq/storage"
	"github.com/jmcleod/certreq/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return NewRepository()
	})
}

func TestMemoryRepository_ConcurrentCAS(t *testing.T) {
	repo := NewRepository()
	require.NoError(t, repo.CreateSession("s1"))

	// Every writer races to create the same record; exactly one wins.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.PutCAS("s1", storage.SideLocal, "k", 0, storage.SealValue([]byte("v"), 1))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
