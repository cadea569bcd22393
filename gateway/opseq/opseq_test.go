package opseq

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsMonotonic(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	var prev uint64
	for i := 0; i < 100; i++ {
		seq := e.Next()
		assert.Greater(t, seq, prev)
		prev = seq
	}
	assert.Equal(t, prev, e.Last())
}

func TestIdsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		e.Next()
	}
	last := e.Last()
	require.NoError(t, e.Close())

	e, err = Open(dir)
	require.NoError(t, err)
	defer e.Close()
	assert.Greater(t, e.Next(), last)
}

func TestNextIsSafeConcurrently(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	const workers, perWorker = 8, 50
	seen := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				seen <- e.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for seq := range seen {
		require.False(t, unique[seq], "duplicate id %d", seq)
		unique[seq] = true
	}
	assert.Len(t, unique, workers*perWorker)
}
