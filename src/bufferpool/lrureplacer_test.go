package bufferpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, r *LRUReplacer) []uint64 {
	t.Helper()

	var victims []uint64
	for r.Len() > 0 {
		v, err := r.ChooseVictim()
		require.NoError(t, err)
		victims = append(victims, v)
	}

	return victims
}

func TestLRUReplacerEvictsLeastRecentlyUnpinned(t *testing.T) {
	r := NewLRUReplacer()

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	r.Pin(2)
	require.Equal(t, 2, r.Len())

	// unpinning again refreshes the frame
	r.Unpin(1)
	r.Unpin(4)

	assert.Equal(t, []uint64{3, 1, 4}, drain(t, r))

	_, err := r.ChooseVictim()
	require.ErrorIs(t, err, ErrNoVictim)
}

func TestLRUReplacerPinUnknownFrame(t *testing.T) {
	r := NewLRUReplacer()

	r.Pin(7)
	require.Zero(t, r.Len())
}

func TestLRUReplacerConcurrent(t *testing.T) {
	r := NewLRUReplacer()

	const pinned, unpinned = 100, 150
	for i := range pinned {
		r.Unpin(uint64(i))
	}

	var wg sync.WaitGroup
	for i := range pinned + unpinned {
		wg.Add(1)

		go func(frameID uint64) {
			defer wg.Done()

			if frameID < pinned {
				r.Pin(frameID)
			} else {
				r.Unpin(frameID)
			}
		}(uint64(i))
	}
	wg.Wait()

	require.Equal(t, unpinned, r.Len())

	victims := make(chan uint64, unpinned)
	for range unpinned {
		wg.Add(1)

		go func() {
			defer wg.Done()

			v, err := r.ChooseVictim()
			assert.NoError(t, err)
			victims <- v
		}()
	}
	wg.Wait()
	close(victims)

	seen := map[uint64]bool{}
	for v := range victims {
		assert.GreaterOrEqual(t, v, uint64(pinned))
		assert.False(t, seen[v], "frame %d evicted twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, unpinned)
	assert.Zero(t, r.Len())
}
