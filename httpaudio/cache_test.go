package httpaudio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingPushAndReplay(t *testing.T) {
	var r ring
	r.push([]byte("hello"))
	r.push([]byte(" world"))
	require.Equal(t, uint64(11), r.total())
	require.Equal(t, []byte("hello world"), r.replayFrom(0))
	require.Equal(t, []byte("world"), r.replayFrom(6))
}

func TestRingReplayPastEndIsEmpty(t *testing.T) {
	var r ring
	r.push([]byte("abc"))
	require.Empty(t, r.replayFrom(3))
	require.Empty(t, r.replayFrom(100))
}

func TestRingWrapsAtCacheSize(t *testing.T) {
	var r ring
	chunk := make([]byte, CacheSize)
	for i := range chunk {
		chunk[i] = 'a'
	}
	r.push(chunk)
	r.push([]byte("tail"))
	require.Equal(t, uint64(CacheSize+4), r.total())

	// the oldest 4 bytes of 'a' were overwritten by "tail"
	// wrapping to the front of the buffer.
	replay := r.replayFrom(uint64(CacheSize))
	require.Equal(t, []byte("tail"), replay)
}

func TestClampOffsetBelowCacheWindow(t *testing.T) {
	require.Equal(t, uint64(0), clampOffset(0, 0))
	require.Equal(t, uint64(5), clampOffset(5, 100))
}

func TestClampOffsetBeyondRetention(t *testing.T) {
	count := uint64(CacheSize*3 + 10)
	oldest := count - CacheSize
	// a request naming a byte older than the oldest retained one is
	// pulled forward to the oldest retained byte.
	require.Equal(t, oldest, clampOffset(oldest-1, count))
	// a request for something still within the retained window passes
	// through unchanged.
	require.Equal(t, oldest+1000, clampOffset(oldest+1000, count))
}
