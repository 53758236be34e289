package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func frame(n int) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = int16(i)
	}
	return f
}

func TestPutExpectedAdvancesWrite(t *testing.T) {
	b := New(352)
	b.Reset(100)

	rr, needResend := b.Put(100, 0, frame(4))
	require.False(t, needResend)
	require.Equal(t, ResendRange{}, rr)
	require.Equal(t, uint16(100), b.Write())

	_, needResend = b.Put(101, 352, frame(4))
	require.False(t, needResend)
	require.Equal(t, uint16(101), b.Write())
}

func TestPutGapRequestsResend(t *testing.T) {
	b := New(352)
	b.Reset(100)

	b.Put(100, 0, frame(4))
	rr, needResend := b.Put(105, 5*352, frame(4))
	require.True(t, needResend)
	require.Equal(t, ResendRange{First: 101, Last: 104}, rr)
	require.Equal(t, uint16(105), b.Write())
}

func TestPutRecoveredDoesNotMoveWrite(t *testing.T) {
	b := New(352)
	b.Reset(100)

	b.Put(100, 0, frame(4))
	b.Put(105, 5*352, frame(4))
	_, needResend := b.Put(102, 2*352, frame(4))
	require.False(t, needResend)
	require.Equal(t, uint16(105), b.Write())

	slot := b.slots[index(102)]
	require.True(t, slot.Ready)
}

func TestPutTooLateDropped(t *testing.T) {
	b := New(352)
	b.Reset(100)

	for s := uint16(100); s <= 110; s++ {
		b.Put(s, uint32(s)*352, frame(4))
	}
	for i := 0; i < 200; i++ {
		b.NextFrame(time.Now(), time.Now().Add(-time.Second), true)
	}

	_, needResend := b.Put(100, 0, frame(4))
	require.False(t, needResend)
}

func TestSeqOrderWraparound(t *testing.T) {
	require.True(t, seqOrder(65535, 0))
	require.True(t, seqOrder(0, 1))
	require.False(t, seqOrder(1, 0))
}

func TestNextFrameWaitsUntilPlaytime(t *testing.T) {
	b := New(352)
	b.Reset(100)
	// frame 100 is missing: only its successor arrives.
	b.Put(101, 352, frame(4))

	now := time.Now()
	_, _, ok := b.NextFrame(now, now.Add(time.Second), false)
	require.False(t, ok, "must wait: not ready yet and playtime in the future")
}

func TestNextFrameEmitsReadyPayload(t *testing.T) {
	b := New(4)
	b.Reset(100)
	want := frame(4)
	b.Put(100, 0, want)

	now := time.Now()
	payload, ready, ok := b.NextFrame(now, now.Add(-time.Second), true)
	require.True(t, ok)
	require.True(t, ready)
	require.Equal(t, want, payload)
	require.Equal(t, uint16(101), b.Read())
}

func TestNextFrameFillsSilenceWhenLate(t *testing.T) {
	b := New(4)
	b.Reset(100)

	now := time.Now()
	payload, ready, ok := b.NextFrame(now, now.Add(-time.Second), true)
	require.True(t, ok)
	require.False(t, ready)
	require.Len(t, payload, 8)
}

func TestSkipDropsReadyFrames(t *testing.T) {
	b := New(4)
	b.Reset(100)
	b.Put(100, 0, frame(4))
	b.Put(101, 4, frame(4))
	b.Skip(1)

	now := time.Now()
	_, ready, ok := b.NextFrame(now, now.Add(-time.Second), true)
	require.True(t, ok)
	require.True(t, ready)
	require.Equal(t, uint16(102), b.Read())
}

func TestScanForResendFindsStaleGap(t *testing.T) {
	b := New(4)
	b.Reset(100)
	for s := uint16(100); s <= 163; s++ {
		if s != 120 {
			b.Put(s, uint32(s)*4, frame(4))
		}
	}

	// the gap was last requested when 121 arrived; scan once that request
	// has gone stale.
	rr, found := b.ScanForResend(time.Now().Add(2 * ResendTimeout))
	require.True(t, found)
	require.LessOrEqual(t, rr.First, uint16(120))
	require.GreaterOrEqual(t, rr.Last, uint16(120))
}
