package sender

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/philippe44/libraop/codec"
	"github.com/philippe44/libraop/wire"
)

func newTestEngine(t *testing.T) (*Engine, *fakePacketConn, *fakePacketConn, *fakePacketConn) {
	t.Helper()
	audio := newFakePacketConn()
	ctrl := newFakePacketConn()
	timing := newFakePacketConn()

	cfg := Config{
		SampleRate:    44100,
		ChunkLen:      352,
		LatencyFrames: 11025,
		Channels:      2,
		BitDepth:      16,
		Coder:         codec.NewPCM(codec.Params{SampleRate: 44100, BitDepth: 16, Channels: 2, FrameLen: 352}),
	}
	e, err := New(cfg, audio, ctrl, timing)
	require.NoError(t, err)
	return e, audio, ctrl, timing
}

func samplePCM(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(i)
	}
	return pcm
}

// runToStreaming drives Connect/AcceptFrame/SendChunk until the engine has
// transitioned into STREAMING and sent n chunks.
func runToStreaming(t *testing.T, e *Engine, n int) []uint16 {
	t.Helper()
	e.Connect()
	require.Equal(t, Flushed, e.State())

	var seqs []uint16
	sent := 0
	for sent < n {
		if !e.AcceptFrame() {
			continue
		}
		_, err := e.SendChunk(samplePCM(352 * 2))
		require.NoError(t, err)
		sent++
	}
	require.Equal(t, Streaming, e.State())

	e.mu.Lock()
	seq := e.seq
	e.mu.Unlock()
	for i := 0; i < n; i++ {
		seqs = append(seqs, seq-uint16(n)+1+uint16(i))
	}
	return seqs
}

// TestConnectReachesStreaming exercises the DOWN -> FLUSHED -> STREAMING
// transition through AcceptFrame/SendChunk alone, the path a first-ever
// session takes without an explicit Pause/Stop/Resume in between.
func TestConnectReachesStreaming(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	require.Equal(t, Down, e.State())
	runToStreaming(t, e, 3)
}

// TestMonotoneSequence checks that every emitted audio packet's sequence
// number strictly increases, with no repeats, across a streaming run.
func TestMonotoneSequence(t *testing.T) {
	e, audio, _, _ := newTestEngine(t)
	runToStreaming(t, e, 20)

	var last int32 = -1
	for _, raw := range audio.writes() {
		var pkt wire.AudioPacket
		require.NoError(t, pkt.Unmarshal(raw))
		require.Greater(t, int32(pkt.Seq), last)
		last = int32(pkt.Seq)
	}
}

// TestBacklogFidelityThroughSender checks that every packet the sender has
// actually emitted can still be retrieved from its own backlog by
// sequence number immediately afterwards.
func TestBacklogFidelityThroughSender(t *testing.T) {
	e, audio, _, _ := newTestEngine(t)
	runToStreaming(t, e, 10)

	for _, raw := range audio.writes() {
		var pkt wire.AudioPacket
		require.NoError(t, pkt.Unmarshal(raw))

		e.mu.Lock()
		slot, ok := e.backlog.Lookup(pkt.Seq)
		e.mu.Unlock()
		require.True(t, ok, "seq %d missing from backlog", pkt.Seq)
		require.Equal(t, raw, slot.Buffer)
	}
}

// TestRetransmitIdempotence checks that asking for the same sequence
// twice returns byte-identical retransmitted packets both times.
func TestRetransmitIdempotence(t *testing.T) {
	e, _, ctrl, _ := newTestEngine(t)
	seqs := runToStreaming(t, e, 5)
	target := seqs[2]
	// the forced first sync already went out on the control socket.
	before := len(ctrl.writes())

	req := wire.RetransmitRequest{First: target, Count: 1}
	ctrl.reads <- req.Marshal()
	e.serviceRetransmitOnce()
	ctrl.reads <- req.Marshal()
	e.serviceRetransmitOnce()

	writes := ctrl.writes()[before:]
	require.Len(t, writes, 2)

	first, err := wire.ParseRetransmit(writes[0])
	require.NoError(t, err)
	second, err := wire.ParseRetransmit(writes[1])
	require.NoError(t, err)
	require.Equal(t, first, second)

	var pkt wire.AudioPacket
	require.NoError(t, pkt.Unmarshal(first))
	require.Equal(t, target, pkt.Seq)
}

// TestPauseResumeReplaysBacklog exercises scenario C: pausing mid-stream
// then resuming replays the unacknowledged tail of the backlog before any
// new chunk goes out, and head_ts does not go backwards afterwards.
func TestPauseResumeReplaysBacklog(t *testing.T) {
	e, audio, _, _ := newTestEngine(t)
	runToStreaming(t, e, 5)

	e.Pause()
	require.Equal(t, Streaming, e.State())

	e.mu.Lock()
	pausedHeadTS := e.headTS
	e.mu.Unlock()

	e.Resume(nil)
	require.Equal(t, Flushed, e.State())

	before := len(audio.writes())
	for {
		if e.AcceptFrame() {
			break
		}
	}
	_, err := e.SendChunk(samplePCM(352 * 2))
	require.NoError(t, err)
	after := audio.writes()
	require.Greater(t, len(after), before, "resume must replay backlog plus emit the new chunk")
	require.Equal(t, Streaming, e.State())

	e.mu.Lock()
	resumedHeadTS := e.headTS
	e.mu.Unlock()
	require.GreaterOrEqual(t, resumedHeadTS, pausedHeadTS)
}

// TestStopArmsFlushPending checks that Stop immediately leaves STREAMING
// for FLUSHING and arms a fresh flush-pending transition for the next
// Connect/Resume cycle, without replaying the old backlog.
func TestStopArmsFlushPending(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	runToStreaming(t, e, 3)

	e.Stop()
	require.Equal(t, Flushing, e.State())

	e.mu.Lock()
	pending := e.flushPending
	pauseTS := e.pauseTS
	e.mu.Unlock()
	require.True(t, pending)
	require.Nil(t, pauseTS)
}

func TestSaneWithinBounds(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	require.True(t, e.Sane())
}

func TestVolumeRoundTrip(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	e.SetVolume(-12.5)
	require.Equal(t, -12.5, e.Volume())
}
