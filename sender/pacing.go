package sender

import (
	"fmt"

	"github.com/philippe44/libraop/ntptime"
	"github.com/philippe44/libraop/wire"
)

// replayItem is one backlog packet rewritten during a pause/resume replay,
// ready to be sent once the engine mutex is released: a replayed packet's
// sendto must never happen while the mutex is held.
type replayItem struct {
	seq uint16
	buf []byte
}

// AcceptFrame reports whether the caller may emit one more chunk right now
// without exceeding the latency budget. It performs every state
// transition the flush-pending branch requires; the caller must still
// call SendChunk immediately afterwards when it returns true in order to
// actually emit the queued replay and the next live chunk.
func (e *Engine) AcceptFrame() bool {
	e.mu.Lock()

	var toReplay []replayItem
	var forcedSync bool

	if e.flushPending {
		nowTS := e.nowTS()

		notFlushedYet := e.state != Flushed
		startTooFar := e.startTS != nil && *e.startTS > nowTS+uint64(e.cfg.LatencyFrames)
		if notFlushedYet || startTooFar {
			e.mu.Unlock()
			return false
		}

		first := false
		if e.state == Flushed {
			e.firstPkt = true
			first = true
			e.state = Streaming
		}

		var firstTS uint64
		if e.startTS != nil {
			firstTS = *e.startTS
		} else {
			firstTS = nowTS
		}
		e.firstTS = &firstTS

		if e.pauseTS == nil {
			e.headTS = firstTS
			if first {
				forcedSync = true
			}
			e.log.Info().Uint64("head_ts", e.headTS).Msg("sender: restarting without pause")
		} else {
			chunks := e.latencyChunks()
			e.headTS = firstTS - uint64(e.cfg.ChunkLen)
			if first {
				forcedSync = true
			}
			e.log.Info().Uint64("head_ts", e.headTS).Int("resend", chunks).Msg("sender: restarting with pause")
			toReplay = e.prepareReplayLocked(chunks)
		}

		e.pauseTS = nil
		e.startTS = nil
		e.flushPending = false
	}

	var nowTS uint64
	if e.pauseTS != nil {
		nowTS = *e.pauseTS
	} else {
		nowTS = e.nowTS()
	}
	accept := nowTS >= e.headTS+uint64(e.cfg.ChunkLen)
	e.mu.Unlock()

	if forcedSync {
		e.sendSync(true)
	}
	for _, item := range toReplay {
		e.writeAudio(item.buf)
	}

	return accept
}

// prepareReplayLocked rewrites the last `chunks` backlog slots so they
// carry new, strictly-greater sequence numbers starting at the resumed
// head_ts. Must be called with mu held; it mutates seq_number, head_ts,
// and the backlog ring.
func (e *Engine) prepareReplayLocked(chunks int) []replayItem {
	if chunks <= 0 {
		return nil
	}
	out := make([]replayItem, 0, chunks)
	start := e.seq - uint16(chunks) + 1
	for i := 0; i < chunks; i++ {
		origSeq := start + uint16(i)
		slot, ok := e.backlog.Lookup(origSeq)
		if !ok {
			e.headTS += uint64(e.cfg.ChunkLen)
			continue
		}

		var pkt wire.AudioPacket
		if err := pkt.Unmarshal(slot.Buffer); err != nil {
			e.headTS += uint64(e.cfg.ChunkLen)
			continue
		}

		e.seq++
		pkt.Seq = e.seq
		pkt.Timestamp = uint32(e.headTS)
		pkt.FirstPkt = e.firstPkt
		e.firstPkt = false

		buf, err := pkt.Marshal()
		if err != nil {
			e.headTS += uint64(e.cfg.ChunkLen)
			continue
		}

		e.backlog.Store(e.seq, uint32(e.headTS), buf)
		out = append(out, replayItem{seq: e.seq, buf: buf})
		e.headTS += uint64(e.cfg.ChunkLen)
	}
	return out
}

// SendChunk emits exactly one audio packet for frames worth of PCM and
// stores it in the backlog. Returns the NTP play time of the emitted
// chunk.
func (e *Engine) SendChunk(pcm []int16) (ntptime.Time, error) {
	payload, err := e.cfg.Coder.Encode(pcm)
	if err != nil {
		return 0, fmt.Errorf("sender: encode: %w", err)
	}

	e.mu.Lock()
	ts := e.headTS
	first := e.firstPkt
	e.firstPkt = false
	e.seq++
	seq := e.seq
	e.headTS += uint64(e.cfg.ChunkLen)
	e.mu.Unlock()

	buf, err := e.buildAudioPacket(seq, uint32(ts), payload, first)
	if err != nil {
		return 0, fmt.Errorf("sender: build audio packet: %w", err)
	}

	e.mu.Lock()
	e.backlog.Store(seq, uint32(ts), buf)
	e.mu.Unlock()

	if !e.writeAudio(buf) {
		e.noteAudioSend()
	}

	return ntptime.FromTS(ts, e.cfg.SampleRate), nil
}

// writeAudio sends an already-built packet on the audio UDP socket. Never
// blocks the caller: a socket write that would block is dropped and
// counted instead. Returns true on success.
func (e *Engine) writeAudio(buf []byte) bool {
	if e.audioConn == nil {
		return false
	}
	if _, err := e.audioConn.WriteTo(buf, remoteAddr(e.audioConn)); err != nil {
		e.log.Debug().Err(err).Msg("sender: audio write failed")
		return false
	}
	return true
}

// Pause arms a flush-pending pause: the next AcceptFrame call will freeze
// now_ts at head_ts (the pause moment) and, once resumed, replay the
// backlog. A no-op outside STREAMING.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Streaming {
		return
	}
	ts := e.headTS
	e.pauseTS = &ts
	e.flushPending = true
}

// Stop arms a flush-pending stop (no backlog replay on resume).
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseTS = nil
	e.flushPending = true
	e.state = Flushing
}

// Resume clears the flush-pending freeze, optionally requesting a start
// time. Call after the RTSP FLUSH round trip has completed and the
// session is FLUSHED.
func (e *Engine) Resume(startTS *uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startTS = startTS
	e.state = Flushed
}
