package receiver

import (
	"context"
	"time"

	"github.com/philippe44/libraop/wire"
)

// RunAudio reads audio packets off the data socket and feeds them to the
// jitter buffer. Blocks until Stop unblocks the socket; run it in its own
// goroutine.
func (e *Engine) RunAudio(ctx context.Context) {
	e.wg.Add(1)
	defer e.wg.Done()

	buf := make([]byte, 2048)
	for e.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = e.audioConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := e.audioConn.ReadFrom(buf)
		if err != nil {
			continue
		}
		e.remember(addr)

		var pkt wire.AudioPacket
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			e.log.Debug().Err(err).Msg("receiver: malformed audio packet")
			continue
		}
		e.ingest(pkt)
	}
}

// ingest decodes one audio packet and stores it in the jitter buffer,
// gating the IDLE->PLAYING transition on the flush/sync
// bookkeeping buffer_put_packet performs before a session starts playing,
// and issuing a resend request for any gap the buffer reports.
func (e *Engine) ingest(pkt wire.AudioPacket) {
	payload := pkt.Payload
	if e.cfg.Cipher != nil {
		decrypted := make([]byte, len(payload))
		copy(decrypted, payload)
		e.cfg.Cipher.Decrypt(decrypted)
		payload = decrypted
	}
	pcm, err := e.cfg.Coder.Decode(payload)
	if err != nil {
		e.log.Debug().Err(err).Msg("receiver: decode failed")
		return
	}

	e.mu.Lock()
	if !e.playing {
		gated := e.flushSeqno < 0 || seqAfter(uint16(e.flushSeqno), pkt.Seq)
		if gated && (!e.synchro.required || e.synchro.first) {
			e.jit.Reset(pkt.Seq)
			e.flushSeqno = -1
			e.playing = true
			e.silence = true
			e.synchro.first = false
			e.state = Playing
		} else {
			e.mu.Unlock()
			return
		}
	}

	if e.pause && seqAfter(uint16(e.flushSeqno), pkt.Seq) {
		e.pause = false
		e.state = Playing
	}

	rr, needResend := e.jit.Put(pkt.Seq, pkt.Timestamp, pcm)
	e.mu.Unlock()

	if needResend {
		e.requestResend(rr.First, rr.Last)
	}
}

func seqAfter(a, b uint16) bool { return int16(b-a) > 0 }

// requestResend sends a retransmit request for [first, last] on the
// control socket.
func (e *Engine) requestResend(first, last uint16) {
	peer := e.peerAddr()
	if peer == nil || e.ctrlConn == nil {
		return
	}
	req := wire.RetransmitRequest{First: first, Count: last - first + 1}
	if _, err := e.ctrlConn.WriteTo(req.Marshal(), peer); err != nil {
		e.log.Debug().Err(err).Msg("receiver: resend request write failed")
	}
}

// NextFrame pulls the next frame to play, gating on being both playing
// and fully synchronised (RTP_SYNC|NTP_SYNC), emitting startup/pause
// silence, running the proactive resend scan, and converting the
// buffer's frame-ready/playtime decision into a concrete wait/emit
// outcome for the caller.
func (e *Engine) NextFrame() (pcm []int16, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing || !e.synchro.ready() {
		return nil, false
	}

	if (e.silenceCount > 0) || e.pause {
		if e.silenceCount > 0 {
			e.silenceCount--
		}
		return make([]int16, e.cfg.FrameLen*2), true
	}

	if rr, found := e.jit.ScanForResend(time.Now()); found {
		go e.requestResend(rr.First, rr.Last)
	}

	curTS, _ := e.jit.PeekPlayable()
	delta := int32(curTS - e.synchro.rtp)
	playtime := e.synchro.walltime.Add(time.Duration(delta) * time.Second / time.Duration(e.cfg.SampleRate))

	now := time.Now()
	payload, ready, got := e.jit.NextFrame(now, playtime, e.cfg.FillOnUnderrun)
	if !got {
		return nil, false
	}
	if e.silence && ready && !isSilence(payload) {
		e.silence = false
	}
	return payload, true
}

func isSilence(pcm []int16) bool {
	for _, s := range pcm {
		if s != 0 {
			return false
		}
	}
	return true
}
