package receiver

import (
	"context"
	"time"

	"github.com/philippe44/libraop/ntptime"
	"github.com/philippe44/libraop/wire"
)

// gapThreshold and gapCountLimit gate the drift corrector: a cumulative
// clock gap under gapThreshold is noise; once it persists past
// gapCountLimit consecutive timing replies it is treated as genuine drift
// and one frame is duplicated or dropped to compensate.
const (
	gapThreshold  = 8 * time.Millisecond
	gapCountLimit = 20
	maxRoundtrip  = 100 * time.Millisecond
)

// timing holds the NTP round-trip state the drift corrector consumes.
type timing struct {
	drift     bool // true once an external corrector owns adjustment (unused by this engine, carried for parity)
	local     ntptime.Time
	remote    ntptime.Time
	rtpRemote ntptime.Time
	count     uint32
	gapCount  uint32
	gapSum    time.Duration
	gapAdjust time.Duration
}

// RunTiming answers nothing; it only reads NTP timing replies and feeds
// the drift corrector. The request side is driven by RunControl, every
// third sync packet, matching the cadence the sync handler uses. Blocks
// until Stop unblocks the socket; run it in its own goroutine.
func (e *Engine) RunTiming(ctx context.Context) {
	e.wg.Add(1)
	defer e.wg.Done()

	if e.timingConn == nil {
		return
	}

	e.requestTiming()

	buf := make([]byte, 1500)
	for e.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = e.timingConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := e.timingConn.ReadFrom(buf)
		if err != nil {
			continue
		}
		e.remember(addr)

		rep, err := wire.ParseTiming(buf[:n])
		if err != nil || !rep.Reply {
			continue
		}
		e.handleTimingReply(rep)
	}
}

// requestTiming sends an NTP timing request to the last known peer
// address. Returns false if no peer address is known yet (the first
// packet on any channel hasn't arrived).
func (e *Engine) requestTiming() bool {
	peer := e.peerAddr()
	if peer == nil || e.timingConn == nil {
		return false
	}

	now := ntptime.Now()
	e.mu.Lock()
	e.timing.local = now
	e.mu.Unlock()

	req := wire.TimingPacket{Reply: false, Send: uint64(now)}
	if _, err := e.timingConn.WriteTo(req.Marshal(), peer); err != nil {
		e.log.Debug().Err(err).Msg("receiver: timing request write failed")
	}
	return true
}

// handleTimingReply is the drift corrector: it discards replies whose
// round trip exceeds maxRoundtrip (too noisy to trust), tracks the
// accumulated gap between the locally expected and the reported remote
// time, and once that gap persists past gapCountLimit replies, nudges the
// jitter buffer's read pointer by one frame to absorb it.
func (e *Engine) handleTimingReply(rep wire.TimingPacket) {
	reference := ntptime.Time(rep.Ref)
	remote := ntptime.Time(rep.Recv)
	roundtrip := ntptime.Now().Sub(reference)
	if roundtrip < 0 {
		roundtrip = -roundtrip
	}
	if roundtrip > maxRoundtrip {
		e.log.Warn().Dur("roundtrip", roundtrip).Msg("receiver: discarding ntp reply, roundtrip too high")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	expected := e.timing.remote.Add(reference.Sub(e.timing.local))
	e.timing.remote = remote
	e.timing.local = reference
	e.timing.count++

	if !e.timing.drift && e.synchro.status&ntpSync != 0 {
		delta := expected.Sub(remote)
		e.timing.gapSum += delta

		if abs(e.timing.gapSum) > gapThreshold {
			e.timing.gapCount++
		}

		switch {
		case e.timing.gapSum > gapThreshold && e.timing.gapCount > gapCountLimit:
			// running too fast: duplicate the frame we just played so the
			// buffer doesn't starve.
			e.jit.DropOldest()
			e.timing.gapSum -= gapThreshold
			e.timing.gapAdjust -= gapThreshold
		case e.timing.gapSum < -gapThreshold && e.timing.gapCount > gapCountLimit:
			// running too slow: drop a frame (or arm a skip if none is
			// available yet) to keep from overflowing the buffer.
			e.jit.AdvanceRead()
			e.timing.gapSum += gapThreshold
			e.timing.gapAdjust += gapThreshold
		}

		if abs(e.timing.gapSum) < gapThreshold {
			e.timing.gapCount = 0
		}
	}

	e.recomputeSynchroTimeLocked()

	if e.synchro.status&ntpSync == 0 {
		e.synchro.status |= ntpSync
		e.log.Info().Msg("receiver: first ntp timing reply received")
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// recomputeSynchroTimeLocked re-derives the walltime a given RTP
// timestamp maps to, from the latest NTP timing exchange plus the most
// recent sync packet's reported remote NTP time. Called both when a new
// sync packet arrives and when a fresh timing reply lands, since either
// can be the one missing piece. Must hold mu.
func (e *Engine) recomputeSynchroTimeLocked() {
	if e.timing.count == 0 {
		return
	}
	e.synchro.walltime = e.timing.local.ToTime().Add(e.timing.rtpRemote.Sub(e.timing.remote))
}
