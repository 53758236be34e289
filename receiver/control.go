package receiver

import (
	"context"
	"time"

	"github.com/philippe44/libraop/ntptime"
	"github.com/philippe44/libraop/wire"
)

// syncRequestEvery is how many sync packets elapse between timing
// requests, matching the cadence the sender's sync broadcaster and the
// playout side agree on.
const syncRequestEvery = 3

// RunControl reads the control socket for sync broadcasts (type 0x54)
// and retransmitted audio packets (type 0x56), dispatching each to its
// handler. Blocks until Stop unblocks the socket; run it in its own
// goroutine.
func (e *Engine) RunControl(ctx context.Context) {
	e.wg.Add(1)
	defer e.wg.Done()

	if e.ctrlConn == nil {
		return
	}

	syncCount := 0
	buf := make([]byte, 2048)
	for e.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = e.ctrlConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := e.ctrlConn.ReadFrom(buf)
		if err != nil {
			continue
		}
		e.remember(addr)

		if n < 2 {
			continue
		}

		switch buf[1] {
		case wire.TypeSync:
			sync, err := wire.ParseSync(buf[:n])
			if err != nil {
				e.log.Debug().Err(err).Msg("receiver: malformed sync packet")
				continue
			}
			e.handleSync(sync)
			syncCount++
			if syncCount >= syncRequestEvery {
				syncCount = 0
				e.requestTiming()
			}
		case wire.TypeRetransAV:
			raw, err := wire.ParseRetransmit(buf[:n])
			if err != nil {
				e.log.Debug().Err(err).Msg("receiver: malformed retransmit packet")
				continue
			}
			var pkt wire.AudioPacket
			if err := pkt.Unmarshal(raw); err != nil {
				e.log.Debug().Err(err).Msg("receiver: malformed retransmitted audio")
				continue
			}
			e.ingest(pkt)
		}
	}
}

// handleSync folds one sync broadcast into the synchro state: it
// establishes the session's RTP latency offset on the first packet,
// tracks whether this is a restart (the "first" marker), and re-derives
// the RTP-to-walltime mapping whenever NTP sync is already established.
func (e *Engine) handleSync(s wire.SyncPacket) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.timing.rtpRemote = ntptime.Time(s.NTPNow)

	if e.latencyOffset == 0 {
		e.latencyOffset = s.CurrentTS - s.TSMinusLatency
	}
	e.synchro.rtp = s.CurrentTS - e.latencyOffset

	if e.synchro.status&rtpSync == 0 {
		e.synchro.status |= rtpSync
		e.log.Info().Msg("receiver: first rtp sync packet received")
	}

	if s.First {
		e.synchro.first = true
		e.log.Info().Msg("receiver: restart sync packet received")
	}

	if e.synchro.status&ntpSync != 0 {
		e.recomputeSynchroTimeLocked()
	} else {
		e.log.Info().Msg("receiver: ntp not acquired yet")
	}
}
