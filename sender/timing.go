package sender

import (
	"context"
	"time"

	"github.com/philippe44/libraop/ntptime"
	"github.com/philippe44/libraop/wire"
)

// RunTiming runs the timing thread: answers NTP requests on the timing
// UDP socket. Blocks until Disconnect stops the engine; run it in its own
// goroutine.
func (e *Engine) RunTiming(ctx context.Context) {
	e.wg.Add(1)
	defer e.wg.Done()

	if e.timingConn == nil {
		return
	}

	buf := make([]byte, 1500)
	for e.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = e.timingConn.SetReadDeadline(time.Now().Add(readDeadline))
		n, peer, err := e.timingConn.ReadFrom(buf)
		if err != nil {
			continue
		}

		req, err := wire.ParseTiming(buf[:n])
		if err != nil || req.Reply {
			e.noteTimingError()
			continue
		}

		// Record the peer address from the first packet and lock to it
		// thereafter, ignoring requests from any other address; the peer
		// may arrive later than SETUP, so until then no response is sent.
		if locked := e.timingPeer.Load(); locked == nil {
			e.timingPeer.Store(&peer)
		} else if (*locked).String() != peer.String() {
			continue
		}

		now := uint64(ntptime.Now())
		rep := wire.TimingPacket{
			Reply: true,
			Ref:   req.Send,
			Recv:  now,
			Send:  now,
		}
		if _, err := e.timingConn.WriteTo(rep.Marshal(), peer); err != nil {
			e.log.Debug().Err(err).Msg("sender: ntp reply write failed")
			e.noteTimingError()
		}
	}
}
