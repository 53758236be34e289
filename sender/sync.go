package sender

import (
	"net"

	"github.com/philippe44/libraop/ntptime"
	"github.com/philippe44/libraop/wire"
)

// sendSync broadcasts one sync packet on the control channel. No-op
// outside STREAMING (a flushed session has nothing coherent to announce).
func (e *Engine) sendSync(first bool) {
	e.mu.Lock()
	if e.state != Streaming {
		e.mu.Unlock()
		return
	}
	ts := e.headTS
	latency := e.cfg.LatencyFrames
	e.mu.Unlock()

	now := ntptime.FromTS(ts, e.cfg.SampleRate)
	pkt := wire.SyncPacket{
		First:          first,
		TSMinusLatency: uint32(ts) - latency,
		NTPNow:         uint64(now),
		CurrentTS:      uint32(ts),
	}
	buf := pkt.Marshal()

	if e.ctrlConn == nil {
		return
	}
	if _, err := e.ctrlConn.WriteTo(buf, remoteAddr(e.ctrlConn)); err != nil {
		e.log.Debug().Err(err).Msg("sender: sync write failed")
		e.noteCtrlError()
	}
}

// remoteAddr extracts the RemoteAddr of a PacketConn that was Dial'd to a
// single peer, or nil for a PacketConn that expects an explicit WriteTo
// address (test fakes).
func remoteAddr(c net.PacketConn) net.Addr {
	if ra, ok := c.(interface{ RemoteAddr() net.Addr }); ok {
		return ra.RemoteAddr()
	}
	return nil
}
