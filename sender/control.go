package sender

import (
	"context"
	"time"

	"github.com/philippe44/libraop/wire"
)

// syncInterval is the sync-broadcast cadence: roughly once a second.
const syncInterval = time.Second

// keepaliveInterval is the OPTIONS keepalive cadence for the control
// thread.
const keepaliveInterval = 30 * time.Second

// readDeadline bounds every control-socket read so shutdown stays
// cooperative.
const readDeadline = time.Second

// RunControl runs the control thread: periodic sync broadcast, retransmit
// servicing, and the 30s keepalive OPTIONS ping. Blocks until Disconnect
// stops the engine; run it in its own goroutine.
func (e *Engine) RunControl(ctx context.Context) {
	e.wg.Add(1)
	defer e.wg.Done()

	syncTicker := time.NewTicker(syncInterval)
	defer syncTicker.Stop()
	keepaliveTicker := time.NewTicker(keepaliveInterval)
	defer keepaliveTicker.Stop()

	firstSyncSent := false

	for e.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-syncTicker.C:
			if e.State() == Streaming {
				e.sendSync(!firstSyncSent)
				firstSyncSent = true
			}
		case <-keepaliveTicker.C:
			e.sendKeepalive(ctx)
		default:
			e.serviceRetransmitOnce()
		}
	}
}

// serviceRetransmitOnce reads at most one NACK from the control socket
// and replies with the matching backlog entries. Non-blocking beyond
// readDeadline so the select-loop above stays responsive.
func (e *Engine) serviceRetransmitOnce() {
	if e.ctrlConn == nil {
		time.Sleep(10 * time.Millisecond)
		return
	}
	_ = e.ctrlConn.SetReadDeadline(time.Now().Add(readDeadline))

	buf := make([]byte, 1500)
	n, _, err := e.ctrlConn.ReadFrom(buf)
	if err != nil {
		return
	}

	req, err := wire.ParseRetransmitRequest(buf[:n])
	if err != nil {
		e.noteCtrlError()
		return
	}
	// A NACK range spanning more than half the receiver's jitter buffer
	// is malformed; B is unknown here, so half the backlog size
	// (backlogHalf) serves as the sanity bound.
	if req.Count == 0 || int(req.Count) > backlogHalf {
		e.noteCtrlError()
		return
	}

	for i := uint16(0); i < req.Count; i++ {
		seq := req.First + i
		e.mu.Lock()
		slot, ok := e.backlog.Lookup(seq)
		e.mu.Unlock()
		if !ok {
			e.log.Debug().Uint16("seq", seq).Msg("sender: retransmit request for non-matching slot, ignored")
			continue
		}
		wrapped := wire.WrapRetransmit(slot.Buffer)
		if _, err := e.ctrlConn.WriteTo(wrapped, remoteAddr(e.ctrlConn)); err != nil {
			e.noteCtrlError()
		}
	}
}

const backlogHalf = 256 // half of backlog.Size

func (e *Engine) sendKeepalive(ctx context.Context) {
	if e.cfg.Transport == nil {
		return
	}
	_, _, _, err := e.cfg.Transport.Do(ctx, "OPTIONS", "*", nil, nil)
	if err != nil {
		e.log.Debug().Err(err).Msg("sender: keepalive OPTIONS failed")
	}
}
