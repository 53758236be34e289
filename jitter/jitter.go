// Package jitter implements the receiver's playout buffer: a 2048-slot
// ring indexed by RTP sequence modulo its size, the ab_write/ab_read
// watermark pair that track the newest-stored and next-to-play frame,
// and the gap-driven retransmit requester that asks the sender to resend
// a missing range before it would otherwise starve playout.
//
// Grounded on the receiver's own jitter-buffer/resend logic (the sender
// side of the same algorithm lives in package backlog/sender).
package jitter

import "time"

// Size is the number of buffer slots.
const Size = 2048

// ResendTimeout is the minimum time between two resend requests covering
// the same slot, so a slow reply doesn't trigger a storm of duplicate
// requests.
const ResendTimeout = 150 * time.Millisecond

// Slot holds one decoded frame awaiting playout.
type Slot struct {
	Ready      bool
	RTPTime    uint32
	LastResend time.Time
	Payload    []int16
}

// Buffer is the receiver's jitter buffer. All sequence-number arithmetic
// is done modulo 2^16 with wraparound-aware comparisons (seqOrder), since
// RTP sequence numbers wrap every ~9 minutes at 44.1kHz/352-frame chunks.
type Buffer struct {
	slots [Size]Slot
	write uint16 // ab_write: sequence of the newest frame stored
	read  uint16 // ab_read: sequence of the next frame to hand to playout
	// LatencyFrames bounds how far "newer than expected" may jump ahead
	// before a gap is declared unrecoverable and the window is slid
	// forward instead of waiting on a resend.
	LatencyFrames int
	// DelayFrames bounds how far ab_read may lag behind before it is
	// forced forward (the HTTP egress side fell too far behind).
	DelayFrames int
	FrameLen    int

	skip int // frames to drop once caught up, armed by the drift corrector

	ResentFrames  uint32
	SilentFrames  uint32
	FilledFrames  uint32
}

func New(frameLen int) *Buffer {
	return &Buffer{FrameLen: frameLen}
}

func index(seq uint16) int { return int(seq) % Size }

// seqOrder reports whether b comes strictly after a in sequence-number
// order, accounting for 16-bit wraparound.
func seqOrder(a, b uint16) bool {
	return int16(b-a) > 0
}

// ResendRange is a contiguous run of missing sequence numbers a Put call
// (or a proactive Scan) decided needs asking the sender to resend.
type ResendRange struct {
	First uint16
	Last  uint16
}

// valid is the sanity bound on a NACK range: never ask for more than half
// this buffer, and never an inverted range.
func (r ResendRange) valid() bool {
	return !seqOrder(r.Last, r.First) && r.Last-r.First <= Size/2
}

// Put stores a decoded frame at seqno. It classifies the packet as
// expected, newer-than-expected (possibly opening a gap), recovered (a
// retransmit arriving for a slot not yet consumed), or too-late (already
// passed ab_read), and returns the resend range to request, if any.
func (b *Buffer) Put(seqno uint16, rtptime uint32, data []int16) (ResendRange, bool) {
	now := time.Now()

	switch {
	case seqno == b.write+1:
		b.write = seqno
	case seqOrder(b.write, seqno):
		if b.LatencyFrames > 0 && seqOrder(uint16(b.LatencyFrames/max1(b.FrameLen)), seqno-b.write-1) {
			b.write = seqno - uint16(b.LatencyFrames/max1(b.FrameLen))
		}
		if b.DelayFrames > 0 && seqOrder(uint16(b.DelayFrames), seqno-b.read) {
			for i := b.read; seqOrder(i, seqno-uint16(b.DelayFrames)+1); i++ {
				b.slots[index(i)].Ready = false
			}
			b.read = seqno - uint16(b.DelayFrames) + 1
		}
		rr := ResendRange{First: b.write + 1, Last: seqno - 1}
		b.write = seqno
		if rr.valid() {
			b.ResentFrames += uint32(rr.Last-rr.First) + 1
			for i := rr.First; seqOrder(i-1, i) && i != seqno; i++ {
				s := &b.slots[index(i)]
				s.RTPTime = rtptime - uint32(seqno-i)*uint32(b.FrameLen)
				s.LastResend = now
				if i == rr.Last {
					break
				}
			}
			b.storeSlot(seqno, rtptime, data)
			return rr, true
		}
	case seqOrder(b.read, seqno+1):
		// recovered: falls within the still-pending window
	default:
		// too late, already consumed
		return ResendRange{}, false
	}

	b.storeSlot(seqno, rtptime, data)
	return ResendRange{}, false
}

func (b *Buffer) storeSlot(seqno uint16, rtptime uint32, data []int16) {
	s := &b.slots[index(seqno)]
	s.Ready = true
	s.RTPTime = rtptime
	s.Payload = data
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Fill reports the current occupancy: how many slots between ab_read and
// ab_write (inclusive) are spoken for.
func (b *Buffer) Fill() int {
	return int(int16(b.write - b.read + 1))
}

// ScanForResend walks up to 64 steps ahead of ab_read looking for a run
// of not-ready, not-recently-resent slots, and returns the first such
// range it finds (mirroring the playout side's proactive resend pass,
// run once per frame request rather than only reactively on Put).
func (b *Buffer) ScanForResend(now time.Time) (ResendRange, bool) {
	fill := b.Fill()
	step := fill / 64
	if step < 1 {
		step = 1
	}
	var first uint16
	haveFirst := false
	for i := 0; seqOrder(b.read+uint16(i), b.write); i += step {
		frame := &b.slots[index(b.read + uint16(i))]
		stale := now.Sub(frame.LastResend) > ResendTimeout
		if haveFirst && (frame.Ready || !stale) {
			rr := ResendRange{First: first, Last: b.read + uint16(i) - 1}
			if rr.valid() {
				return rr, true
			}
			return ResendRange{}, false
		}
		if !frame.Ready && stale {
			if !haveFirst {
				first = b.read + uint16(i)
				haveFirst = true
			}
			frame.LastResend = now
		}
	}
	return ResendRange{}, false
}

// NextFrame pops the frame at ab_read if it is ready or the wait window
// has elapsed, returning (payload, ready, ok). ok is false when there is
// nothing to return yet (caller should wait). When the slot was never
// filled, a silence frame of FrameLen samples is synthesized and ready is
// false, so callers can tell a genuine frame from a gap fill.
func (b *Buffer) NextFrame(now, playtime time.Time, fillAllowed bool) ([]int16, bool, bool) {
	for b.skip > 0 && seqOrder(b.read, b.write) {
		b.slots[index(b.read)].Ready = false
		b.read++
		b.skip--
	}

	fill := b.Fill()
	if fill >= Size {
		b.read = b.write - uint16(Size-64)
		fill = b.Fill()
	}

	cur := &b.slots[index(b.read)]
	if fill <= 0 && !fillAllowed {
		return nil, false, false
	}
	if !cur.Ready && now.Before(playtime) {
		return nil, false, false
	}

	ready := cur.Ready
	var payload []int16
	if ready {
		payload = cur.Payload
		cur.Ready = false
	} else {
		payload = make([]int16, b.FrameLen*2)
		b.SilentFrames++
	}
	if fill <= 0 {
		b.write++
		b.FilledFrames++
	}
	b.read++
	return payload, ready, true
}

// Skip arms n frames to be dropped from the head of the buffer once
// playout catches up to them, the drift corrector's "running too slow"
// correction.
func (b *Buffer) Skip(n int) { b.skip += n }

// DropOldest steps ab_read back by one and marks that slot ready, so the
// frame just handed out is played again without advancing playout time,
// the drift corrector's "running too fast" correction: one extra frame is
// manufactured so the same wall-clock interval covers one fewer RTP frame.
// It does nothing when ab_read is 0.
func (b *Buffer) DropOldest() {
	if b.read > 0 {
		b.read--
		b.slots[index(b.read)].Ready = true
	}
}

// AdvanceRead drops the ready flag off the current head and moves ab_read
// forward by one without producing a frame for it, the corrector's
// "running too slow" single-frame correction.
func (b *Buffer) AdvanceRead() {
	if seqOrder(b.read, b.write) {
		b.slots[index(b.read)].Ready = false
		b.read++
	} else {
		b.skip++
	}
}

// PeekPlayable returns the RTP timestamp the frame at ab_read is expected
// to play at, and whether that slot is actually filled. When the buffer
// is empty it extrapolates from the previous slot's timestamp, so
// playtime gating still has something to compare against during a
// starvation gap.
func (b *Buffer) PeekPlayable() (rtptime uint32, ready bool) {
	if b.Fill() <= 0 {
		prev := &b.slots[index(b.read-1)]
		return prev.RTPTime + uint32(b.FrameLen), false
	}
	cur := &b.slots[index(b.read)]
	return cur.RTPTime, cur.Ready
}

// Write returns the current ab_write watermark.
func (b *Buffer) Write() uint16 { return b.write }

// Read returns the current ab_read watermark.
func (b *Buffer) Read() uint16 { return b.read }

// Reset clears every slot and resets both watermarks to seq-1, the state
// a FLUSH leaves the buffer in.
func (b *Buffer) Reset(seq uint16) {
	for i := range b.slots {
		b.slots[i] = Slot{}
	}
	b.write = seq - 1
	b.read = b.write + 1
	b.skip = 0
}
