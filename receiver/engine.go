// Package receiver implements the AirPlay-1 receiver engine: ingestion of
// audio/retransmitted packets into the jitter buffer, the sync-packet and
// NTP-timing-packet handlers, the drift corrector, and the
// IDLE/PLAYING/PAUSED control state machine. Packet storage and
// the resend decision live in package jitter; this package owns the
// clock-domain bookkeeping (RTP-to-walltime mapping, NTP round trips,
// play/pause/flush semantics) layered on top of it.
//
// Grounded on this module's sender engine for its mutex/running-flag/
// zerolog-threading shape, generalised to the receive side of the same
// session.
package receiver

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/philippe44/libraop/aesutil"
	"github.com/philippe44/libraop/codec"
	"github.com/philippe44/libraop/jitter"
)

// syncStatus bits, set as the first sync/NTP-timing packets arrive.
const (
	rtpSync uint8 = 0x01
	ntpSync uint8 = 0x02
)

// Config configures a new Engine.
type Config struct {
	SampleRate     uint32
	FrameLen       int // samples per packet, 352 at 44.1kHz
	LatencyFrames  int // jitter.Buffer.LatencyFrames
	DelayFrames    int // jitter.Buffer.DelayFrames
	RequireSync    bool
	FillOnUnderrun bool // emit silence instead of waiting when the buffer runs dry
	Coder          codec.Coder
	Cipher         *aesutil.CBCCodec // nil if the session negotiated no encryption
	Logger         zerolog.Logger

	// OnFullFlush, if set, is called after a non-silence FLUSH commits:
	// the HTTP egress side (package httpaudio) wires this to Server.Reset
	// so the active connection and its replay cache drop along with the
	// audio session, matching raopst_flush's http_ready/close_socket/
	// http_count reset.
	OnFullFlush func()
}

type ReceiverOption func(*Engine)

func WithLogger(l zerolog.Logger) ReceiverOption {
	return func(e *Engine) { e.log = l }
}

// synchro tracks the RTP<->walltime mapping this session has established.
type synchro struct {
	rtp      uint32    // sender's current rtp timestamp minus its reported latency
	walltime time.Time // local walltime the rtp timestamp above corresponds to
	status   uint8     // rtpSync|ntpSync bits
	first    bool      // a fresh sync packet (restart marker) arrived
	required bool      // gate buffer_put_packet's playing transition on it
}

func (s synchro) ready() bool { return s.status == rtpSync|ntpSync }

// record is the most recent RECORD seen, used to debounce an early/duplicate
// FLUSH the way the control-channel handler does.
type record struct {
	at      time.Time
	seqno   uint16
	rtptime uint32
}

// Engine is one receiver session: one RTSP SETUP/RECORD/FLUSH/TEARDOWN
// lifetime, bound to three UDP sockets (audio, control, timing).
type Engine struct {
	cfg Config
	log zerolog.Logger

	// mu guards every field below: the jitter buffer, synchro/timing
	// state, playback flags, and flush/record bookkeeping.
	mu sync.Mutex

	state State
	jit   *jitter.Buffer

	synchro       synchro
	timing        timing
	latencyOffset uint32 // sender rtp_now - rtp_now_latency, fixed at the first sync packet

	flushSeqno   int32 // -1 means "no flush pending"
	rec          record
	playing      bool
	silence      bool // true until the first non-silent frame plays
	pause        bool // silence-only FLUSH: hold output, keep synchro state
	silenceCount uint32

	running atomic.Bool
	wg      sync.WaitGroup

	audioConn  net.PacketConn
	ctrlConn   net.PacketConn
	timingConn net.PacketConn

	peer atomic.Pointer[net.Addr]
}

// New builds a receiver engine bound to the given audio/control/timing UDP
// sockets (already created/bound by the caller; the engine owns them from
// this point on).
func New(cfg Config, audioConn, ctrlConn, timingConn net.PacketConn, opts ...ReceiverOption) (*Engine, error) {
	if cfg.FrameLen <= 0 {
		return nil, fmt.Errorf("receiver: frame length must be positive")
	}
	if cfg.SampleRate == 0 {
		return nil, fmt.Errorf("receiver: sample rate must be set")
	}
	if cfg.Coder == nil {
		return nil, fmt.Errorf("receiver: coder must be set")
	}

	e := &Engine{
		cfg:        cfg,
		log:        zerolog.Nop(),
		state:      Idle,
		jit:        jitter.New(cfg.FrameLen),
		flushSeqno: -1,
		audioConn:  audioConn,
		ctrlConn:   ctrlConn,
		timingConn: timingConn,
	}
	e.jit.LatencyFrames = cfg.LatencyFrames
	e.jit.DelayFrames = cfg.DelayFrames
	e.synchro.required = cfg.RequireSync

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the current control state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start marks the engine running; call before launching the RunAudio/
// RunControl/RunTiming goroutines.
func (e *Engine) Start() { e.running.Store(true) }

// Stop unblocks every read loop and waits for them to return.
func (e *Engine) Stop() {
	e.running.Store(false)
	if e.audioConn != nil {
		_ = e.audioConn.SetReadDeadline(time.Now())
	}
	if e.ctrlConn != nil {
		_ = e.ctrlConn.SetReadDeadline(time.Now())
	}
	if e.timingConn != nil {
		_ = e.timingConn.SetReadDeadline(time.Now())
	}
	e.wg.Wait()

	e.mu.Lock()
	e.state = Idle
	e.mu.Unlock()
}

// Record remembers the RECORD request's seqno/rtptime, so a spuriously
// early or duplicate FLUSH naming the same pair can be ignored.
func (e *Engine) Record(seqno uint16, rtptime uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec = record{at: time.Now(), seqno: seqno, rtptime: rtptime}
}

// Flush resets the jitter buffer up to seqno. silence==true is a pause
// (hold output silent, keep synchro state for a fast resume); silence==
// false is a full stop (drop synchro/playing state, wait for a fresh
// session). It returns false when the request was ignored as early or a
// RECORD echo.
func (e *Engine) Flush(seqno uint16, rtptime uint32, silence bool) bool {
	e.mu.Lock()

	if time.Since(e.rec.at) < 250*time.Millisecond ||
		(e.rec.seqno == seqno && e.rec.rtptime == rtptime) {
		e.log.Debug().Uint16("seqno", seqno).Msg("receiver: flush ignored, early or echoes record")
		e.mu.Unlock()
		return false
	}

	e.flushSeqno = int32(seqno)
	e.jit.Reset(seqno + 1)

	if !silence {
		e.playing = false
		e.synchro.first = false
		e.state = Idle
	} else {
		e.pause = true
		e.state = Paused
	}
	e.mu.Unlock()

	if !silence && e.cfg.OnFullFlush != nil {
		e.cfg.OnFullFlush()
	}
	return true
}

// remember stores the peer address the most recent inbound packet on any
// channel arrived from, so the timing requester has somewhere to send.
func (e *Engine) remember(addr net.Addr) {
	e.peer.Store(&addr)
}

func (e *Engine) peerAddr() net.Addr {
	p := e.peer.Load()
	if p == nil {
		return nil
	}
	return *p
}
