// Package sender implements the AirPlay-1 sender engine: pacing of
// PCM/ALAC audio into RTP packets, the retransmit backlog, the NTP time
// server, the sync broadcaster, and the DOWN/FLUSHING/FLUSHED/STREAMING
// state machine.
//
// Grounded on this module's RTP/RTSP session thread-and-mutex split: one
// engine mutex guarding exactly the mutable session fields, a `running`
// flag polled by every loop, functional-options construction, and
// zerolog for logging.
package sender

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/philippe44/libraop/aesutil"
	"github.com/philippe44/libraop/backlog"
	"github.com/philippe44/libraop/codec"
	"github.com/philippe44/libraop/ntptime"
	"github.com/philippe44/libraop/wire"
)

// RTSPTransport is the control-channel seam this package leaves to an
// external collaborator: RTSP text parsing/serialisation is someone
// else's job. The engine only ever calls these methods; package rtsp's
// Client satisfies this interface structurally.
type RTSPTransport interface {
	Do(ctx context.Context, method, uri string, headers map[string]string, body []byte) (status int, respHeaders map[string]string, respBody []byte, err error)
}

// Config configures a new Engine. See SenderOption for overrides.
type Config struct {
	SampleRate    uint32
	ChunkLen      int // frames per chunk (352 at 44.1kHz)
	LatencyFrames uint32
	Channels      int
	BitDepth      int
	Coder         codec.Coder
	Cipher        *aesutil.CBCCodec // nil if the session negotiated no encryption
	Transport     RTSPTransport
	SessionURL    string
	Logger        zerolog.Logger
}

type SenderOption func(*Engine)

func WithLogger(l zerolog.Logger) SenderOption {
	return func(e *Engine) { e.log = l }
}

func WithSSRC(ssrc uint32) SenderOption {
	return func(e *Engine) { e.ssrc = ssrc }
}

// sanityCounters are the per-channel transient-error counters the
// session's health check watches; updated only under mu.
type sanityCounters struct {
	audioAvail  int
	audioSend   int
	audioSelect int
	ctrl        int
	timing      int
}

// weighted returns the weighted sum Sane compares against 500.
func (c sanityCounters) weighted() int {
	return c.audioSend + 5*c.audioAvail + 50*c.audioSelect
}

// Engine is one sender session.
type Engine struct {
	id uuid.UUID

	cfg Config
	log zerolog.Logger

	// mu guards every field the concurrent threads share: backlog,
	// head_ts, pause_ts, flushing, state, seq_number (plus the closely
	// related start_ts/first_ts/first-packet flag and the sanity
	// counters).
	mu           sync.Mutex
	state        State
	headTS       uint64
	pauseTS      *uint64
	startTS      *uint64
	firstTS      *uint64
	flushPending bool
	seq          uint16
	ssrc         uint32
	firstPkt     bool
	backlog      *backlog.Ring
	counters     sanityCounters
	volume       float64

	running atomic.Bool
	wg      sync.WaitGroup

	audioConn  net.PacketConn
	ctrlConn   net.PacketConn
	timingConn net.PacketConn

	ctrlPeer   net.Addr
	timingPeer atomic.Pointer[net.Addr]

	sendFailures atomic.Int64
}

// New builds a sender engine bound to the given audio/control/timing UDP
// sockets (already created and connected/bound by the caller; the engine
// owns them from this point on).
func New(cfg Config, audioConn, ctrlConn, timingConn net.PacketConn, opts ...SenderOption) (*Engine, error) {
	if cfg.ChunkLen <= 0 {
		return nil, fmt.Errorf("sender: chunk length must be positive")
	}
	if cfg.SampleRate == 0 {
		return nil, fmt.Errorf("sender: sample rate must be set")
	}
	if cfg.Coder == nil {
		return nil, fmt.Errorf("sender: coder must be set")
	}

	e := &Engine{
		id:         uuid.New(),
		cfg:        cfg,
		log:        zerolog.Nop(),
		state:      Down,
		backlog:    backlog.New(),
		audioConn:  audioConn,
		ctrlConn:   ctrlConn,
		timingConn: timingConn,
	}
	e.ctrlPeer = nil

	var seqBuf [2]byte
	if _, err := rand.Read(seqBuf[:]); err == nil {
		e.seq = binary.BigEndian.Uint16(seqBuf[:])
	}
	var ssrcBuf [4]byte
	if _, err := rand.Read(ssrcBuf[:]); err == nil {
		e.ssrc = binary.BigEndian.Uint32(ssrcBuf[:])
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ID returns the engine's session correlation id (supplemental, not part
// of the wire protocol) for log/trace correlation.
func (e *Engine) ID() uuid.UUID { return e.id }

// State returns the current control-channel state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Connect transitions DOWN -> FLUSHED and arms a pending flush, so the
// first call to AcceptFrame establishes head_ts/first_ts off the current
// time-domain and forces the first sync packet once streaming starts.
func (e *Engine) Connect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Flushed
	e.firstPkt = true
	e.flushPending = true
	e.running.Store(true)
}

// Disconnect returns to DOWN from any state and stops the background
// threads, freeing every backlog slot.
func (e *Engine) Disconnect() {
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
	e.state = Down
	e.backlog.Clear()
	e.mu.Unlock()
}

// Volume returns the last volume set via SetVolume, for a supervisor to
// preserve across a tear-down/re-connect repair cycle.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// SetVolume records the session volume (0 not wired to the wire protocol
// itself; SET_PARAMETER body composition is the caller's job via
// RTSPTransport).
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
}

// Sane reports whether the engine's transient-error counters are within
// bounds: weighted sum <= 500 while STREAMING, and ctrl/timing
// individually <= 2.
func (e *Engine) Sane() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Streaming && e.counters.weighted() > 500 {
		return false
	}
	return e.counters.ctrl <= 2 && e.counters.timing <= 2
}

func (e *Engine) noteAudioAvail() {
	e.mu.Lock()
	e.counters.audioAvail++
	e.mu.Unlock()
}

func (e *Engine) noteAudioSend() {
	e.mu.Lock()
	e.counters.audioSend++
	e.mu.Unlock()
}

func (e *Engine) noteAudioSelect() {
	e.mu.Lock()
	e.counters.audioSelect++
	e.mu.Unlock()
}

func (e *Engine) noteCtrlError() {
	e.mu.Lock()
	e.counters.ctrl++
	e.mu.Unlock()
}

func (e *Engine) noteTimingError() {
	e.mu.Lock()
	e.counters.timing++
	e.mu.Unlock()
}

// latencyChunks returns latency expressed as a whole number of chunks.
func (e *Engine) latencyChunks() int {
	if e.cfg.ChunkLen == 0 {
		return 0
	}
	return int(e.cfg.LatencyFrames) / e.cfg.ChunkLen
}

// nowTS returns the current wall clock expressed as an RTP timestamp at
// this session's sample rate.
func (e *Engine) nowTS() uint64 {
	return ntptime.ToTS(ntptime.Now(), e.cfg.SampleRate)
}

// buildAudioPacket renders an AudioPacket, applying the payload cipher if
// one was negotiated.
func (e *Engine) buildAudioPacket(seq uint16, ts uint32, payload []byte, first bool) ([]byte, error) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	if e.cfg.Cipher != nil {
		e.cfg.Cipher.Encrypt(buf)
	}
	pkt := wire.AudioPacket{
		Seq:       seq,
		Timestamp: ts,
		SSRC:      e.ssrc,
		FirstPkt:  first,
		Payload:   buf,
	}
	return pkt.Marshal()
}
