// Package httpaudio implements the receiver's pull-side HTTP audio
// egress: a single-client GET/HEAD listener that streams the live
// re-encoded PCM as it arrives, with ICY metadata interleaving, a 2MiB
// ring cache for byte-range replay and reconnects, and chunked framing
// for a stream whose total length isn't known ahead of time.
//
// Grounded on this module's rtsp package for its bufio/net/textproto
// request-parsing idiom, generalised to a single-connection server
// instead of a client, plus the sender/receiver engines' running-flag/
// WaitGroup shutdown shape.
package httpaudio

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ContentLengthUnknown tells Server to frame the response with chunked
// Transfer-Encoding (HTTP/1.1) rather than a fixed Content-Length,
// because the stream's total length isn't known until the session ends.
const ContentLengthUnknown = -1

// Config configures a new Server.
type Config struct {
	Encoder Encoder
	// Frames supplies the next frame of interleaved PCM to serve, e.g.
	// receiver.Engine.NextFrame. ok==false means "nothing ready yet",
	// not end of stream; the server waits IdleWait and asks again.
	Frames func() (pcm []int16, ok bool)

	ContentLength int64 // fixed length, or ContentLengthUnknown
	RangeSupport  bool
	ICYInterval   uint32 // 0 disables ICY negotiation

	// StartupSilence, if set, returns how many silence frames to emit
	// before the first real frame of a brand new session (computed by
	// the caller as delay-min(delay,fill), the jitter buffer's fill
	// level at GET time).
	StartupSilence func() int
	// SilenceFrame is one frame's worth of zeroed interleaved samples,
	// sized to match whatever Frames() returns; used by StartupSilence.
	SilenceFrame []int16

	IdleWait time.Duration // default 20ms
}

type ServerOption func(*Server)

func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// Server is the HTTP audio listener: bind it to a TCP address with New,
// then Start/Stop it like the sender/receiver engines.
type Server struct {
	cfg Config
	log zerolog.Logger

	ln net.Listener

	mu  sync.Mutex
	icy icyState
	rng ring

	active  atomic.Pointer[net.Conn]
	running atomic.Bool
	wg      sync.WaitGroup
}

// New binds the listener and returns a Server ready to Start.
func New(addr string, cfg Config, opts ...ServerOption) (*Server, error) {
	if cfg.Encoder == nil {
		return nil, fmt.Errorf("httpaudio: encoder must be set")
	}
	if cfg.Frames == nil {
		return nil, fmt.Errorf("httpaudio: frame source must be set")
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 20 * time.Millisecond
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("httpaudio: listen: %w", err)
	}
	s := &Server{cfg: cfg, log: zerolog.Nop(), ln: ln}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the bound listener address, useful when New was given
// ":0" to pick an ephemeral port.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Start runs the accept loop in its own goroutine. Only one client is
// ever served at a time: the accept loop blocks on the current
// connection until it closes before accepting the next one, mirroring a
// single hardware AirPlay-1 receiver's one-listener-at-a-time model.
func (s *Server) Start() {
	s.running.Store(true)
	s.wg.Add(1)
	go s.acceptLoop()
}

// Stop closes the listener and the active connection (if any) and waits
// for the accept loop to return.
func (s *Server) Stop() {
	s.running.Store(false)
	_ = s.ln.Close()
	s.CloseActive()
	s.wg.Wait()
}

// CloseActive force-closes whatever connection is currently being
// served, e.g. when a FLUSH invalidates the stream being sent. A no-op
// if no connection is active.
func (s *Server) CloseActive() {
	if c := s.active.Load(); c != nil {
		_ = (*c).Close()
	}
}

// Reset drops the replay cache and force-closes the active connection,
// the httpaudio-side half of a non-silence FLUSH (raopst_flush resets
// http_count to 0 and sets close_socket when the audio session itself is
// dropped rather than paused).
func (s *Server) Reset() {
	s.mu.Lock()
	s.rng = ring{}
	s.mu.Unlock()
	s.CloseActive()
}

// SetMetadata updates the now-playing fields interleaved into the next
// ICY metadata block of the active connection, if any.
func (s *Server) SetMetadata(m Metadata) {
	s.mu.Lock()
	s.icy.setMetadata(m)
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for s.running.Load() {
		conn, err := s.ln.Accept()
		if err != nil {
			continue
		}
		s.active.Store(&conn)
		s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("httpaudio: connection accepted")
		s.serve(conn)
		s.active.Store(nil)
	}
}

type request struct {
	method   string
	proto11  bool
	rangeHdr string
	wantICY  bool
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	req, err := s.readRequest(conn)
	if err != nil {
		s.log.Debug().Err(err).Msg("httpaudio: malformed request")
		return
	}

	s.mu.Lock()
	first := s.rng.total() == 0
	offset, partial := s.rangeOffset(req)
	total := s.rng.total()
	chunked := s.cfg.ContentLength == ContentLengthUnknown && req.proto11
	if req.wantICY && s.cfg.ICYInterval > 0 {
		s.icy.negotiate(s.cfg.ICYInterval)
	} else {
		s.icy.negotiate(0)
	}
	replay := s.rng.replayFrom(offset)
	s.mu.Unlock()

	w := bufio.NewWriter(conn)
	s.writeHeaders(w, req, partial, offset, total, chunked)
	if err := w.Flush(); err != nil {
		return
	}
	if req.method == "HEAD" {
		return
	}

	iw := &icyWriter{dst: &frameSink{w: w, chunked: chunked}, state: &s.icy}

	if len(replay) > 0 {
		if _, err := iw.Write(replay); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}

	if first && s.cfg.StartupSilence != nil {
		s.emitSilence(iw, w, s.cfg.StartupSilence())
	}

	s.liveLoop(conn, iw, w)

	if chunked {
		_, _ = w.WriteString("0\r\n\r\n")
		_ = w.Flush()
	}
}

// emitSilence feeds n frames of zeroed PCM through the encoder stream,
// the startup hush a brand new connection gets while the jitter buffer
// fills to its target depth.
func (s *Server) emitSilence(iw *icyWriter, w *bufio.Writer, n int) {
	if n <= 0 || len(s.cfg.SilenceFrame) == 0 {
		return
	}
	stream := s.cfg.Encoder.Open(iw)
	payload := PCMBytes(s.cfg.SilenceFrame)
	for i := 0; i < n; i++ {
		if _, err := stream.Write(payload); err != nil {
			return
		}
	}
	_ = w.Flush()
}

func (s *Server) liveLoop(conn net.Conn, iw *icyWriter, w *bufio.Writer) {
	cw := cacheWriter{&s.rng}
	stream := s.cfg.Encoder.Open(io.MultiWriter(cw, iw))

	for s.running.Load() {
		pcm, ok := s.cfg.Frames()
		if !ok {
			time.Sleep(s.cfg.IdleWait)
			continue
		}
		if _, err := stream.Write(PCMBytes(pcm)); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
		if a := s.active.Load(); a == nil || *a != conn {
			return
		}
	}
}

type cacheWriter struct{ r *ring }

func (c cacheWriter) Write(p []byte) (int, error) {
	c.r.push(p)
	return len(p), nil
}

// frameSink applies chunked-encoding framing (if negotiated) around each
// Write, so icyWriter and the Encoder above it never need to know
// whether the connection is chunked.
type frameSink struct {
	w       *bufio.Writer
	chunked bool
}

func (f *frameSink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if f.chunked {
		fmt.Fprintf(f.w, "%x\r\n", len(p))
		if _, err := f.w.Write(p); err != nil {
			return 0, err
		}
		if _, err := f.w.WriteString("\r\n"); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return f.w.Write(p)
}

func (s *Server) readRequest(conn net.Conn) (request, error) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	r := textproto.NewReader(bufio.NewReader(conn))

	line, err := r.ReadLine()
	if err != nil {
		return request{}, fmt.Errorf("httpaudio: read request line: %w", err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return request{}, fmt.Errorf("httpaudio: malformed request line %q", line)
	}

	headers, err := r.ReadMIMEHeader()
	if err != nil {
		return request{}, fmt.Errorf("httpaudio: read headers: %w", err)
	}

	req := request{
		method:   strings.ToUpper(parts[0]),
		proto11:  strings.Contains(parts[2], "1.1"),
		rangeHdr: headers.Get("Range"),
		wantICY:  headers.Get("Icy-MetaData") == "1",
	}
	_ = conn.SetReadDeadline(time.Time{})
	return req, nil
}

// rangeOffset parses a "Range: bytes=N-" header and clamps it into the
// cache's retained window, the way handle_http does; must be called
// with s.mu held.
func (s *Server) rangeOffset(req request) (offset uint64, partial bool) {
	if !s.cfg.RangeSupport || req.rangeHdr == "" {
		return 0, false
	}
	var want uint64
	if _, err := fmt.Sscanf(req.rangeHdr, "bytes=%d", &want); err != nil || want == 0 {
		return 0, false
	}
	return clampOffset(want, s.rng.total()), true
}

func (s *Server) writeHeaders(w *bufio.Writer, req request, partial bool, offset, total uint64, chunked bool) {
	proto := "HTTP/1.0"
	status := "200 OK"
	if req.proto11 {
		proto = "HTTP/1.1"
	}
	if partial {
		status = "206 Partial Content"
	}
	fmt.Fprintf(w, "%s %s\r\n", proto, status)
	fmt.Fprintf(w, "Server: AirRaop\r\n")
	fmt.Fprintf(w, "Content-Type: %s\r\n", s.cfg.Encoder.ContentType())

	if partial {
		fmt.Fprintf(w, "Content-Range: bytes %d-%d/*\r\n", offset, total)
	}
	if req.wantICY && s.cfg.ICYInterval > 0 {
		fmt.Fprintf(w, "icy-metaint: %d\r\n", s.cfg.ICYInterval)
	}

	if chunked {
		fmt.Fprintf(w, "Connection: close\r\n")
		fmt.Fprintf(w, "Transfer-Encoding: chunked\r\n")
	} else {
		if s.cfg.ContentLength > 0 && !partial {
			fmt.Fprintf(w, "Content-Length: %d\r\n", s.cfg.ContentLength)
		}
		fmt.Fprintf(w, "Connection: close\r\n")
	}
	fmt.Fprintf(w, "\r\n")
}
