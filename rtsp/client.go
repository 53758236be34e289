// Package rtsp implements the minimal RTSP/1.0 request/response transport
// the sender engine needs (package pairing has its own): an ANNOUNCE/SETUP/
// RECORD/FLUSH/TEARDOWN/OPTIONS/SET_PARAMETER/GET_PARAMETER client built
// on bufio/net/textproto, plus digest authentication and session/CSeq
// bookkeeping. RTSP text parsing stays a thin, explicit state machine in
// the idiom of this module's other wire-framing packages rather than a
// general-purpose HTTP-shaped library, because RTSP/1.0 here is close to
// but not quite HTTP (no chunked request bodies, CSeq instead of a
// connection-level sequence, Session instead of cookies).
package rtsp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ExtraHeader is one caller-supplied header sent on every request after
// the client's own CSeq/User-Agent lines and before its Session line (Active-Remote, DACP-ID,
// Client-Instance, ...).
type ExtraHeader struct {
	Key   string
	Value string
}

// Client is a single RTSP/1.0 control connection to one AirPlay receiver.
type Client struct {
	mu sync.Mutex

	conn net.Conn
	r    *textproto.Reader
	w    *bufio.Writer

	cseq    int
	session string

	url       string
	userAgent string
	extra     []ExtraHeader

	auth *DigestAuth

	log zerolog.Logger

	readTimeout time.Duration
}

// Dial opens a TCP control connection to addr (host:port) and returns a
// Client whose requests default to url as their RTSP target (ANNOUNCE's
// URL; later requests may override it).
func Dial(ctx context.Context, addr, url string, opts ...ClientOption) (*Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtsp: dial: %w", err)
	}
	c := &Client{
		conn:        conn,
		r:           textproto.NewReader(bufio.NewReader(conn)),
		w:           bufio.NewWriter(conn),
		url:         url,
		userAgent:   "iTunes/7.6.2 (Windows; N;)",
		readTimeout: 10 * time.Second,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type ClientOption func(*Client)

func WithUserAgent(ua string) ClientOption { return func(c *Client) { c.userAgent = ua } }
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}
func WithExtraHeader(key, value string) ClientOption {
	return func(c *Client) { c.extra = append(c.extra, ExtraHeader{Key: key, Value: value}) }
}
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) { c.auth = &DigestAuth{Username: username, Password: password} }
}

// Session returns the RTSP session id SETUP's response established, or
// "" before SETUP completes.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Close closes the underlying TCP connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one RTSP request and, unless body-only replies are expected,
// reads and parses its response. It satisfies sender.RTSPTransport.
// uri == "" reuses the client's configured url; uri == "*" sends "*"
// verbatim (OPTIONS keepalive).
func (c *Client) Do(ctx context.Context, method, uri string, headers map[string]string, body []byte) (status int, respHeaders map[string]string, respBody []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	} else {
		_ = c.conn.SetDeadline(time.Now().Add(c.readTimeout))
	}

	target := uri
	if target == "" {
		target = c.url
	}

	status, respHeaders, respBody, err = c.roundTrip(method, target, headers, body)
	if err != nil {
		return 0, nil, nil, err
	}

	if status == 401 && c.auth != nil {
		challenge := respHeaders["Www-Authenticate"]
		if challenge == "" {
			challenge = respHeaders["WWW-Authenticate"]
		}
		authz, aerr := c.auth.Authorize(challenge, method, target)
		if aerr != nil {
			return status, respHeaders, respBody, fmt.Errorf("rtsp: digest: %w", aerr)
		}
		h := map[string]string{"Authorization": authz}
		for k, v := range headers {
			h[k] = v
		}
		return c.roundTrip(method, target, h, body)
	}

	return status, respHeaders, respBody, nil
}

func (c *Client) roundTrip(method, target string, headers map[string]string, body []byte) (int, map[string]string, []byte, error) {
	c.cseq++

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, target)
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	if len(body) > 0 {
		ct := headers["Content-Type"]
		if ct == "" {
			ct = "application/octet-stream"
		}
		if headers["Content-Type"] == "" {
			fmt.Fprintf(&b, "Content-Type: %s\r\n", ct)
		}
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	fmt.Fprintf(&b, "CSeq: %d\r\n", c.cseq)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", c.userAgent)
	for _, h := range c.extra {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Key, h.Value)
	}
	if c.session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", c.session)
	}
	b.WriteString("\r\n")

	if _, err := c.w.WriteString(b.String()); err != nil {
		return 0, nil, nil, fmt.Errorf("rtsp: write request: %w", err)
	}
	if len(body) > 0 {
		if _, err := c.w.Write(body); err != nil {
			return 0, nil, nil, fmt.Errorf("rtsp: write body: %w", err)
		}
	}
	if err := c.w.Flush(); err != nil {
		return 0, nil, nil, fmt.Errorf("rtsp: flush: %w", err)
	}

	statusLine, err := c.r.ReadLine()
	if err != nil {
		return 0, nil, nil, fmt.Errorf("rtsp: read status line: %w", err)
	}
	status, err := parseStatusLine(statusLine)
	if err != nil {
		return 0, nil, nil, err
	}

	mimeHeader, err := c.r.ReadMIMEHeader()
	if err != nil {
		return status, nil, nil, fmt.Errorf("rtsp: read headers: %w", err)
	}
	respHeaders := map[string]string{}
	for k := range mimeHeader {
		respHeaders[k] = mimeHeader.Get(k)
	}
	if sid := respHeaders["Session"]; sid != "" {
		c.session = sid
	}

	var respBody []byte
	if cl := respHeaders["Content-Length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err == nil && n > 0 {
			respBody = make([]byte, n)
			if _, err := readFull(c.r.R, respBody); err != nil {
				return status, respHeaders, nil, fmt.Errorf("rtsp: read body: %w", err)
			}
		}
	}

	return status, respHeaders, respBody, nil
}

func parseStatusLine(line string) (int, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, fmt.Errorf("rtsp: malformed status line %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("rtsp: malformed status code %q", parts[1])
	}
	return status, nil
}

func readFull(r interface {
	Read(p []byte) (int, error)
}, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
