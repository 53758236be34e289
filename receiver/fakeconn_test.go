package receiver

import (
	"net"
	"sync"
	"time"
)

// fakePacketConn is a minimal in-memory net.PacketConn used to drive the
// engine in tests without opening real sockets.
type fakePacketConn struct {
	mu      sync.Mutex
	written [][]byte
}

func newFakePacketConn() *fakePacketConn { return &fakePacketConn{} }

func (f *fakePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	return 0, nil, &net.OpError{Op: "read", Err: errTimeout{}}
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

func (f *fakePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	f.mu.Lock()
	cp := append([]byte(nil), p...)
	f.written = append(f.written, cp)
	f.mu.Unlock()
	return len(p), nil
}

func (f *fakePacketConn) Close() error                      { return nil }
func (f *fakePacketConn) LocalAddr() net.Addr                { return &net.UDPAddr{} }
func (f *fakePacketConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakePacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakePacketConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakePacketConn) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}
