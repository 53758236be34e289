package rtsp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serveOnce accepts one connection, reads one request (headers only, no
// body), and writes back a fixed response.
func serveOnce(t *testing.T, ln net.Listener, response string) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}
	_, err = conn.Write([]byte(response))
	require.NoError(t, err)
}

func TestClientOptionsRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOnce(t, ln, "RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, ln.Addr().String(), "rtsp://127.0.0.1/session")
	require.NoError(t, err)
	defer c.Close()

	status, headers, body, err := c.Do(ctx, "OPTIONS", "*", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 200, status)
	require.Equal(t, "1", headers["Cseq"])
	require.Empty(t, body)

	<-done
}

func TestClientSessionCaptured(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOnce(t, ln, "RTSP/1.0 200 OK\r\nSession: DEADBEEF\r\n\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, ln.Addr().String(), "rtsp://127.0.0.1/session")
	require.NoError(t, err)
	defer c.Close()

	_, _, _, err = c.Do(ctx, "SETUP", "", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "DEADBEEF", c.Session())

	<-done
}

func TestDigestAuthorizeBadChallenge(t *testing.T) {
	a := &DigestAuth{Password: "1234"}
	_, err := a.Authorize("", "OPTIONS", "*")
	require.Error(t, err)
}
