package pairing

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDevice plays the receiver side of one /pair-pin-start +
// /pair-setup-pin exchange, handing back the fixed reference pk/salt so
// a client pinned to vectorA (via newClientExponent) produces the exact
// M1/AES-key/IV the reference vector predicts, the way serveOnce in the
// rtsp package plays a fixed-response peer for its own client.
func fakeDevice(t *testing.T, ln net.Listener, gotM1, gotEPK, gotTag *[]byte) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	r := textproto.NewReader(bufio.NewReader(conn))
	w := bufio.NewWriter(conn)

	readRequest := func() (path string, body []byte) {
		line, err := r.ReadLine()
		require.NoError(t, err)
		var method, proto string
		_, err = fmt.Sscanf(line, "%s %s %s", &method, &path, &proto)
		require.NoError(t, err)

		h, err := r.ReadMIMEHeader()
		require.NoError(t, err)
		if cl := h.Get("Content-Length"); cl != "" {
			n, err := strconv.Atoi(cl)
			require.NoError(t, err)
			if n > 0 {
				body = make([]byte, n)
				_, err = readFull(r.R, body)
				require.NoError(t, err)
			}
		}
		return path, body
	}

	writeOK := func(body []byte) {
		fmt.Fprintf(w, "HTTP/1.1 200 OK\r\n")
		fmt.Fprintf(w, "Content-Type: application/x-apple-binary-plist\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(body))
		_, err := w.Write(body)
		require.NoError(t, err)
		require.NoError(t, w.Flush())
	}

	pk := mustHexBytes(t, vectorPk)
	salt := mustHexBytes(t, vectorSalt)

	// /pair-pin-start
	path, _ := readRequest()
	require.Equal(t, "/pair-pin-start", path)
	writeOK(nil)

	// step 1: {method, user} -> {pk, salt}
	path, body := readRequest()
	require.Equal(t, "/pair-setup-pin", path)
	fields, err := decodeDict(body)
	require.NoError(t, err)
	require.Equal(t, "pin", string(fields["method"]))
	require.Equal(t, vectorUser, string(fields["user"]))
	writeOK(encodeDict(dataField("pk", pk), dataField("salt", salt)))

	// step 2: {pk: A, proof: M1} -> {proof: M2}. Since the client is
	// pinned to vectorA in this test, the reference K is the exchange's
	// real session key, so M2 can be built straight from it.
	path, body = readRequest()
	require.Equal(t, "/pair-setup-pin", path)
	fields, err = decodeDict(body)
	require.NoError(t, err)
	*gotM1 = append([]byte{}, fields["proof"]...)
	A := new(big.Int).SetBytes(fields["pk"])

	reference := vectorProof(t)
	require.Equal(t, hex.EncodeToString(reference.M1), hex.EncodeToString(*gotM1))

	data := append(append([]byte{}, padBig(A, srpNLen)...), *gotM1...)
	data = append(data, reference.K...)
	m2 := sha1.Sum(data)
	writeOK(encodeDict(dataField("proof", m2[:])))

	// step 3: {epk, authTag}
	path, body = readRequest()
	require.Equal(t, "/pair-setup-pin", path)
	fields, err = decodeDict(body)
	require.NoError(t, err)
	*gotEPK = append([]byte{}, fields["epk"]...)
	*gotTag = append([]byte{}, fields["authTag"]...)
	writeOK(nil)
}

func pinClientExponent(t *testing.T) func() {
	t.Helper()
	orig := newClientExponent
	newClientExponent = func() (*big.Int, error) {
		a, ok := new(big.Int).SetString(vectorA, 16)
		require.True(t, ok)
		return a, nil
	}
	return func() { newClientExponent = orig }
}

func TestPinPairFullExchange(t *testing.T) {
	restore := pinClientExponent(t)
	defer restore()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var gotM1, gotEPK, gotTag []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeDevice(t, ln, &gotM1, &gotEPK, &gotTag)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := PinPair(ctx, ln.Addr().String(), vectorUser, vectorPasswd)
	require.NoError(t, err)
	require.Equal(t, vectorUser, result.DeviceID)
	require.Equal(t, vectorA, hex.EncodeToString(result.Secret[:]))

	<-done

	require.Equal(t, vectorM1, hex.EncodeToString(gotM1))
	require.Len(t, gotEPK, 32)
	require.Len(t, gotTag, 16)
}

func TestPinPairFailsOnWrongM2(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		require.NoError(t, err)
		defer conn.Close()

		r := textproto.NewReader(bufio.NewReader(conn))
		w := bufio.NewWriter(conn)

		// /pair-pin-start
		_, err = r.ReadLine()
		require.NoError(t, err)
		_, err = r.ReadMIMEHeader()
		require.NoError(t, err)
		fmt.Fprintf(w, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
		require.NoError(t, w.Flush())

		// step 1
		_, err = r.ReadLine()
		require.NoError(t, err)
		h, err := r.ReadMIMEHeader()
		require.NoError(t, err)
		n, _ := strconv.Atoi(h.Get("Content-Length"))
		body := make([]byte, n)
		_, err = readFull(r.R, body)
		require.NoError(t, err)

		resp := encodeDict(dataField("pk", mustHexBytes(t, vectorPk)), dataField("salt", mustHexBytes(t, vectorSalt)))
		fmt.Fprintf(w, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n", len(resp))
		_, err = w.Write(resp)
		require.NoError(t, err)
		require.NoError(t, w.Flush())

		// step 2: respond with a bogus M2
		_, err = r.ReadLine()
		require.NoError(t, err)
		h, err = r.ReadMIMEHeader()
		require.NoError(t, err)
		n, _ = strconv.Atoi(h.Get("Content-Length"))
		body = make([]byte, n)
		_, err = readFull(r.R, body)
		require.NoError(t, err)

		bogus := encodeDict(dataField("proof", make([]byte, 20)))
		fmt.Fprintf(w, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n", len(bogus))
		_, err = w.Write(bogus)
		require.NoError(t, err)
		require.NoError(t, w.Flush())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = PinPair(ctx, ln.Addr().String(), vectorUser, vectorPasswd)
	require.Error(t, err)

	<-done
}
