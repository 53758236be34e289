// Package pairing implements AirPlay's SRP-6a PIN-pairing handshake (the
// "enter the PIN shown on your TV" flow a fresh AirPlay receiver uses to
// establish a long-term secret with a controller) and a pair-verify
// handshake layered on the resulting identity for session setup on
// subsequent connects.
//
// Grounded on original_source/src/pairing.cpp's AppleTVpairing, which
// drives the same three-step POST exchange over a kept-alive HTTP
// connection and a binary-plist wire body; see DESIGN.md for the parts of
// this package that go beyond what that file implements.
package pairing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/philippe44/libraop/aesutil"
)

// Result is what a successful PIN-pairing attempt establishes: the
// device's advertised name (UDN) and the long-term secret this
// controller should persist and reuse for pair-verify on future
// sessions.
type Result struct {
	DeviceID string
	Secret   [32]byte // the 'a' SRP exponent, doubling as the pair-verify Ed25519 seed
}

// PinPairOption configures PinPair.
type PinPairOption func(*pinPairer)

func WithPinPairLogger(l zerolog.Logger) PinPairOption {
	return func(p *pinPairer) { p.log = l }
}

type pinPairer struct {
	log zerolog.Logger
}

// PinPair runs the full /pair-pin-start + three-round /pair-setup-pin
// exchange against addr (host:port) for deviceID (the UDN a client
// identifies itself by) and pin (the code displayed on the receiver's
// screen), returning the long-term secret to persist for this device.
func PinPair(ctx context.Context, addr, deviceID, pin string, opts ...PinPairOption) (Result, error) {
	p := &pinPairer{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}

	t, err := dialTransport(ctx, addr)
	if err != nil {
		return Result{}, err
	}
	defer t.Close()

	if _, _, err := t.post(ctx, "/pair-pin-start", "application/octet-stream", nil); err != nil {
		return Result{}, fmt.Errorf("pairing: pair-pin-start: %w", err)
	}
	p.log.Debug().Str("device", deviceID).Msg("pairing: pair-pin-start sent")

	pk, salt, err := p.step1(ctx, t, deviceID)
	if err != nil {
		return Result{}, err
	}

	a, err := newClientExponent()
	if err != nil {
		return Result{}, err
	}
	proof := computeSRP(a, pk, salt, deviceID, pin)

	m2, err := p.step2(ctx, t, proof)
	if err != nil {
		return Result{}, err
	}
	if !verifyM2(proof, m2) {
		return Result{}, fmt.Errorf("pairing: M2 proof mismatch, wrong PIN or corrupted exchange")
	}

	seed := padBig(a, 32)
	if _, err := p.step3(ctx, t, proof, seed); err != nil {
		return Result{}, err
	}

	var secret [32]byte
	copy(secret[:], seed)
	p.log.Info().Str("device", deviceID).Msg("pairing: PIN exchange established a long-term secret")
	return Result{DeviceID: deviceID, Secret: secret}, nil
}

// step1 sends the PIN identification request and returns the device's
// SRP public key and salt.
func (p *pinPairer) step1(ctx context.Context, t *transport, deviceID string) (pk, salt []byte, err error) {
	body := encodeDict(stringField("method", "pin"), stringField("user", deviceID))
	status, resp, err := t.post(ctx, "/pair-setup-pin", "application/x-apple-binary-plist", body)
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: step 1: %w", err)
	}
	if status != 200 {
		return nil, nil, fmt.Errorf("pairing: step 1: status %d", status)
	}
	fields, err := decodeDict(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: step 1: %w", err)
	}
	pk, ok := fields["pk"]
	if !ok {
		return nil, nil, fmt.Errorf("pairing: step 1: response missing pk")
	}
	salt, ok = fields["salt"]
	if !ok {
		return nil, nil, fmt.Errorf("pairing: step 1: response missing salt")
	}
	return pk, salt, nil
}

// step2 sends this client's public value and M1 proof, returning the
// device's M2 proof.
func (p *pinPairer) step2(ctx context.Context, t *transport, proof srpProof) (m2 []byte, err error) {
	body := encodeDict(dataField("pk", padBig(proof.A, srpNLen)), dataField("proof", proof.M1))
	status, resp, err := t.post(ctx, "/pair-setup-pin", "application/x-apple-binary-plist", body)
	if err != nil {
		return nil, fmt.Errorf("pairing: step 2: %w", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("pairing: step 2: status %d", status)
	}
	fields, err := decodeDict(resp)
	if err != nil {
		return nil, fmt.Errorf("pairing: step 2: %w", err)
	}
	m2, ok := fields["proof"]
	if !ok {
		return nil, fmt.Errorf("pairing: step 2: response missing proof")
	}
	return m2, nil
}

// step3 derives the long-term Ed25519 keypair from seed, encrypts its
// public key with the session-derived AES key, and uploads it, the
// device's way of recording this controller's public identity for
// pair-verify.
func (p *pinPairer) step3(ctx context.Context, t *transport, proof srpProof, seed []byte) (pub ed25519.PublicKey, err error) {
	key, iv := deriveSessionAES(proof.K)
	priv := ed25519.NewKeyFromSeed(seed)
	pub = priv.Public().(ed25519.PublicKey)

	ciphertext, tag, err := aesutil.GCMSeal(key, iv, pub)
	if err != nil {
		return nil, fmt.Errorf("pairing: step 3: %w", err)
	}

	body := encodeDict(dataField("epk", ciphertext), dataField("authTag", tag))
	status, _, err := t.post(ctx, "/pair-setup-pin", "application/x-apple-binary-plist", body)
	if err != nil {
		return nil, fmt.Errorf("pairing: step 3: %w", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("pairing: step 3: status %d", status)
	}
	return pub, nil
}

// deriveSessionAES splits the SRP session key K into the AES-128 key and
// IV this exchange's final step uses to protect the uploaded public key:
// SHA512("Pair-Setup-AES-Key"|K) and SHA512("Pair-Setup-AES-IV"|K), each
// truncated to 16 bytes, with the IV's last byte incremented by one
// (original_source/src/pairing.cpp increments aesIV[15] before use).
func deriveSessionAES(K []byte) (key, iv []byte) {
	keyHash := sha512.Sum512(append([]byte("Pair-Setup-AES-Key"), K...))
	ivHash := sha512.Sum512(append([]byte("Pair-Setup-AES-IV"), K...))

	key = append([]byte{}, keyHash[:16]...)
	iv = append([]byte{}, ivHash[:16]...)
	iv[15]++
	return key, iv
}

// randomExponent draws a, the client's private SRP ephemeral exponent, as
// a 32-byte random value the way pairing.cpp seeds its BIGNUM.
func randomExponent() (*big.Int, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("pairing: random exponent: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// newClientExponent is a package-level indirection over randomExponent so
// tests can pin 'a' to a known value and check the exchange end to end
// against a fixed reference vector instead of a freshly random one.
var newClientExponent = randomExponent

