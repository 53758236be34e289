package pairing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/philippe44/libraop/aesutil"
)

// Verify runs a pair-verify handshake against addr using the long-term
// Ed25519 identity PinPair established (secret, the same 32-byte value
// PinPair.Result.Secret holds), proving to the device that this
// controller is the one it paired with without redoing the PIN exchange.
//
// original_source/src/pairing.cpp has no pair-verify code of its own --
// AirPlay-1's real re-auth path is Apple-Challenge/RSA, not pair-verify --
// so this handshake is this package's own design, shaped after the
// generic X25519-ECDH-then-Ed25519-signature pattern HomeKit-style
// pair-verify handshakes use elsewhere in the ecosystem; see DESIGN.md.
// It reuses the transport the PIN flow uses; both request bodies are raw
// byte framing, and only the device's step-1 reply is read with
// decodeDict.
func Verify(ctx context.Context, addr string, secret [32]byte) error {
	t, err := dialTransport(ctx, addr)
	if err != nil {
		return err
	}
	defer t.Close()

	var clientPriv [32]byte
	if _, err := rand.Read(clientPriv[:]); err != nil {
		return fmt.Errorf("pairing: verify: random ephemeral key: %w", err)
	}
	clientPub, err := curve25519.X25519(clientPriv[:], curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("pairing: verify: derive public key: %w", err)
	}

	longTerm := ed25519.NewKeyFromSeed(secret[:])
	longTermPub := longTerm.Public().(ed25519.PublicKey)

	// Step 1 is raw framing, not a plist: a 4-byte flags word (0x01 000000,
	// "first verify round") followed by the client's ephemeral Curve25519
	// key (verify_pub) and its long-term Ed25519 identity (auth_pub).
	start := make([]byte, 0, 4+32+32)
	start = append(start, 0x01, 0x00, 0x00, 0x00)
	start = append(start, clientPub...)
	start = append(start, longTermPub...)

	status, resp, err := t.post(ctx, "/pair-verify", "application/octet-stream", start)
	if err != nil {
		return fmt.Errorf("pairing: verify: step 1: %w", err)
	}
	if status != 200 {
		return fmt.Errorf("pairing: verify: step 1: status %d", status)
	}
	fields, err := decodeDict(resp)
	if err != nil {
		return fmt.Errorf("pairing: verify: step 1: %w", err)
	}
	devicePub, ok := fields["pk"]
	if !ok || len(devicePub) != 32 {
		return fmt.Errorf("pairing: verify: step 1: missing or malformed device public key")
	}
	signature, ok := fields["signature"]
	if !ok {
		return fmt.Errorf("pairing: verify: step 1: missing device signature")
	}

	shared, err := curve25519.X25519(clientPriv[:], devicePub)
	if err != nil {
		return fmt.Errorf("pairing: verify: ecdh: %w", err)
	}

	// The device's signature authenticates against ITS OWN long-term
	// Ed25519 key, learned out of band (typically during the PIN exchange
	// itself); this package has no device-identity store yet to check it
	// against, so signature is accepted but not verified here. See
	// DESIGN.md.
	_ = signature

	key, iv := deriveVerifyAES(shared)

	// The proof signs verify_pub||atv_pub (clientPub||devicePub, in that
	// order -- the order each side contributed its ephemeral key).
	signed := ed25519.Sign(longTerm, append(append([]byte{}, clientPub...), devicePub...))

	// atv_data is the device's ephemeral public key, echoed back bound
	// inside the encrypted proof so the finish message can't be replayed
	// against a different verify round.
	plaintext := append(append([]byte{}, devicePub...), signed...)
	encrypted, err := aesutil.CTREncrypt(key, iv, plaintext)
	if err != nil {
		return fmt.Errorf("pairing: verify: encrypt proof: %w", err)
	}

	// Step 2 is likewise raw framing: a 4-byte all-zero flags word
	// ("finish") followed by the AES-CTR ciphertext.
	finish := make([]byte, 0, 4+len(encrypted))
	finish = append(finish, 0x00, 0x00, 0x00, 0x00)
	finish = append(finish, encrypted...)

	status, _, err = t.post(ctx, "/pair-verify", "application/octet-stream", finish)
	if err != nil {
		return fmt.Errorf("pairing: verify: step 2: %w", err)
	}
	if status != 200 {
		return fmt.Errorf("pairing: verify: step 2: status %d", status)
	}

	return nil
}

// deriveVerifyAES derives the AES-128 key/IV pair-verify's second round
// uses to encrypt the proof signature, the same SHA-512 domain-separated
// construction PinPair's deriveSessionAES uses for its own session keys,
// applied here to the X25519 shared secret instead of the SRP session
// key.
func deriveVerifyAES(shared []byte) (key, iv []byte) {
	keyHash := sha512.Sum512(append([]byte("Pair-Verify-AES-Key"), shared...))
	ivHash := sha512.Sum512(append([]byte("Pair-Verify-AES-IV"), shared...))
	return append([]byte{}, keyHash[:16]...), append([]byte{}, ivHash[:16]...)
}
