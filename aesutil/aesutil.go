// Package aesutil implements the AES modes AirPlay-1 needs: payload
// encryption is AES-128-CBC applied only to whole 16-byte blocks with any
// trailing residue left in the clear (a protocol quirk, not a bug, left
// alone deliberately), pair-verify uses AES-128-CTR with a big-endian
// counter, and PIN pair-setup uses AES-128-GCM.
//
// None of these fits github.com/pion/srtp's authenticated, whole-packet
// SRTP framing, so all are built on top of crypto/aes +
// crypto/cipher, the only primitives in the retrieved corpus for raw block
// ciphers (see DESIGN.md).
package aesutil

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CBCCodec encrypts/decrypts in place, AES-128-CBC, resetting the chain to
// the session IV at the start of every call (the cipher chains within one
// packet only) and only touching the 16-byte-aligned prefix of buf; any
// trailing residue below 16 bytes is left untouched.
type CBCCodec struct {
	block cipher.Block
	iv    [16]byte
}

// NewCBCCodec builds a codec for a 16-byte AES-128 key and IV.
func NewCBCCodec(key, iv []byte) (*CBCCodec, error) {
	if len(key) != 16 || len(iv) != 16 {
		return nil, fmt.Errorf("aesutil: key and iv must be 16 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aesutil: %w", err)
	}
	c := &CBCCodec{block: block}
	copy(c.iv[:], iv)
	return c, nil
}

// alignedLen returns the largest multiple of 16 <= n.
func alignedLen(n int) int {
	return n - (n % 16)
}

// Encrypt encrypts buf in place; the trailing n%16 bytes are left as-is.
func (c *CBCCodec) Encrypt(buf []byte) {
	n := alignedLen(len(buf))
	if n == 0 {
		return
	}
	mode := cipher.NewCBCEncrypter(c.block, c.iv[:])
	mode.CryptBlocks(buf[:n], buf[:n])
}

// Decrypt decrypts buf in place; the trailing n%16 bytes are left as-is.
func (c *CBCCodec) Decrypt(buf []byte) {
	n := alignedLen(len(buf))
	if n == 0 {
		return
	}
	mode := cipher.NewCBCDecrypter(c.block, c.iv[:])
	mode.CryptBlocks(buf[:n], buf[:n])
}

// CTREncrypt runs AES-128-CTR (big-endian counter, the standard Go
// crypto/cipher CTR convention) over buf and returns the result. Used by
// pair-verify to encrypt the signed response.
func CTREncrypt(key, iv, buf []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("aesutil: key must be 16 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aesutil: %w", err)
	}
	ivCopy := make([]byte, 16)
	copy(ivCopy, iv)
	stream := cipher.NewCTR(block, ivCopy)
	out := make([]byte, len(buf))
	stream.XORKeyStream(out, buf)
	return out, nil
}

// GCMSeal AES-128-GCM-encrypts plaintext with the full 16-byte iv used
// directly as the GCM nonce (the scheme pair-setup's PIN flow uses to
// protect the Ed25519 public key it uploads, one IV per pairing attempt
// rather than a counter), returning ciphertext and the 16-byte
// authentication tag separately since the protocol transmits them as
// distinct fields.
func GCMSeal(key, iv, plaintext []byte) (ciphertext, tag []byte, err error) {
	if len(key) != 16 {
		return nil, nil, fmt.Errorf("aesutil: key must be 16 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aesutil: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, nil, fmt.Errorf("aesutil: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-gcm.Overhead()]
	t := sealed[len(sealed)-gcm.Overhead():]
	return ct, t, nil
}
