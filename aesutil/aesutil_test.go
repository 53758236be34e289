package aesutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCBCRoundTripWithResidue(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
		iv[i] = byte(i * 2)
	}

	plain := []byte("this is thirty-five bytes long!!!!!")
	require.Equal(t, 35, len(plain))

	enc, err := NewCBCCodec(key, iv)
	require.NoError(t, err)
	buf := append([]byte(nil), plain...)
	enc.Encrypt(buf)

	// the 3-byte residue (35 % 16) must be left untouched in the clear.
	require.Equal(t, plain[32:], buf[32:])
	require.NotEqual(t, plain[:32], buf[:32])

	dec, err := NewCBCCodec(key, iv)
	require.NoError(t, err)
	dec.Decrypt(buf)
	require.Equal(t, plain, buf)
}

func TestCTRRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	plain := []byte("pair-verify payload to encrypt!")

	enc, err := CTREncrypt(key, iv, plain)
	require.NoError(t, err)
	require.NotEqual(t, plain, enc)

	dec, err := CTREncrypt(key, iv, enc)
	require.NoError(t, err)
	require.Equal(t, plain, dec)
}

func TestGCMSeal(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	plain := []byte("ed25519 public key bytes (32)!!")

	ct, tag, err := GCMSeal(key, iv, plain)
	require.NoError(t, err)
	require.Len(t, ct, len(plain))
	require.Len(t, tag, 16)
}
