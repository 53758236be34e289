package pairing

import (
	"crypto/sha1"
	"math/big"
)

// The 2048-bit SRP-6a group RFC 5054 Appendix A.4 defines, with generator
// g=2. AirPlay's PIN-pairing exchange (original_source/src/pairing.cpp,
// computeM1) is hardcoded to this group, so it is the only one this
// package implements.
var (
	srpN = mustHexInt("AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B855F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773BCA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB694B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73")
	srpG = big.NewInt(2)

	srpNLen = (srpN.BitLen() + 7) / 8
)

func mustHexInt(hex string) *big.Int {
	n, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		panic("pairing: bad SRP constant")
	}
	return n
}

// padBig renders n as exactly length big-endian bytes, zero-padded, the
// Go equivalent of OpenSSL's BN_bn2binpad.
func padBig(n *big.Int, length int) []byte {
	b := n.Bytes()
	if len(b) >= length {
		return b
	}
	out := make([]byte, length)
	copy(out[length-len(b):], b)
	return out
}

// srpK computes k = SHA1(N | PAD(g)), the SRP-6a multiplier.
func srpK() *big.Int {
	h := sha1.Sum(append(padBig(srpN, srpNLen), padBig(srpG, srpNLen)...))
	return new(big.Int).SetBytes(h[:])
}

// srpX computes x = SHA1(s | SHA1(I ":" P)), s being the salt's own raw
// bytes (not padded -- matches SRP_Calc_x, which hashes BN_bn2bin(s)
// verbatim).
func srpX(salt []byte, identity, password string) *big.Int {
	inner := sha1.Sum([]byte(identity + ":" + password))
	h := sha1.Sum(append(append([]byte{}, salt...), inner[:]...))
	return new(big.Int).SetBytes(h[:])
}

// srpU computes u = SHA1(PAD(A) | PAD(B)).
func srpU(A, B *big.Int) *big.Int {
	h := sha1.Sum(append(padBig(A, srpNLen), padBig(B, srpNLen)...))
	return new(big.Int).SetBytes(h[:])
}

// srpSessionKey computes K = SHA1(PAD(S)|0) | SHA1(PAD(S)|1), the two
// digests concatenated into the session key this PIN-pairing flow's AES-key derivation and
// M1/M2 proofs both consume.
func srpSessionKey(S *big.Int) []byte {
	s := padBig(S, srpNLen)
	h0 := sha1.Sum(append(append([]byte{}, s...), 0, 0, 0, 0))
	h1 := sha1.Sum(append(append([]byte{}, s...), 0, 0, 0, 1))
	return append(append([]byte{}, h0[:]...), h1[:]...)
}

// srpProof holds everything one PIN-pairing attempt's SRP-6a exchange
// establishes: the client's public/private ephemeral pair, the shared
// premaster secret rendered as the session key K, and the M1 proof this
// client sends the peer to prove it derived the same secret.
type srpProof struct {
	a *big.Int // client's private ephemeral exponent
	A *big.Int // client's public ephemeral key, g^a mod N

	K  []byte
	M1 []byte
}

// computeSRP runs the client side of one SRP-6a exchange given the peer's
// public key B and salt s (as sent in its PIN-pairing response) and the
// identity/password (UDN/PIN) pair, reproducing
// original_source/src/pairing.cpp's computeM1 exactly (verified against
// its embedded test vector).
func computeSRP(a *big.Int, pk, salt []byte, identity, password string) srpProof {
	B := new(big.Int).SetBytes(pk)

	A := new(big.Int).Exp(srpG, a, srpN)
	k := srpK()
	x := srpX(salt, identity, password)
	u := srpU(A, B)

	gx := new(big.Int).Exp(srpG, x, srpN)
	base := new(big.Int).Sub(B, new(big.Int).Mul(k, gx))
	base.Mod(base, srpN)
	exp := new(big.Int).Add(a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, srpN)

	K := srpSessionKey(S)

	// M1 = SHA1( SHA1(N) XOR SHA1(g)  |  SHA1(I)  |  s  |  PAD(A)  |  PAD(B)  |  K )
	// SHA1(N) and SHA1(g) both hash the number's own natural byte length,
	// NOT padded to lenN -- g, being 2, is a single byte 0x02.
	hN := sha1.Sum(srpN.Bytes())
	hG := sha1.Sum(srpG.Bytes())
	xored := make([]byte, sha1.Size)
	for i := range xored {
		xored[i] = hN[i] ^ hG[i]
	}
	hIdentity := sha1.Sum([]byte(identity))

	var data []byte
	data = append(data, xored...)
	data = append(data, hIdentity[:]...)
	data = append(data, salt...)
	data = append(data, padBig(A, srpNLen)...)
	data = append(data, padBig(B, srpNLen)...)
	data = append(data, K...)

	m1 := sha1.Sum(data)

	return srpProof{a: a, A: A, K: K, M1: m1[:]}
}

// verifyM2 checks the peer's proof that it derived the same session
// secret: M2 = SHA1(PAD(A) | M1 | K). original_source/src/pairing.cpp
// receives M2 but never checks it; this implementation does, closing that
// gap since the verification is just one more SHA1 call away.
func verifyM2(proof srpProof, m2 []byte) bool {
	data := append(append([]byte{}, padBig(proof.A, srpNLen)...), proof.M1...)
	data = append(data, proof.K...)
	want := sha1.Sum(data)
	if len(m2) != len(want) {
		return false
	}
	for i := range want {
		if want[i] != m2[i] {
			return false
		}
	}
	return true
}
