package sender

import (
	"strconv"

	"github.com/philippe44/libraop/codec"
)

// SDPParams is the set of SDP field *values* an external SDP composer
// needs to build the ANNOUNCE body. This module never renders the SDP
// text itself: SDP string composition is left to an external
// collaborator, it only supplies the values.
type SDPParams struct {
	// RTPMap is either "AppleLossless" (ALAC) or "L<bits>/<rate>/<ch>"
	// (raw PCM).
	RTPMap string
	// Fmtp is the "a=fmtp:96 ..." parameter list, or nil for raw PCM,
	// which advertises via RTPMap alone.
	Fmtp []int
	// RSAAESKey and AESIV are base64, unpadded, present only when the
	// session negotiated RSA/AES encryption.
	RSAAESKey string
	AESIV     string
}

// BuildSDPParams derives the SDP field values for a coder/params pair.
// encRSAAESKey/encAESIV are the already-RSA-encrypted, base64-unpadded
// strings (RSA envelope encryption itself is out of scope here; the
// caller supplies the ciphertext).
func BuildSDPParams(c codec.Coder, p codec.Params, encRSAAESKey, encAESIV string) SDPParams {
	params := SDPParams{
		Fmtp:      c.FmtpParams(),
		RSAAESKey: encRSAAESKey,
		AESIV:     encAESIV,
	}
	if params.Fmtp == nil {
		params.RTPMap = pcmRTPMap(p)
	} else {
		params.RTPMap = "AppleLossless"
	}
	return params
}

func pcmRTPMap(p codec.Params) string {
	return "L" + strconv.Itoa(p.BitDepth) + "/" + strconv.Itoa(p.SampleRate) + "/" + strconv.Itoa(p.Channels)
}
