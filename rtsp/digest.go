package rtsp

import (
	"fmt"

	"github.com/icholy/digest"
)

// digestUser is the literal username AirPlay receivers fold into the
// digest HA1 instead of the account's real identity: HA1 =
// MD5("iTunes|AirPlay:realm:password"). Reusing icholy/digest's own HA1
// computation with this fixed username, rather than hand-rolling MD5,
// reproduces the quirk exactly since the library's HA1 formula is
// MD5(username:realm:password).
const digestUser = "iTunes|AirPlay"

// DigestAuth holds the account password used to answer an RTSP 401
// challenge. Username is carried for API symmetry but never enters the
// HA1 computation: see digestUser.
type DigestAuth struct {
	Username string
	Password string
}

// Authorize parses a WWW-Authenticate challenge and renders the matching
// Authorization header value for one method/URI pair.
func (a *DigestAuth) Authorize(challenge, method, uri string) (string, error) {
	if challenge == "" {
		return "", fmt.Errorf("rtsp: empty WWW-Authenticate challenge")
	}
	chal, err := digest.ParseChallenge(challenge)
	if err != nil {
		return "", fmt.Errorf("rtsp: parse challenge: %w", err)
	}
	cred, err := digest.Digest(chal, digest.Options{
		Method:   method,
		URI:      uri,
		Username: digestUser,
		Password: a.Password,
	})
	if err != nil {
		return "", fmt.Errorf("rtsp: compute digest: %w", err)
	}
	return cred.String(), nil
}
