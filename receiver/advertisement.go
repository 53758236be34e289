package receiver

import (
	"fmt"
	"strconv"
	"strings"
)

// Advertisement is the mDNS TXT-record content an AirPlay-1 receiver
// publishes under "_raop._tcp.local" (instance name
// "<deviceID>@<name>._raop._tcp.local"); this package never opens a
// multicast socket itself (mDNS advertisement is an external
// collaborator, per spec.md §1's Non-goal boundary) — Advertisement is
// data only, for whatever mDNS responder library the caller wires up.
type Advertisement struct {
	DeviceID string // the six-byte hex MAC-like id prefixing the instance name
	Name     string // human-readable device name suffixing the instance name

	TxtVers       string // "1"
	Transports    string // "tp", e.g. "UDP"
	SM            string // "sm", e.g. "false"
	VN            string // "vn", e.g. "3"
	MetadataTypes string // "md", e.g. "0,1,2"
	SampleRate    string // "sr", e.g. "44100"
	SampleSize    string // "ss", e.g. "16"
	Channels      string // "ch", e.g. "2"
	CompressionTp string // "cn", codec list e.g. "0,1"
	EncryptionTp  string // "et", encryption list e.g. "0,1"
	EncryptionKey string // "ek", e.g. "1"
	PasswordReq   bool   // "pw"
	ServerVers    string // "sv"
	AirplayMajMin string // "am", device model string e.g. "AppleTV2,1"
}

// InstanceName renders the service instance name a responder library
// registers this Advertisement under.
func (a Advertisement) InstanceName() string {
	return fmt.Sprintf("%s@%s._raop._tcp.local", a.DeviceID, a.Name)
}

// TXTRecord renders the advertisement's key/value pairs in the order a
// real AirPlay-1 receiver emits them, ready for a caller's mDNS responder
// library to encode as TXT strings.
func (a Advertisement) TXTRecord() []string {
	fields := []struct{ key, val string }{
		{"txtvers", orDefault(a.TxtVers, "1")},
		{"tp", orDefault(a.Transports, "UDP")},
		{"sm", orDefault(a.SM, "false")},
		{"md", orDefault(a.MetadataTypes, "0,1,2")},
		{"sr", orDefault(a.SampleRate, "44100")},
		{"ss", orDefault(a.SampleSize, "16")},
		{"ch", orDefault(a.Channels, "2")},
		{"cn", orDefault(a.CompressionTp, "0,1")},
		{"et", orDefault(a.EncryptionTp, "0,1")},
		{"ek", orDefault(a.EncryptionKey, "1")},
		{"pw", strconv.FormatBool(a.PasswordReq)},
		{"sv", orDefault(a.ServerVers, "false")},
		{"vn", orDefault(a.VN, "3")},
		{"am", a.AirplayMajMin},
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.val == "" {
			continue
		}
		out = append(out, f.key+"="+f.val)
	}
	return out
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
