package ntptime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRoundTripIdentity checks NTP2TS(TS2NTP(x, rate)) == x to within the
// rounding the >>16/<<16 truncation in ToTS/FromTS implies -- the ported
// macros are lossy (they drop the low 16 bits of the NTP fraction before
// ever multiplying by rate), so the identity only holds to within one unit,
// not exactly.
func TestRoundTripIdentity(t *testing.T) {
	rates := []uint32{44100, 48000, 8000, 1}
	xs := []uint64{0, 1, 352, 1 << 20, (1 << 48) - 1}

	for _, rate := range rates {
		for _, x := range xs {
			n := FromTS(x, rate)
			got := ToTS(n, rate)
			require.InDelta(t, x, got, 1, "rate=%d x=%d", rate, x)
		}
	}
}

func TestFromTimeToTime(t *testing.T) {
	n := Now()
	tm := n.ToTime()
	back := FromTime(tm)
	// allow two units (well under a nanosecond) of rounding from the
	// fixed-point fractional conversion
	require.InDelta(t, int64(n), int64(back), 2)
}

func TestSubAdd(t *testing.T) {
	n := Now()
	later := n.Add(1500 * time.Millisecond)
	require.InDelta(t, 1500, later.Sub(n).Milliseconds(), 1)
}
