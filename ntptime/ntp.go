// Package ntptime implements the NTP-64 wall clock format used on every
// AirPlay-1 timing exchange, and its conversions to/from the RTP timestamp
// domain of a given sample rate.
package ntptime

import "time"

// epochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const epochOffset = 2208988800

// Time is an NTP-64 timestamp: high 32 bits are seconds since 1900-01-01,
// low 32 bits are the fractional second.
type Time uint64

// Now returns the current wall clock as an NTP-64 timestamp.
func Now() Time {
	return FromTime(time.Now())
}

// FromTime converts a time.Time into NTP-64.
func FromTime(t time.Time) Time {
	secs := uint64(t.Unix()+epochOffset) << 32
	frac := uint64((t.Nanosecond()) * (1 << 32) / 1e9)
	return Time(secs | frac)
}

// ToTime converts an NTP-64 timestamp back into a time.Time.
func (t Time) ToTime() time.Time {
	secs := int64(t>>32) - epochOffset
	frac := uint64(t & 0xffffffff)
	// rounded to the nearest nanosecond, so FromTime(t.ToTime()) lands
	// within a unit or two of t.
	nsec := int64((frac*1e9 + 1<<31) >> 32)
	return time.Unix(secs, nsec)
}

// Seconds returns the integral seconds-since-1900 half of the timestamp.
func (t Time) Seconds() uint32 { return uint32(t >> 32) }

// Fraction returns the fractional-second half of the timestamp.
func (t Time) Fraction() uint32 { return uint32(t) }

// Sub returns t-u as a time.Duration. Positive means t is later.
func (t Time) Sub(u Time) time.Duration {
	diff := int64(t) - int64(u)
	// diff is a Q32.32 fixed point count of seconds; whole seconds and the
	// fraction are scaled separately so the product cannot overflow.
	secs := diff >> 32
	frac := diff & 0xffffffff
	return time.Duration(secs)*time.Second + time.Duration(frac*int64(time.Second)>>32)
}

// Add returns t advanced by d (may be negative).
func (t Time) Add(d time.Duration) Time {
	secs := int64(d / time.Second)
	rem := int64(d % time.Second)
	delta := secs<<32 + rem*(1<<32)/int64(time.Second)
	return Time(int64(t) + delta)
}

// MsToNTP converts a millisecond duration into the Q32.32 delta used by Add.
func MsToNTP(ms int64) Time {
	return Time((ms << 32) / 1000)
}

// ToTS converts an NTP-64 timestamp into an RTP timestamp at the given
// sample rate: TS = ((NTP >> 16) * rate) >> 16.
func ToTS(n Time, rate uint32) uint64 {
	return ((uint64(n) >> 16) * uint64(rate)) >> 16
}

// FromTS converts an RTP timestamp at the given sample rate back into
// NTP-64: NTP = ((TS << 16) / rate) << 16.
func FromTS(ts uint64, rate uint32) Time {
	return Time(((ts << 16) / uint64(rate)) << 16)
}
