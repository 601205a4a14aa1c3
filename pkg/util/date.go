package util

import "time"

// FromUnixMillis converts a millisecond epoch timestamp to UTC time.
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Newer returns the later of a and b.
func Newer(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
