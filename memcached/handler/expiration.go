package handler

import "time"

// relativeLimit is the largest expiration that is interpreted as relative seconds (30 days)
const relativeLimit = 60 * 60 * 24 * 30

// ExpireAt converts a memcached expiration into absolute unix seconds.
// Zero means never, up to 30 days is relative to now, larger values are unix times.
func ExpireAt(exp uint32, now time.Time) int64 {
	switch {
	case exp == 0:
		return 0
	case exp <= relativeLimit:
		return now.Unix() + int64(exp)
	default:
		return int64(exp)
	}
}
