package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/zeebo/xxh3"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for internal hash distribution
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashString hashes a key with a seed
func HashString(s string, seed uint64) uint64 {
	return xxh3.HashStringSeed(s, seed)
}

// ShardIndex maps a key hash to one of n shards.
// The hash is shifted right by 7 bits to use higher-quality bits for distribution.
func ShardIndex(hash uint64, n int) int {
	return int((hash >> 7) % uint64(n))
}
