package utils

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"
)

var objectIDCounter uint32

// GenerateID generates a 12-byte ObjectID-like string (24 hex characters).
func GenerateID() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(time.Now().Unix()))
	_, _ = rand.Read(b[4:9])
	c := atomic.AddUint32(&objectIDCounter, 1) % 0xFFFFFF
	b[9] = byte(c >> 16)
	b[10] = byte(c >> 8)
	b[11] = byte(c)
	return hex.EncodeToString(b[:])
}

// GenerateExchangeID returns a sortable id for one orchestrated exchange:
// the local start time followed by a short random suffix.
// Example: "20260101_120000_a1b2c3"
func GenerateExchangeID() string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return time.Now().Format("20060102_150405") + "_" + hex.EncodeToString(b[:])
}

// RandomSeed draws a non-negative sampling seed.
func RandomSeed() int {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return int(binary.BigEndian.Uint32(b[:]) & 0x7fffffff)
}
