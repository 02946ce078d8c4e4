package random

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"time"
)

// NewSource returns a math/rand generator seeded from crypto/rand.
// Falls back to the wall clock if the system source is unavailable.
func NewSource() *mrand.Rand {
	return mrand.New(mrand.NewSource(Seed()))
}

func Seed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) &^ (1 << 63))
}
