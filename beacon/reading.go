package beacon

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
)

// readingBytes is the wire size of the temperature characteristic value.
const readingBytes = 2

// ReadingSource produces the simulated temperature values. The arithmetic
// is rand mod 40 minus 10, so the generated range is [-10,29] inclusive,
// narrower than the [-10,40] the characteristic descriptor claims.
type ReadingSource struct {
	// Guards rng, which is not safe for concurrent use
	mu  sync.Mutex
	rng *rand.Rand
}

func NewReadingSource(seed int64) *ReadingSource {
	return &ReadingSource{rng: rand.New(rand.NewSource(seed))}
}

// Next returns a fresh simulated reading in degrees Celsius.
func (r *ReadingSource) Next() int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int16(r.rng.Intn(40)) - 10
}

// EncodeReading renders a reading as the 2-byte little-endian signed
// value served by the temperature characteristic.
func EncodeReading(v int16) []byte {
	buf := make([]byte, readingBytes)
	binary.LittleEndian.PutUint16(buf, uint16(v))
	return buf
}

// DecodeReading is the inverse of EncodeReading.
func DecodeReading(buf []byte) (int16, error) {
	if len(buf) != readingBytes {
		return 0, fmt.Errorf("reading has %d bytes, want %d", len(buf), readingBytes)
	}
	return int16(binary.LittleEndian.Uint16(buf)), nil
}
