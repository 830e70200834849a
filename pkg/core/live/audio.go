package live

import (
	"encoding/binary"
	"math"
	"sync"
)

// CalculateRMSEnergy returns the normalized RMS energy of 16-bit
// little-endian PCM, 0 to 1. Used as the cheap local speech gate; the
// provider-side gate handles the fine filtering.
func CalculateRMSEnergy(data []byte) float64 {
	if len(data) < 2 {
		return 0
	}

	sampleCount := len(data) / 2
	var sumSquares float64

	for i := 0; i < sampleCount*2; i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i : i+2]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}

	return math.Sqrt(sumSquares / float64(sampleCount))
}

// AudioBuffer accumulates PCM up to a capacity, then drops the oldest
// audio. The interrupt capture window uses one to hold what the user
// said over the bot.
type AudioBuffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	config   AudioConfig
}

// NewAudioBuffer creates a buffer holding at most maxDurationMs of
// audio.
func NewAudioBuffer(config AudioConfig, maxDurationMs int) *AudioBuffer {
	return &AudioBuffer{
		maxBytes: config.BytesForDurationMs(maxDurationMs),
		config:   config,
	}
}

// Write appends audio, trimming the oldest bytes past capacity.
func (b *AudioBuffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)
	if b.maxBytes > 0 && len(b.data) > b.maxBytes {
		b.data = b.data[len(b.data)-b.maxBytes:]
	}
}

// Read returns a copy of the buffered audio.
func (b *AudioBuffer) Read() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the buffered byte count.
func (b *AudioBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationMs returns the buffered audio duration.
func (b *AudioBuffer) DurationMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.DurationMs(len(b.data))
}

// Clear empties the buffer.
func (b *AudioBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// RingBuffer keeps the most recent fixed duration of PCM. The session
// runs one while the bot speaks so an interrupt can be seeded with the
// audio from just before detection.
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	size     int
	writePos int
	filled   int
}

// NewRingBuffer creates a ring holding durationMs of audio.
func NewRingBuffer(config AudioConfig, durationMs int) *RingBuffer {
	size := config.BytesForDurationMs(durationMs)
	return &RingBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends audio, overwriting the oldest bytes once full.
func (r *RingBuffer) Write(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 || len(data) == 0 {
		return
	}

	if len(data) >= r.size {
		copy(r.data, data[len(data)-r.size:])
		r.writePos = 0
		r.filled = r.size
		return
	}

	n := copy(r.data[r.writePos:], data)
	if n < len(data) {
		copy(r.data, data[n:])
	}
	r.writePos = (r.writePos + len(data)) % r.size
	r.filled += len(data)
	if r.filled > r.size {
		r.filled = r.size
	}
}

// Read returns the buffered audio in chronological order.
func (r *RingBuffer) Read() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled == 0 {
		return nil
	}

	out := make([]byte, 0, r.filled)
	if r.filled < r.size {
		// Not yet wrapped; data starts at the beginning.
		return append(out, r.data[:r.filled]...)
	}
	out = append(out, r.data[r.writePos:]...)
	out = append(out, r.data[:r.writePos]...)
	return out
}

// Len returns the buffered byte count.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}

// Clear empties the ring.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.filled = 0
}
