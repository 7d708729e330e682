// Package adc models the converter side of the sampler: a fixed pool of
// interleaved multi-channel sample buffers, and a synthetic producer that
// fills them with mains voltage and current waveforms.
package adc

import "fmt"

// Channel layout of every buffer.
const (
	VoltageChannel = 0
	CurrentChannel = 1
	NumChannels    = 2
)

// Defaults matching a 50 Hz mains period sampled every 200 us.
const (
	DefaultSampleIntervalUs  = 200
	DefaultSamplesPerChannel = 100
	DefaultBufferCount       = 9
)

// BufferID identifies a slot in the Store.
type BufferID uint8

// ChannelConfig describes how one channel was sampled.
type ChannelConfig struct {
	Input            int   // converter input pin
	RangeMilliVolt   int32 // full scale range
	SampleIntervalUs uint32
}

// SampleBuffer holds one run of interleaved samples. Sample i of channel c
// lives at Samples[i*len(Channels)+c].
type SampleBuffer struct {
	ID       BufferID
	Seq      uint32
	Valid    bool
	Channels []ChannelConfig
	Samples  []int16
}

// NumChannels returns the number of interleaved channels.
func (b *SampleBuffer) NumChannels() int {
	return len(b.Channels)
}

// Len returns the number of samples per channel.
func (b *SampleBuffer) Len() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Samples) / len(b.Channels)
}

// At returns sample i of channel ch.
func (b *SampleBuffer) At(ch, i int) int16 {
	return b.Samples[i*len(b.Channels)+ch]
}

// CopyChannel copies channel ch into dst and returns the number of samples
// copied.
func (b *SampleBuffer) CopyChannel(dst []int16, ch int) int {
	n := min(len(dst), b.Len())
	stride := len(b.Channels)
	for i := 0; i < n; i++ {
		dst[i] = b.Samples[i*stride+ch]
	}
	return n
}

// SampleInterval returns the sample interval of channel ch in microseconds.
func (b *SampleBuffer) SampleInterval(ch int) uint32 {
	return b.Channels[ch].SampleIntervalUs
}

// Config sizes a Store.
type Config struct {
	Buffers           int
	SamplesPerChannel int
	Channels          []ChannelConfig
}

// DefaultConfig returns the two channel layout used by the sampler.
func DefaultConfig() Config {
	return Config{
		Buffers:           DefaultBufferCount,
		SamplesPerChannel: DefaultSamplesPerChannel,
		Channels: []ChannelConfig{
			VoltageChannel: {Input: 1, RangeMilliVolt: 1800, SampleIntervalUs: DefaultSampleIntervalUs},
			CurrentChannel: {Input: 2, RangeMilliVolt: 1800, SampleIntervalUs: DefaultSampleIntervalUs},
		},
	}
}

// Store is a fixed pool of buffers allocated once. Buffers circulate
// between the producer (Acquire) and the consumer (Release).
// Not safe for concurrent use; caller must synchronize.
type Store struct {
	bufs []SampleBuffer
	free []BufferID // FIFO of released slots
	head int
	n    int
	held []bool
}

// NewStore allocates all buffers described by cfg.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Buffers <= 0 || cfg.Buffers > 255 {
		return nil, fmt.Errorf("adc: buffer count %d out of range", cfg.Buffers)
	}
	if cfg.SamplesPerChannel <= 0 {
		return nil, fmt.Errorf("adc: samples per channel %d must be positive", cfg.SamplesPerChannel)
	}
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("adc: no channels configured")
	}

	s := &Store{
		bufs: make([]SampleBuffer, cfg.Buffers),
		free: make([]BufferID, cfg.Buffers),
		held: make([]bool, cfg.Buffers),
	}
	for i := range s.bufs {
		chans := make([]ChannelConfig, len(cfg.Channels))
		copy(chans, cfg.Channels)
		s.bufs[i] = SampleBuffer{
			ID:       BufferID(i),
			Channels: chans,
			Samples:  make([]int16, cfg.SamplesPerChannel*len(cfg.Channels)),
		}
		s.free[i] = BufferID(i)
	}
	s.n = cfg.Buffers
	return s, nil
}

// Len returns the number of buffers in the pool.
func (s *Store) Len() int {
	return len(s.bufs)
}

// Buffer returns the buffer with the given id, or nil if id is unknown.
func (s *Store) Buffer(id BufferID) *SampleBuffer {
	if int(id) >= len(s.bufs) {
		return nil
	}
	return &s.bufs[id]
}

// Acquire hands the oldest released buffer to the producer. It returns
// false when every buffer is still held by the consumer.
func (s *Store) Acquire() (BufferID, bool) {
	if s.n == 0 {
		return 0, false
	}
	id := s.free[s.head]
	s.head = (s.head + 1) % len(s.free)
	s.n--
	s.held[id] = true
	return id, true
}

// Release returns a buffer to the producer. Releasing a buffer that is not
// held is ignored.
func (s *Store) Release(id BufferID) {
	if int(id) >= len(s.bufs) || !s.held[id] {
		return
	}
	s.held[id] = false
	tail := (s.head + s.n) % len(s.free)
	s.free[tail] = id
	s.n++
}

// Available returns the number of buffers ready for the producer.
func (s *Store) Available() int {
	return s.n
}
