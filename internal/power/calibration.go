package power

import (
	"math"

	"github.com/crownstone/bluenet-sub000/internal/adc"
)

// ZeroLevel tracks the DC offset of one channel as an exponential moving
// average in x1024 fixed point. The first update replaces the seed; after
// that the discount falls from 1000/(count+1) permille to the steady value
// as the confidence count grows.
type ZeroLevel struct {
	avg    int64
	count  uint16
	steady int64
}

// NewZeroLevel seeds the average with a raw offset.
func NewZeroLevel(seed int32, steady int64) ZeroLevel {
	return ZeroLevel{avg: int64(seed) * fixedScale, steady: steady}
}

// Reseed replaces the average. The confidence count is kept: later
// updates blend into the seed at the steady discount, and the softfuse
// warmup gate stays open.
func (z *ZeroLevel) Reseed(seed int32) {
	z.avg = int64(seed) * fixedScale
}

// Update folds the mean of the first n samples of channel ch into the
// average.
func (z *ZeroLevel) Update(buf *adc.SampleBuffer, ch, n int) {
	stride := buf.NumChannels()
	var sum int64
	for i := 0; i < n; i++ {
		sum += int64(buf.Samples[i*stride+ch])
	}
	z.Fold(fixedMean(sum, n))
}

// Fold blends one fixed point level into the average.
func (z *ZeroLevel) Fold(level int64) {
	if z.count == 0 {
		z.avg = level
	} else {
		z.avg = blendPermille(z.avg, level, z.discount())
	}
	if z.count < math.MaxUint16 {
		z.count++
	}
}

func (z *ZeroLevel) discount() int64 {
	return max(z.steady, permille/(int64(z.count)+1))
}

// Fixed returns the average in fixed point.
func (z *ZeroLevel) Fixed() int64 { return z.avg }

// Offset returns the average in raw units.
func (z *ZeroLevel) Offset() int32 { return fromFixed(z.avg) }

// Count returns the saturating number of updates.
func (z *ZeroLevel) Count() uint16 { return z.count }
