// Package switchcraft recognizes a wall switch being flipped from the shape
// of the mains voltage. Flipping a switch wired in series with the device
// briefly interrupts the voltage, so one period differs from both its
// neighbours while those two still resemble each other.
package switchcraft

import (
	"log"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/power"
)

// periods is the number of voltage periods compared per detection.
const periods = 4

// Config tunes the recognizer.
type Config struct {
	// Threshold on the sum of squared sample differences over half a
	// period. Above it two periods differ, below it they are similar.
	Threshold float64
	// Ratio between the smallest difference and the similar pair's
	// difference that also counts as similar.
	Ratio float64
	// Detect calls ignored after start and after a detection.
	StartSkip  int
	DetectSkip int
}

// DefaultConfig returns the thresholds tuned for 230 V mains.
func DefaultConfig() Config {
	return Config{Threshold: 500000, Ratio: 100, StartSkip: 200, DetectSkip: 5}
}

type result int

const (
	notFound result = iota
	almost
	found
)

// evidence is a copy of the periods around the last (almost) detection.
type evidence struct {
	valid     bool
	timestamp time.Time
	values    [periods][]int16
}

// Recognizer implements power.Recognizer. It is not safe for concurrent
// use; the engine calls it from its own goroutine.
type Recognizer struct {
	cfg  Config
	now  func() time.Time
	n    int
	ring [periods][]int16
	head int
	held int
	skip int

	detection evidence
	nearMiss  evidence
}

// New creates a recognizer for periods of n samples.
func New(cfg Config, n int, now func() time.Time) *Recognizer {
	if now == nil {
		now = time.Now
	}
	r := &Recognizer{cfg: cfg, now: now, n: n, skip: cfg.StartSkip}
	for i := range r.ring {
		r.ring[i] = make([]int16, n)
		r.detection.values[i] = make([]int16, n)
		r.nearMiss.values[i] = make([]int16, n)
	}
	return r
}

// Configure sets the similarity and difference threshold.
func (r *Recognizer) Configure(threshold float64) {
	r.cfg.Threshold = threshold
	log.Printf("switchcraft: threshold %.0f ratio %.0f", threshold, r.cfg.Ratio)
}

// Detect stores one period of filtered voltage and reports whether a
// switch was flipped within the stored periods.
func (r *Recognizer) Detect(voltage []int16) bool {
	copy(r.ring[r.head], voltage)
	r.head = (r.head + 1) % periods
	if r.held < periods {
		r.held++
	}
	if r.held < periods {
		return false
	}
	if r.skip > 0 {
		r.skip--
		return false
	}

	switch r.compare() {
	case found:
		r.keep(&r.detection)
		r.skip = r.cfg.DetectSkip
		return true
	case almost:
		r.keep(&r.nearMiss)
	}
	return false
}

// at returns sample i of the stored periods laid end to end, oldest first.
func (r *Recognizer) at(i int) float64 {
	p := (r.head + i/r.n) % periods
	return float64(r.ring[p][i%r.n])
}

// compare checks half period windows at quarter period shifts. Period pairs
// 0-1 and 1-2 must both differ while 0-2 stays similar.
func (r *Recognizer) compare() result {
	half := r.n / 2
	step := max(half/2, 1)
	res := notFound
	for shift := 0; shift < r.n; shift += step {
		var d01, d12, d02 float64
		for i := shift; i < shift+half; i++ {
			v0, v1, v2 := r.at(i), r.at(i+r.n), r.at(i+2*r.n)
			d01 += (v0 - v1) * (v0 - v1)
			d12 += (v1 - v2) * (v1 - v2)
			d02 += (v0 - v2) * (v0 - v2)
		}
		if d01 <= r.cfg.Threshold || d12 <= r.cfg.Threshold {
			continue
		}
		if d02 < r.cfg.Threshold || min(d01, d12)/d02 > r.cfg.Ratio {
			log.Printf("switchcraft: found switch, diffs %.0f %.0f %.0f", d01, d12, d02)
			return found
		}
		res = almost
	}
	return res
}

func (r *Recognizer) keep(e *evidence) {
	for i := 0; i < periods; i++ {
		copy(e.values[i], r.ring[(r.head+i)%periods])
	}
	e.timestamp = r.now()
	e.valid = true
}

// Samples returns one stored period of the last detection or near miss.
// Index 0 is the oldest period.
func (r *Recognizer) Samples(kind power.SamplesKind, index int) (power.Samples, error) {
	var e *evidence
	switch kind {
	case power.SamplesSwitchcraft:
		e = &r.detection
	case power.SamplesSwitchcraftNonTriggered:
		e = &r.nearMiss
	default:
		return power.Samples{}, power.ErrUnknownKind
	}
	if !e.valid || index < 0 || index >= periods {
		return power.Samples{}, power.ErrNotAvailable
	}
	vals := make([]int16, r.n)
	copy(vals, e.values[index])
	return power.Samples{Kind: kind, Index: index, Timestamp: e.timestamp, Values: vals}, nil
}
