package power

import (
	"fmt"
	"strings"
	"time"
)

// Code is a stable query result identifier. It implements error.
type Code string

func (c Code) Error() string { return string(c) }

const (
	// ErrNotAvailable means nothing was captured for the requested kind and
	// index. Callers never receive zero filled data instead.
	ErrNotAvailable Code = "not_available"
	ErrUnknownKind  Code = "unknown_kind"
)

// SamplesKind selects a set of retained samples.
type SamplesKind uint8

const (
	SamplesSwitchcraft SamplesKind = iota
	SamplesSwitchcraftNonTriggered
	SamplesNowFiltered
	SamplesNowUnfiltered
	SamplesSoftfuse
	SamplesSwitch
)

var kindNames = map[SamplesKind]string{
	SamplesSwitchcraft:             "switchcraft",
	SamplesSwitchcraftNonTriggered: "switchcraft_non_triggered",
	SamplesNowFiltered:             "now_filtered",
	SamplesNowUnfiltered:           "now_unfiltered",
	SamplesSoftfuse:                "softfuse",
	SamplesSwitch:                  "switch",
}

func (k SamplesKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseSamplesKind accepts a kind name or its number.
func ParseSamplesKind(s string) (SamplesKind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) || fmt.Sprint(uint8(k)) == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Samples is one channel run returned by a sample query. Raw values are
// converted to physical units with (value - Offset) * Multiplier.
type Samples struct {
	Kind             SamplesKind
	Index            int
	Timestamp        time.Time
	DelayUs          int32
	SampleIntervalUs uint32
	Offset           int32
	Multiplier       float64
	Values           []int16
}

// slot is one retained channel run with the metadata needed to answer a
// query. Values is allocated once.
type slot struct {
	valid      bool
	timestamp  time.Time
	offset     int32
	multiplier float64
	values     []int16
}

func (s *slot) samples(kind SamplesKind, index int, intervalUs uint32) (Samples, error) {
	if !s.valid {
		return Samples{}, ErrNotAvailable
	}
	vals := make([]int16, len(s.values))
	copy(vals, s.values)
	return Samples{
		Kind:             kind,
		Index:            index,
		Timestamp:        s.timestamp,
		SampleIntervalUs: intervalUs,
		Offset:           s.offset,
		Multiplier:       s.multiplier,
		Values:           vals,
	}, nil
}
