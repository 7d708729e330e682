package switchcraft

import (
	"math"
	"testing"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/power"
)

const n = 100

func period(amplitude float64) []int16 {
	p := make([]int16, n)
	for i := range p {
		p[i] = int16(math.Round(amplitude * math.Sin(2*math.Pi*float64(i)/n)))
	}
	return p
}

// dropout is a period whose first half was interrupted.
func dropout() []int16 {
	p := period(1626)
	for i := 0; i < n/2; i++ {
		p[i] = 0
	}
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StartSkip = 0
	return cfg
}

var fixedNow = func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }

func feed(r *Recognizer, p []int16, times int) int {
	found := 0
	for i := 0; i < times; i++ {
		if r.Detect(p) {
			found++
		}
	}
	return found
}

func TestCleanSignalNotDetected(t *testing.T) {
	r := New(testConfig(), n, fixedNow)
	if got := feed(r, period(1626), 50); got != 0 {
		t.Fatalf("detections on clean signal = %d", got)
	}
	for _, k := range []power.SamplesKind{power.SamplesSwitchcraft, power.SamplesSwitchcraftNonTriggered} {
		if _, err := r.Samples(k, 0); err != power.ErrNotAvailable {
			t.Errorf("%s before detection: %v", k, err)
		}
	}
}

func TestDropoutDetectedOnce(t *testing.T) {
	r := New(testConfig(), n, fixedNow)
	clean := period(1626)

	found := feed(r, clean, 4)
	found += feed(r, dropout(), 1)
	found += feed(r, clean, 10)
	if found != 1 {
		t.Fatalf("detections = %d, want 1", found)
	}

	var zeros int
	for i := 0; i < periods; i++ {
		s, err := r.Samples(power.SamplesSwitchcraft, i)
		if err != nil {
			t.Fatalf("evidence %d: %v", i, err)
		}
		if len(s.Values) != n || !s.Timestamp.Equal(fixedNow()) {
			t.Fatalf("evidence %d: %d values at %v", i, len(s.Values), s.Timestamp)
		}
		if s.Values[10] == 0 {
			zeros++
		}
	}
	if zeros != 1 {
		t.Errorf("%d stored periods hold the dropout, want 1", zeros)
	}

	if _, err := r.Samples(power.SamplesSwitchcraft, periods); err != power.ErrNotAvailable {
		t.Errorf("index %d: %v", periods, err)
	}
	if _, err := r.Samples(power.SamplesNowFiltered, 0); err != power.ErrUnknownKind {
		t.Errorf("wrong kind: %v", err)
	}
}

func TestStartSkip(t *testing.T) {
	r := New(DefaultConfig(), n, fixedNow)
	clean := period(1626)
	found := feed(r, clean, 4) + feed(r, dropout(), 1) + feed(r, clean, 10)
	if found != 0 {
		t.Fatalf("detections during start skip = %d", found)
	}
}

func TestLoadStepIsNearMissOnly(t *testing.T) {
	r := New(testConfig(), n, fixedNow)
	found := feed(r, period(1626), 4) + feed(r, period(813), 10)
	if found != 0 {
		t.Fatalf("permanent step detected %d times", found)
	}
	if _, err := r.Samples(power.SamplesSwitchcraftNonTriggered, 0); err != nil {
		t.Errorf("no near miss stored: %v", err)
	}
}

func TestConfigureThreshold(t *testing.T) {
	r := New(testConfig(), n, fixedNow)
	r.Configure(1e12)
	clean := period(1626)
	if found := feed(r, clean, 4) + feed(r, dropout(), 1) + feed(r, clean, 10); found != 0 {
		t.Fatalf("detections above raised threshold = %d", found)
	}
}

func TestImplementsRecognizer(t *testing.T) {
	var _ power.Recognizer = New(DefaultConfig(), n, nil)
}
