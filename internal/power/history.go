package power

import "github.com/crownstone/bluenet-sub000/internal/median"

// MetricHistory is a fixed circular history of one metric. Value returns
// the median once the history is full and the mean before that.
type MetricHistory struct {
	buf     []int32
	scratch []int32
	head    int
	n       int
	net     *median.Network[int32]
}

// NewMetricHistory allocates a history of size values. size must be odd.
func NewMetricHistory(size int) (*MetricHistory, error) {
	nw, err := median.NewNetwork[int32](size)
	if err != nil {
		return nil, err
	}
	return &MetricHistory{
		buf:     make([]int32, size),
		scratch: make([]int32, size),
		net:     nw,
	}, nil
}

// Push adds v, overwriting the oldest value when full.
func (h *MetricHistory) Push(v int32) {
	h.buf[h.head] = v
	h.head = (h.head + 1) % len(h.buf)
	if h.n < len(h.buf) {
		h.n++
	}
}

// Len returns the number of values held.
func (h *MetricHistory) Len() int { return h.n }

// Full reports whether the history holds size values.
func (h *MetricHistory) Full() bool { return h.n == len(h.buf) }

// Value returns the median when full, else the mean, else 0.
func (h *MetricHistory) Value() int32 {
	if h.n == 0 {
		return 0
	}
	if h.Full() {
		copy(h.scratch, h.buf)
		return h.net.Median(h.scratch)
	}
	var sum int64
	start := (h.head - h.n + len(h.buf)) % len(h.buf)
	for i := 0; i < h.n; i++ {
		sum += int64(h.buf[(start+i)%len(h.buf)])
	}
	return int32(sum / int64(h.n))
}

// Reset empties the history.
func (h *MetricHistory) Reset() {
	h.head = 0
	h.n = 0
}
