// Package median provides fixed compare/exchange median networks and a
// moving median filter built on them. Nothing in this package allocates
// after construction.
package median

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// exchange orders p[a] <= p[b].
type exchange struct {
	a, b uint8
}

// Hand-tuned networks for the common history sizes.
var (
	net7 = []exchange{
		{0, 5}, {0, 3}, {1, 6}, {2, 4}, {0, 1}, {3, 5}, {2, 6},
		{2, 3}, {3, 6}, {4, 5}, {1, 4}, {1, 3}, {3, 4},
	}
	net9 = []exchange{
		{1, 2}, {4, 5}, {7, 8}, {0, 1}, {3, 4}, {6, 7}, {1, 2},
		{4, 5}, {7, 8}, {0, 3}, {5, 8}, {4, 7}, {3, 6}, {1, 4},
		{2, 5}, {4, 7}, {4, 2}, {6, 4}, {4, 2},
	}
)

// MaxSize is the largest input a Network accepts.
const MaxSize = 255

// Network selects the median of exactly Size values with a fixed sequence
// of compare/exchange steps. There is no data dependent control flow
// besides the swaps themselves.
type Network[T constraints.Integer] struct {
	size  int
	steps []exchange
}

// NewNetwork builds a median network for n values. n must be odd.
func NewNetwork[T constraints.Integer](n int) (*Network[T], error) {
	if n <= 0 || n%2 == 0 {
		return nil, fmt.Errorf("median: network size %d must be odd and positive", n)
	}
	if n > MaxSize {
		return nil, fmt.Errorf("median: network size %d exceeds %d", n, MaxSize)
	}
	nw := &Network[T]{size: n}
	switch n {
	case 7:
		nw.steps = net7
	case 9:
		nw.steps = net9
	default:
		nw.steps = batcher(n)
	}
	return nw, nil
}

// Size returns the number of values the network expects.
func (nw *Network[T]) Size() int {
	return nw.size
}

// Median reorders p in place and returns its median. p must hold exactly
// Size values.
func (nw *Network[T]) Median(p []T) T {
	_ = p[nw.size-1]
	for _, s := range nw.steps {
		if p[s.a] > p[s.b] {
			p[s.a], p[s.b] = p[s.b], p[s.a]
		}
	}
	return p[nw.size/2]
}

// batcher returns Batcher's odd-even merge sort for n inputs. The network
// is generated for the next power of two; steps touching an index >= n
// would only ever compare against padding at the top and are dropped.
func batcher(n int) []exchange {
	size := 1
	for size < n {
		size <<= 1
	}
	var steps []exchange
	for p := 1; p < size; p <<= 1 {
		for k := p; k >= 1; k >>= 1 {
			for j := k % p; j <= size-1-k; j += 2 * k {
				for i := 0; i <= k-1 && i <= size-j-k-1; i++ {
					lo, hi := i+j, i+j+k
					if lo/(p*2) != hi/(p*2) {
						continue
					}
					if hi >= n {
						continue
					}
					steps = append(steps, exchange{uint8(lo), uint8(hi)})
				}
			}
		}
	}
	return steps
}
