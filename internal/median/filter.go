package median

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Filter is a moving median over a window of 2*HalfWindow+1 samples. The
// run is padded at both ends with copies of its first and last sample, so
// the output has the same length as the input.
type Filter[T constraints.Integer] struct {
	half   int
	net    *Network[T]
	padded []T
	window []T
}

// NewFilter allocates a filter for runs of up to maxLen samples.
func NewFilter[T constraints.Integer](halfWindow, maxLen int) (*Filter[T], error) {
	if halfWindow < 0 {
		return nil, fmt.Errorf("median: negative half window %d", halfWindow)
	}
	if maxLen <= 0 {
		return nil, fmt.Errorf("median: run length %d must be positive", maxLen)
	}
	nw, err := NewNetwork[T](2*halfWindow + 1)
	if err != nil {
		return nil, err
	}
	return &Filter[T]{
		half:   halfWindow,
		net:    nw,
		padded: make([]T, maxLen+2*halfWindow),
		window: make([]T, 2*halfWindow+1),
	}, nil
}

// HalfWindow returns the configured half window.
func (f *Filter[T]) HalfWindow() int {
	return f.half
}

// Strided filters count samples of src, read from src[offset],
// src[offset+stride], ..., into the same positions of dst. This is how a
// single channel of an interleaved buffer is filtered. dst and src may be
// the same slice.
func (f *Filter[T]) Strided(dst, src []T, offset, stride, count int) error {
	if count <= 0 {
		return nil
	}
	if count+2*f.half > len(f.padded) {
		return fmt.Errorf("median: run of %d exceeds filter capacity %d", count, len(f.padded)-2*f.half)
	}
	end := offset + (count-1)*stride
	if end >= len(src) || end >= len(dst) {
		return fmt.Errorf("median: run of %d at stride %d overruns buffer of %d", count, stride, min(len(src), len(dst)))
	}

	first := src[offset]
	last := src[end]
	for i := 0; i < f.half; i++ {
		f.padded[i] = first
		f.padded[f.half+count+i] = last
	}
	for i := 0; i < count; i++ {
		f.padded[f.half+i] = src[offset+i*stride]
	}

	width := 2*f.half + 1
	for i := 0; i < count; i++ {
		copy(f.window, f.padded[i:i+width])
		dst[offset+i*stride] = f.net.Median(f.window)
	}
	return nil
}

// Apply filters src into dst. Both must have the same length.
func (f *Filter[T]) Apply(dst, src []T) error {
	if len(dst) != len(src) {
		return fmt.Errorf("median: dst length %d != src length %d", len(dst), len(src))
	}
	return f.Strided(dst, src, 0, 1, len(dst))
}
