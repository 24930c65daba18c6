package signal

import (
	"errors"
	"math"
	"sort"
)

// Errors returned by recording constructors and accessors.
var (
	ErrNoChannels     = errors.New("signal: recording has no channels")
	ErrLengthMismatch = errors.New("signal: channel length mismatch")
	ErrBadInterleave  = errors.New("signal: interleaved length not a multiple of channel count")
	ErrBadRange       = errors.New("signal: sample range out of bounds")
)

// Recording is a multi-channel voltage trace, channel-major:
// Data[ch][sample]. All channels have equal length.
type Recording struct {
	SampleRate float64
	Data       [][]float64
}

// NewRecording wraps channel-major data after validating that every
// channel has the same number of samples.
func NewRecording(sampleRate float64, data [][]float64) (*Recording, error) {
	if len(data) == 0 {
		return nil, ErrNoChannels
	}
	n := len(data[0])
	for _, ch := range data[1:] {
		if len(ch) != n {
			return nil, ErrLengthMismatch
		}
	}
	return &Recording{SampleRate: sampleRate, Data: data}, nil
}

// FromInterleaved builds a recording from sample-major interleaved data
// (s0c0, s0c1, ..., s1c0, ...), the layout produced by most acquisition
// front ends.
func FromInterleaved(sampleRate float64, interleaved []float64, channels int) (*Recording, error) {
	if channels <= 0 {
		return nil, ErrNoChannels
	}
	if len(interleaved)%channels != 0 {
		return nil, ErrBadInterleave
	}
	n := len(interleaved) / channels
	data := make([][]float64, channels)
	for c := range data {
		data[c] = make([]float64, n)
	}
	for s := 0; s < n; s++ {
		base := s * channels
		for c := 0; c < channels; c++ {
			data[c][s] = interleaved[base+c]
		}
	}
	return &Recording{SampleRate: sampleRate, Data: data}, nil
}

// Channels returns the channel count.
func (r *Recording) Channels() int { return len(r.Data) }

// Samples returns the per-channel sample count.
func (r *Recording) Samples() int {
	if len(r.Data) == 0 {
		return 0
	}
	return len(r.Data[0])
}

// Clone returns a deep copy.
func (r *Recording) Clone() *Recording {
	data := make([][]float64, len(r.Data))
	for c, ch := range r.Data {
		data[c] = append([]float64(nil), ch...)
	}
	return &Recording{SampleRate: r.SampleRate, Data: data}
}

// Block returns a view of samples [start, end). The view shares memory
// with the parent recording, so writes through it are visible to both.
func (r *Recording) Block(start, end int) (*Recording, error) {
	if start < 0 || end > r.Samples() || start > end {
		return nil, ErrBadRange
	}
	data := make([][]float64, len(r.Data))
	for c, ch := range r.Data {
		data[c] = ch[start:end]
	}
	return &Recording{SampleRate: r.SampleRate, Data: data}, nil
}

// MAD returns a robust noise standard deviation estimate from the
// median absolute deviation, scaled for Gaussian consistency.
func MAD(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	dev := make([]float64, len(x))
	med := median(x)
	for i, v := range x {
		dev[i] = math.Abs(v - med)
	}
	return median(dev) / 0.6745
}

func median(x []float64) float64 {
	tmp := append([]float64(nil), x...)
	sort.Float64s(tmp)
	n := len(tmp)
	if n%2 == 1 {
		return tmp[n/2]
	}
	return 0.5 * (tmp[n/2-1] + tmp[n/2])
}
