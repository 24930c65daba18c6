package dict

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-spikesort/signal"
)

// Errors returned by dictionary constructors.
var (
	ErrNilBasis = errors.New("dict: nil basis")
	ErrNoKnots  = errors.New("dict: knot count must be positive")
	ErrBadSpan  = errors.New("dict: knot span must be positive")
)

// Template is one neuron's waveform: per-knot coefficient matrices
// (components x channels) plus the pruning support mask over
// (channel, window sample). A nil Support means unpruned.
type Template struct {
	Coef    []*mat.Dense
	Support [][]bool
}

// Dictionary is the full template set sharing one waveform basis and one
// drift-knot grid. KnotSpan is the number of signal samples the knot
// grid spans; it is rescaled between the bootstrap subset and the full
// dataset so drift-per-sample stays invariant.
type Dictionary struct {
	Basis     *signal.Basis
	Knots     int
	KnotSpan  int
	Channels  int
	Templates []*Template
}

// New returns an empty dictionary.
func New(basis *signal.Basis, knots, knotSpan, channels int) (*Dictionary, error) {
	if basis == nil {
		return nil, ErrNilBasis
	}
	if knots < 1 {
		return nil, ErrNoKnots
	}
	if knotSpan < 1 {
		return nil, ErrBadSpan
	}
	return &Dictionary{
		Basis:    basis,
		Knots:    knots,
		KnotSpan: knotSpan,
		Channels: channels,
	}, nil
}

// Window returns the waveform window length in samples.
func (d *Dictionary) Window() int { return d.Basis.Window() }

// NumTemplates returns the current template count.
func (d *Dictionary) NumTemplates() int { return len(d.Templates) }

// Rescale moves the knot grid to a new span (e.g. bootstrap subset to
// full processing block). Coefficients are untouched; only the mapping
// from sample time to knot position changes.
func (d *Dictionary) Rescale(newSpan int) {
	if newSpan > 0 {
		d.KnotSpan = newSpan
	}
}

// knotWeights returns the hat-function weights of a sample position
// within the knot span. Positions outside the span clamp to the edge
// knots.
func (d *Dictionary) knotWeights(sample int) []float64 {
	w := make([]float64, d.Knots)
	if d.Knots == 1 {
		w[0] = 1
		return w
	}
	u := float64(sample) / float64(d.KnotSpan) * float64(d.Knots-1)
	if u <= 0 {
		w[0] = 1
		return w
	}
	if u >= float64(d.Knots-1) {
		w[d.Knots-1] = 1
		return w
	}
	lo := int(u)
	frac := u - float64(lo)
	w[lo] = 1 - frac
	w[lo+1] = frac
	return w
}

// coefAt interpolates a template's coefficients at a sample position.
func (t *Template) coefAt(d *Dictionary, sample int) *mat.Dense {
	w := d.knotWeights(sample)
	comp := d.Basis.Components()
	out := mat.NewDense(comp, d.Channels, nil)
	for i, wi := range w {
		if wi == 0 {
			continue
		}
		var scaled mat.Dense
		scaled.Scale(wi, t.Coef[i])
		out.Add(out, &scaled)
	}
	return out
}

// WaveformAt reconstructs template k's waveform at a sample position:
// channel-major [channel][window sample], pruning support applied.
func (d *Dictionary) WaveformAt(k, sample int) [][]float64 {
	t := d.Templates[k]
	return t.reconstruct(d, t.coefAt(d, sample))
}

// MeanWaveform reconstructs template k's knot-averaged waveform.
func (d *Dictionary) MeanWaveform(k int) [][]float64 {
	t := d.Templates[k]
	comp := d.Basis.Components()
	avg := mat.NewDense(comp, d.Channels, nil)
	for _, c := range t.Coef {
		avg.Add(avg, c)
	}
	avg.Scale(1/float64(len(t.Coef)), avg)
	return t.reconstruct(d, avg)
}

func (t *Template) reconstruct(d *Dictionary, coef *mat.Dense) [][]float64 {
	out := make([][]float64, d.Channels)
	col := make([]float64, d.Basis.Components())
	for ch := 0; ch < d.Channels; ch++ {
		mat.Col(col, ch, coef)
		wave := d.Basis.Reconstruct(col)
		if t.Support != nil {
			for i := range wave {
				if !t.Support[ch][i] {
					wave[i] = 0
				}
			}
		}
		out[ch] = wave
	}
	return out
}

// Energy returns the squared L2 norm of template k's mean waveform.
func (d *Dictionary) Energy(k int) float64 {
	var sum float64
	for _, ch := range d.MeanWaveform(k) {
		for _, v := range ch {
			sum += v * v
		}
	}
	return sum
}

// PeakChannel returns the channel holding template k's largest absolute
// waveform sample, with the peak magnitude.
func (d *Dictionary) PeakChannel(k int) (int, float64) {
	best, bestMag := 0, 0.0
	for ch, wave := range d.MeanWaveform(k) {
		for _, v := range wave {
			if m := math.Abs(v); m > bestMag {
				best, bestMag = ch, m
			}
		}
	}
	return best, bestMag
}

// SnapshotAt freezes the dictionary at one drift position: a one-knot
// dictionary whose coefficients are the hat-interpolated values at the
// given global sample. Supports carry over. Used by the final block
// pass, where each block gets its own drift-interpolated snapshot.
func (d *Dictionary) SnapshotAt(sample int) *Dictionary {
	out := &Dictionary{
		Basis:    d.Basis,
		Knots:    1,
		KnotSpan: 1,
		Channels: d.Channels,
	}
	for _, t := range d.Templates {
		nt := &Template{Coef: []*mat.Dense{t.coefAt(d, sample)}}
		if t.Support != nil {
			nt.Support = make([][]bool, len(t.Support))
			for ch, row := range t.Support {
				nt.Support[ch] = append([]bool(nil), row...)
			}
		}
		out.Templates = append(out.Templates, nt)
	}
	return out
}

// Drop removes templates whose keep flag is false and returns the dense
// remap table (old index to new, -1 for dropped).
func (d *Dictionary) Drop(keep []bool) []int {
	mapping := make([]int, len(d.Templates))
	var kept []*Template
	for k, t := range d.Templates {
		if keep[k] {
			mapping[k] = len(kept)
			kept = append(kept, t)
		} else {
			mapping[k] = -1
		}
	}
	d.Templates = kept
	return mapping
}

// Clone returns a deep copy.
func (d *Dictionary) Clone() *Dictionary {
	out := &Dictionary{
		Basis:    d.Basis,
		Knots:    d.Knots,
		KnotSpan: d.KnotSpan,
		Channels: d.Channels,
	}
	for _, t := range d.Templates {
		out.Templates = append(out.Templates, t.clone())
	}
	return out
}

func (t *Template) clone() *Template {
	nt := &Template{}
	for _, c := range t.Coef {
		nt.Coef = append(nt.Coef, mat.DenseCopyOf(c))
	}
	if t.Support != nil {
		nt.Support = make([][]bool, len(t.Support))
		for i, row := range t.Support {
			nt.Support[i] = append([]bool(nil), row...)
		}
	}
	return nt
}
