package dict

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-spikesort/signal"
)

// buildDict assembles a dictionary from sample-space waveforms using a
// full-rank basis, so projection is exact. waves[k][ch] is one
// template's per-channel window.
func buildDict(t *testing.T, waves [][][]float64, knots int) *Dictionary {
	t.Helper()
	window := len(waves[0][0])
	channels := len(waves[0])
	basis := signal.CosineBasis(window, window)
	d, err := New(basis, knots, 1000, channels)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, wave := range waves {
		tpl := &Template{Coef: make([]*mat.Dense, knots)}
		for i := range tpl.Coef {
			tpl.Coef[i] = mat.NewDense(window, channels, nil)
			for ch := 0; ch < channels; ch++ {
				coef := basis.Project(wave[ch])
				for c, v := range coef {
					tpl.Coef[i].Set(c, ch, v)
				}
			}
		}
		d.Templates = append(d.Templates, tpl)
	}
	return d
}

func gaussianBump(window int, center, width, amp float64) []float64 {
	out := make([]float64, window)
	for i := range out {
		x := (float64(i) - center) / width
		out[i] = amp * math.Exp(-0.5*x*x)
	}
	return out
}

func TestNewValidation(t *testing.T) {
	basis := signal.CosineBasis(8, 4)
	tests := []struct {
		name  string
		basis *signal.Basis
		knots int
		span  int
		ok    bool
	}{
		{"ok", basis, 3, 100, true},
		{"nil basis", nil, 3, 100, false},
		{"zero knots", basis, 0, 100, false},
		{"zero span", basis, 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.basis, tt.knots, tt.span, 2)
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestKnotInterpolation(t *testing.T) {
	// Two knots: amplitude 1 at the start of the span, 3 at the end.
	window, channels := 8, 1
	basis := signal.CosineBasis(window, window)
	d, _ := New(basis, 2, 100, channels)

	tpl := &Template{Coef: make([]*mat.Dense, 2)}
	for i := range tpl.Coef {
		tpl.Coef[i] = mat.NewDense(window, channels, nil)
		wave := gaussianBump(window, 4, 1.5, float64(1+2*i))
		coef := basis.Project(wave)
		for c, v := range coef {
			tpl.Coef[i].Set(c, 0, v)
		}
	}
	d.Templates = []*Template{tpl}

	peakStart := maxAbs(d.WaveformAt(0, 0)[0])
	peakMid := maxAbs(d.WaveformAt(0, 50)[0])
	peakEnd := maxAbs(d.WaveformAt(0, 100)[0])

	if math.Abs(peakStart-1) > 1e-9 || math.Abs(peakEnd-3) > 1e-9 {
		t.Fatalf("edge knots wrong: start %v end %v", peakStart, peakEnd)
	}
	if math.Abs(peakMid-2) > 1e-9 {
		t.Fatalf("midpoint should interpolate to 2, got %v", peakMid)
	}

	// Outside the span clamps to the edge knots.
	if got := maxAbs(d.WaveformAt(0, 5000)[0]); math.Abs(got-3) > 1e-9 {
		t.Fatalf("clamp beyond span: got %v", got)
	}
}

func TestDropRemap(t *testing.T) {
	w := gaussianBump(8, 4, 1.5, 1)
	d := buildDict(t, [][][]float64{{w}, {w}, {w}}, 1)
	mapping := d.Drop([]bool{true, false, true})
	if d.NumTemplates() != 2 {
		t.Fatalf("count = %d, want 2", d.NumTemplates())
	}
	want := []int{0, -1, 1}
	for i, m := range mapping {
		if m != want[i] {
			t.Fatalf("mapping = %v, want %v", mapping, want)
		}
	}
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}
