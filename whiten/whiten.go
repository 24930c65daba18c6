package whiten

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	vecmath "github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-spikesort/signal"
)

// Errors returned by the whitener.
var (
	ErrEmptySignal = errors.New("whiten: empty signal")
	ErrBadLags     = errors.New("whiten: lag count must be odd and positive")
)

// Config controls noise-statistics estimation.
type Config struct {
	// Lags is the temporal whitening filter length in samples; must be
	// odd so the filter is symmetric around zero delay.
	Lags int
	// Ridge regularizes the spatial covariance before inversion.
	Ridge float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Lags: 11, Ridge: 1e-4}
}

// Transform is a fixed whitening transform: temporal FIR per channel,
// then a spatial mixing matrix per sample.
type Transform struct {
	FIR     []float64
	Spatial *mat.Dense
}

// Estimate derives a whitening transform from rec's residual noise.
// Samples within one waveform window of a known spike are excluded from
// the statistics; if spikes cover nearly everything the exclusion is
// abandoned rather than failing.
func Estimate(rec *signal.Recording, st *signal.SpikeTrain, window int, cfg Config) (*Transform, error) {
	n := rec.Samples()
	channels := rec.Channels()
	if n == 0 || channels == 0 {
		return nil, ErrEmptySignal
	}
	if cfg.Lags < 1 || cfg.Lags%2 == 0 {
		return nil, ErrBadLags
	}

	excluded := spikeMask(st, n, window)
	masked := 0
	for _, e := range excluded {
		if e {
			masked++
		}
	}
	if float64(masked) > 0.9*float64(n) {
		for i := range excluded {
			excluded[i] = false
		}
		masked = 0
	}
	used := n - masked

	// Pooled autocorrelation over channels, spike windows zeroed.
	r, err := pooledAutocorr(rec, excluded, cfg.Lags)
	if err != nil {
		return nil, err
	}
	for lag := range r {
		r[lag] /= float64(used)
	}
	if r[0] <= 0 {
		return nil, fmt.Errorf("whiten: degenerate residual variance %v", r[0])
	}

	fir := temporalFilter(r, cfg.Lags)

	// Spatial covariance of the temporally whitened residual.
	white := make([][]float64, channels)
	for ch := 0; ch < channels; ch++ {
		cleared := maskedCopy(rec.Data[ch], excluded)
		white[ch] = convolveSame(cleared, fir)
	}
	cov := mat.NewSymDense(channels, nil)
	for i := 0; i < channels; i++ {
		for j := i; j < channels; j++ {
			var sum float64
			for s := 0; s < n; s++ {
				if excluded[s] {
					continue
				}
				sum += white[i][s] * white[j][s]
			}
			cov.SetSym(i, j, sum/float64(used))
		}
	}
	for i := 0; i < channels; i++ {
		cov.SetSym(i, i, cov.At(i, i)+cfg.Ridge)
	}

	spatial, err := invSqrtSym(cov)
	if err != nil {
		return nil, err
	}
	return &Transform{FIR: fir, Spatial: spatial}, nil
}

// Apply whitens the recording in place: temporal FIR per channel, then
// the spatial transform across channels at every sample.
func (t *Transform) Apply(rec *signal.Recording) {
	channels := rec.Channels()
	n := rec.Samples()
	for ch := 0; ch < channels; ch++ {
		copy(rec.Data[ch], convolveSame(rec.Data[ch], t.FIR))
	}
	x := make([]float64, channels)
	y := mat.NewVecDense(channels, nil)
	for s := 0; s < n; s++ {
		for ch := 0; ch < channels; ch++ {
			x[ch] = rec.Data[ch][s]
		}
		y.MulVec(t.Spatial, mat.NewVecDense(channels, x))
		for ch := 0; ch < channels; ch++ {
			rec.Data[ch][s] = y.AtVec(ch)
		}
	}
}

// spikeMask flags samples within one window of a spike onset, including
// a pre-window guard for the rising edge.
func spikeMask(st *signal.SpikeTrain, n, window int) []bool {
	mask := make([]bool, n)
	if st == nil {
		return mask
	}
	for _, s := range st.Spikes {
		lo := s.Sample - window
		hi := s.Sample + 2*window
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		for i := lo; i < hi; i++ {
			mask[i] = true
		}
	}
	return mask
}

func maskedCopy(x []float64, excluded []bool) []float64 {
	out := append([]float64(nil), x...)
	for i, e := range excluded {
		if e {
			out[i] = 0
		}
	}
	return out
}

// pooledAutocorr computes autocorrelation lags 0..lags-1 summed over
// channels via the power spectrum.
func pooledAutocorr(rec *signal.Recording, excluded []bool, lags int) ([]float64, error) {
	n := rec.Samples()
	size := nextPowerOf2(2 * n)
	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("whiten: fft plan: %w", err)
	}

	r := make([]float64, lags)
	td := make([]complex128, size)
	fd := make([]complex128, size)
	re := make([]float64, size)
	im := make([]float64, size)
	power := make([]float64, size)

	for ch := 0; ch < rec.Channels(); ch++ {
		for i := range td {
			td[i] = 0
		}
		for s, v := range rec.Data[ch] {
			if !excluded[s] {
				td[s] = complex(v, 0)
			}
		}
		if err := plan.Forward(fd, td); err != nil {
			return nil, fmt.Errorf("whiten: forward fft: %w", err)
		}
		for i, c := range fd {
			re[i] = real(c)
			im[i] = imag(c)
		}
		vecmath.Power(power, re, im)
		for i := range fd {
			fd[i] = complex(power[i], 0)
		}
		if err := plan.Inverse(td, fd); err != nil {
			return nil, fmt.Errorf("whiten: inverse fft: %w", err)
		}
		for lag := 0; lag < lags && lag < size; lag++ {
			r[lag] += real(td[lag])
		}
	}
	return r, nil
}

// temporalFilter builds the symmetric whitening FIR as the center row of
// the inverse square root of the lags-by-lags Toeplitz autocorrelation.
func temporalFilter(r []float64, lags int) []float64 {
	toep := mat.NewSymDense(lags, nil)
	for i := 0; i < lags; i++ {
		for j := i; j < lags; j++ {
			toep.SetSym(i, j, r[j-i])
		}
	}
	// A touch of ridge keeps near-singular autocorrelations invertible.
	eps := 1e-6 * r[0]
	for i := 0; i < lags; i++ {
		toep.SetSym(i, i, toep.At(i, i)+eps)
	}
	w, err := invSqrtSym(toep)
	if err != nil {
		// White residual fallback: scale-only filter.
		fir := make([]float64, lags)
		fir[lags/2] = 1 / math.Sqrt(r[0])
		return fir
	}
	fir := make([]float64, lags)
	mat.Row(fir, lags/2, w)
	return fir
}

// invSqrtSym returns the symmetric inverse square root of a positive
// definite matrix via its eigendecomposition.
func invSqrtSym(s *mat.SymDense) (*mat.Dense, error) {
	var es mat.EigenSym
	if !es.Factorize(s, true) {
		return nil, errors.New("whiten: eigendecomposition failed")
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	n := len(vals)
	floor := 0.0
	for _, v := range vals {
		if v > floor {
			floor = v
		}
	}
	floor *= 1e-10

	scaled := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		v := vals[j]
		if v < floor {
			v = floor
		}
		inv := 1 / math.Sqrt(v)
		for i := 0; i < n; i++ {
			scaled.Set(i, j, vecs.At(i, j)*inv)
		}
	}
	out := mat.NewDense(n, n, nil)
	out.Mul(scaled, vecs.T())
	return out, nil
}

// convolveSame convolves x with a symmetric odd-length kernel, output
// aligned to x (zero-padded edges).
func convolveSame(x, kernel []float64) []float64 {
	half := len(kernel) / 2
	out := make([]float64, len(x))
	for i := range x {
		var sum float64
		for j, k := range kernel {
			s := i + j - half
			if s >= 0 && s < len(x) {
				sum += k * x[s]
			}
		}
		out[i] = sum
	}
	return out
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
