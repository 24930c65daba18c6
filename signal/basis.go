package signal

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Basis is the fixed low-dimensional projection applied to raw snippet
// windows: columns are orthonormal window-length vectors, so projection
// is B'x and reconstruction is Bc.
type Basis struct {
	b *mat.Dense // window x components
}

// CosineBasis builds an orthonormal DCT-II basis with the given window
// length and component count. The leading components capture the smooth
// structure of extracellular waveforms; truncation acts as a fixed
// denoising prior.
func CosineBasis(window, components int) *Basis {
	if components > window {
		components = window
	}
	b := mat.NewDense(window, components, nil)
	for j := 0; j < components; j++ {
		scale := math.Sqrt(2.0 / float64(window))
		if j == 0 {
			scale = math.Sqrt(1.0 / float64(window))
		}
		for i := 0; i < window; i++ {
			b.Set(i, j, scale*math.Cos(math.Pi*float64(j)*(float64(i)+0.5)/float64(window)))
		}
	}
	return &Basis{b: b}
}

// Window returns the snippet window length in samples.
func (b *Basis) Window() int { r, _ := b.b.Dims(); return r }

// Components returns the projected dimensionality.
func (b *Basis) Components() int { _, c := b.b.Dims(); return c }

// Project maps a window-length snippet to component space: c = B'x.
func (b *Basis) Project(snippet []float64) []float64 {
	w, k := b.b.Dims()
	out := make([]float64, k)
	if len(snippet) != w {
		return out
	}
	v := mat.NewVecDense(w, snippet)
	dst := mat.NewVecDense(k, out)
	dst.MulVec(b.b.T(), v)
	return out
}

// Reconstruct maps component coefficients back to a window-length
// waveform: x = Bc.
func (b *Basis) Reconstruct(coef []float64) []float64 {
	w, k := b.b.Dims()
	out := make([]float64, w)
	if len(coef) != k {
		return out
	}
	v := mat.NewVecDense(k, coef)
	dst := mat.NewVecDense(w, out)
	dst.MulVec(b.b, v)
	return out
}

// Matrix exposes the underlying window-by-components matrix for solvers
// that build design matrices around the basis.
func (b *Basis) Matrix() *mat.Dense { return b.b }
