package pursuit

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
	vecmath "github.com/cwbudde/algo-vecmath"
)

// matchedFilter computes the valid cross-correlation of x with kernel w:
// out[t] = sum_j x[t+j]*w[j] for t in [0, len(x)-len(w)]. FFT-based for
// long signals, direct for short ones.
func matchedFilter(x, w []float64) ([]float64, error) {
	n, m := len(x), len(w)
	if n == 0 || m == 0 || m > n {
		return nil, fmt.Errorf("pursuit: matched filter sizes %d/%d", n, m)
	}
	if n < 4096 {
		return matchedFilterDirect(x, w), nil
	}
	return matchedFilterFFT(x, w)
}

func matchedFilterDirect(x, w []float64) []float64 {
	n, m := len(x), len(w)
	out := make([]float64, n-m+1)
	for t := range out {
		var sum float64
		seg := x[t : t+m]
		for j, wj := range w {
			sum += seg[j] * wj
		}
		out[t] = sum
	}
	return out
}

// matchedFilterFFT evaluates the correlation through the frequency
// domain: IFFT(FFT(x) * conj(FFT(w))). Zero padding to the next power
// of two past n+m-1 keeps the circular correlation linear over the
// valid range.
func matchedFilterFFT(x, w []float64) ([]float64, error) {
	n, m := len(x), len(w)
	size := nextPowerOf2(n + m - 1)

	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("pursuit: fft plan: %w", err)
	}

	xt := make([]complex128, size)
	wt := make([]complex128, size)
	for i, v := range x {
		xt[i] = complex(v, 0)
	}
	for i, v := range w {
		wt[i] = complex(v, 0)
	}

	xf := make([]complex128, size)
	wf := make([]complex128, size)
	if err := plan.Forward(xf, xt); err != nil {
		return nil, fmt.Errorf("pursuit: forward fft: %w", err)
	}
	if err := plan.Forward(wf, wt); err != nil {
		return nil, fmt.Errorf("pursuit: forward fft: %w", err)
	}

	// X * conj(W), expanded over split real/imaginary parts so the
	// elementwise products vectorize.
	xre := make([]float64, size)
	xim := make([]float64, size)
	wre := make([]float64, size)
	wim := make([]float64, size)
	for i := range xf {
		xre[i] = real(xf[i])
		xim[i] = imag(xf[i])
		wre[i] = real(wf[i])
		wim[i] = imag(wf[i])
	}
	rr := make([]float64, size)
	ii := make([]float64, size)
	ri := make([]float64, size)
	ir := make([]float64, size)
	vecmath.MulBlock(rr, xre, wre)
	vecmath.MulBlock(ii, xim, wim)
	vecmath.MulBlock(ri, xre, wim)
	vecmath.MulBlock(ir, xim, wre)

	prod := make([]complex128, size)
	for i := range prod {
		prod[i] = complex(rr[i]+ii[i], ir[i]-ri[i])
	}

	res := make([]complex128, size)
	if err := plan.Inverse(res, prod); err != nil {
		return nil, fmt.Errorf("pursuit: inverse fft: %w", err)
	}

	out := make([]float64, n-m+1)
	for t := range out {
		out[t] = real(res[t])
	}
	return out, nil
}

func nextPowerOf2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
