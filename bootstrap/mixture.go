package bootstrap

import (
	"math"
	"math/rand"
)

// MixtureConfig tunes the drift-tolerant mixture fit over snippet
// features.
type MixtureConfig struct {
	// Df is the Student-t degrees of freedom of the noise model; lower
	// values discount outlying snippets more aggressively.
	Df float64
	// ClusterCost penalizes adding a cluster, per feature dimension.
	ClusterCost float64
	// DriftRate bounds how fast a cluster mean may move per unit time
	// (features normalized to t in [0, 1]); the mean-slope ridge is its
	// inverse square.
	DriftRate float64
	// Tolerance stops EM when the relative objective change drops
	// below it.
	Tolerance float64
	// CovRidge regularizes the per-dimension variances.
	CovRidge float64
	// MaxClusters caps the model-order search.
	MaxClusters int
	// MaxIter bounds EM iterations per candidate model.
	MaxIter int
	// Seed makes the split perturbations deterministic.
	Seed int64
}

// DefaultMixtureConfig returns the bootstrap clustering defaults.
func DefaultMixtureConfig() MixtureConfig {
	return MixtureConfig{
		Df:          7,
		ClusterCost: 2.0,
		DriftRate:   0.5,
		Tolerance:   1e-4,
		CovRidge:    1e-3,
		MaxClusters: 12,
		MaxIter:     100,
	}
}

// Cluster is one mixture component: a linear-in-time mean trajectory
// mu(t) = A + B*t over normalized time, diagonal variances, and a
// mixing weight.
type Cluster struct {
	A, B   []float64
	Var    []float64
	Weight float64
}

// Mean returns the cluster mean at normalized time t.
func (c *Cluster) Mean(t float64) []float64 {
	out := make([]float64, len(c.A))
	for i := range out {
		out[i] = c.A[i] + c.B[i]*t
	}
	return out
}

// MixtureResult holds the fitted components and per-point assignments.
type MixtureResult struct {
	Clusters []Cluster
	Assign   []int
}

// FitMixture fits the drift-aware heavy-tailed mixture. Model order
// grows greedily: starting from one cluster, the component with the
// largest pooled variance is split and the expanded model is kept only
// while the cluster-cost-penalized objective improves.
func FitMixture(feat [][]float64, times []float64, cfg MixtureConfig) *MixtureResult {
	n := len(feat)
	if n == 0 {
		return &MixtureResult{}
	}
	d := len(feat[0])
	rng := rand.New(rand.NewSource(cfg.Seed))

	model := initialModel(feat, times, d)
	obj := emRun(feat, times, model, cfg)

	for len(model.Clusters) < cfg.MaxClusters {
		cand := splitCandidate(model, rng)
		if cand == nil {
			break
		}
		candObj := emRun(feat, times, cand, cfg)
		if candObj <= obj+math.Abs(obj)*cfg.Tolerance {
			break
		}
		model, obj = cand, candObj
	}

	model.assign(feat, times, cfg)
	return model
}

func initialModel(feat [][]float64, times []float64, d int) *MixtureResult {
	n := len(feat)
	c := Cluster{
		A:      make([]float64, d),
		B:      make([]float64, d),
		Var:    make([]float64, d),
		Weight: 1,
	}
	for _, x := range feat {
		for j, v := range x {
			c.A[j] += v
		}
	}
	for j := range c.A {
		c.A[j] /= float64(n)
	}
	for _, x := range feat {
		for j, v := range x {
			dv := v - c.A[j]
			c.Var[j] += dv * dv
		}
	}
	for j := range c.Var {
		c.Var[j] = c.Var[j]/float64(n) + 1e-9
	}
	return &MixtureResult{Clusters: []Cluster{c}, Assign: make([]int, n)}
}

// splitCandidate duplicates the cluster with the largest pooled
// variance, nudging the two copies apart along its widest dimension.
func splitCandidate(m *MixtureResult, rng *rand.Rand) *MixtureResult {
	worst, worstVar := -1, 0.0
	for k := range m.Clusters {
		var total float64
		for _, v := range m.Clusters[k].Var {
			total += v
		}
		total *= m.Clusters[k].Weight
		if total > worstVar {
			worst, worstVar = k, total
		}
	}
	if worst < 0 {
		return nil
	}

	src := m.Clusters[worst]
	wideDim, wide := 0, 0.0
	for j, v := range src.Var {
		if v > wide {
			wideDim, wide = j, v
		}
	}
	step := math.Sqrt(wide) * (0.5 + 0.1*rng.Float64())

	cand := &MixtureResult{Assign: make([]int, len(m.Assign))}
	for k := range m.Clusters {
		cand.Clusters = append(cand.Clusters, cloneCluster(m.Clusters[k]))
	}
	a := cloneCluster(src)
	b := cloneCluster(src)
	a.A[wideDim] -= step
	b.A[wideDim] += step
	a.Weight = src.Weight / 2
	b.Weight = src.Weight / 2
	cand.Clusters[worst] = a
	cand.Clusters = append(cand.Clusters, b)
	return cand
}

func cloneCluster(c Cluster) Cluster {
	return Cluster{
		A:      append([]float64(nil), c.A...),
		B:      append([]float64(nil), c.B...),
		Var:    append([]float64(nil), c.Var...),
		Weight: c.Weight,
	}
}

// emRun iterates EM to convergence and returns the cluster-cost
// penalized objective.
func emRun(feat [][]float64, times []float64, m *MixtureResult, cfg MixtureConfig) float64 {
	n := len(feat)
	d := len(feat[0])
	slopeRidge := 1.0 / (cfg.DriftRate*cfg.DriftRate + 1e-12)

	prev := math.Inf(-1)
	for iter := 0; iter < cfg.MaxIter; iter++ {
		k := len(m.Clusters)
		resp := make([][]float64, n)
		uw := make([][]float64, n)
		var loglik float64

		// E-step: t-distribution responsibilities and robustness
		// weights.
		logp := make([]float64, k)
		for i, x := range feat {
			resp[i] = make([]float64, k)
			uw[i] = make([]float64, k)
			for c := range m.Clusters {
				lp, m2 := m.Clusters[c].logDensity(x, times[i], cfg.Df)
				logp[c] = math.Log(m.Clusters[c].Weight+1e-300) + lp
				uw[i][c] = (cfg.Df + float64(d)) / (cfg.Df + m2)
			}
			lse := logSumExp(logp)
			loglik += lse
			for c := range m.Clusters {
				resp[i][c] = math.Exp(logp[c] - lse)
			}
		}

		// M-step: weighted linear mean trajectories with a slope
		// ridge, diagonal variances with CovRidge.
		for c := range m.Clusters {
			cl := &m.Clusters[c]
			var sw, swt, swtt, sr float64
			for i := range feat {
				w := resp[i][c] * uw[i][c]
				t := times[i]
				sw += w
				swt += w * t
				swtt += w * t * t
				sr += resp[i][c]
			}
			if sr < 1e-9 {
				cl.Weight = 0
				continue
			}
			det := sw*(swtt+slopeRidge) - swt*swt
			for j := 0; j < d; j++ {
				var sx, stx float64
				for i := range feat {
					w := resp[i][c] * uw[i][c]
					sx += w * feat[i][j]
					stx += w * times[i] * feat[i][j]
				}
				if det > 1e-12 {
					cl.A[j] = ((swtt+slopeRidge)*sx - swt*stx) / det
					cl.B[j] = (sw*stx - swt*sx) / det
				} else {
					cl.A[j] = sx / math.Max(sw, 1e-12)
					cl.B[j] = 0
				}
			}
			for j := 0; j < d; j++ {
				var sv float64
				for i := range feat {
					mu := cl.A[j] + cl.B[j]*times[i]
					dv := feat[i][j] - mu
					sv += resp[i][c] * uw[i][c] * dv * dv
				}
				cl.Var[j] = sv/sr + cfg.CovRidge
			}
			cl.Weight = sr / float64(n)
		}
		m.dropEmpty()

		if loglik-prev < cfg.Tolerance*math.Abs(loglik) && iter > 0 {
			prev = loglik
			break
		}
		prev = loglik
	}
	return prev - cfg.ClusterCost*float64(len(m.Clusters))*float64(d)
}

func (m *MixtureResult) dropEmpty() {
	kept := m.Clusters[:0]
	for _, c := range m.Clusters {
		if c.Weight > 1e-6 {
			kept = append(kept, c)
		}
	}
	m.Clusters = kept
}

// assign fills Assign with each point's most responsible cluster.
func (m *MixtureResult) assign(feat [][]float64, times []float64, cfg MixtureConfig) {
	for i, x := range feat {
		best, bestLp := 0, math.Inf(-1)
		for c := range m.Clusters {
			lp, _ := m.Clusters[c].logDensity(x, times[i], cfg.Df)
			lp += math.Log(m.Clusters[c].Weight + 1e-300)
			if lp > bestLp {
				best, bestLp = c, lp
			}
		}
		m.Assign[i] = best
	}
}

// logDensity evaluates the diagonal Student-t log density at x, time t,
// returning the log density and the squared Mahalanobis distance.
func (c *Cluster) logDensity(x []float64, t, df float64) (float64, float64) {
	d := float64(len(x))
	var m2, logDet float64
	for j := range x {
		mu := c.A[j] + c.B[j]*t
		dv := x[j] - mu
		m2 += dv * dv / c.Var[j]
		logDet += math.Log(c.Var[j])
	}
	lg, _ := math.Lgamma((df + d) / 2)
	lg2, _ := math.Lgamma(df / 2)
	lp := lg - lg2 - d/2*math.Log(df*math.Pi) - 0.5*logDet - (df+d)/2*math.Log1p(m2/df)
	return lp, m2
}

func logSumExp(x []float64) float64 {
	m := math.Inf(-1)
	for _, v := range x {
		if v > m {
			m = v
		}
	}
	if math.IsInf(m, -1) {
		return m
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(v - m)
	}
	return m + math.Log(sum)
}
