package bootstrap

import (
	"errors"
	"runtime"
	"sync"

	"github.com/cwbudde/algo-spikesort/signal"
)

// Errors returned by bootstrap.
var (
	ErrNoChannels = errors.New("bootstrap: empty channel order")
	ErrBadWindow  = errors.New("bootstrap: extraction window must be positive")
)

// Config collects the bootstrap hyperparameters. Durations are in
// samples; the session converts from configured times.
type Config struct {
	// NumChannels is the sliding group width.
	NumChannels int
	// ChannelOrder is the electrode traversal order.
	ChannelOrder []int
	// DetectThresh is the crossing threshold in noise sigmas.
	DetectThresh float64
	// ExtractWin is the snippet window length in samples.
	ExtractWin int
	// NumPC is the leading principal component count per channel.
	NumPC int
	// OverlapSamples is the minimum inter-spike interval for the
	// cross-cluster dedup sweep.
	OverlapSamples int
	// DropClusterThresh drops a cluster that retained less than this
	// fraction of its spikes after the sweep.
	DropClusterThresh float64
	// Mixture tunes the per-group cluster fit.
	Mixture MixtureConfig
}

// DefaultConfig returns bootstrap defaults for a 30 kHz recording.
func DefaultConfig() Config {
	return Config{
		NumChannels:       5,
		DetectThresh:      4.5,
		ExtractWin:        32,
		NumPC:             3,
		OverlapSamples:    12,
		DropClusterThresh: 0.5,
		Mixture:           DefaultMixtureConfig(),
	}
}

// GroupCluster is one cluster found within a group: its assigned spike
// times (snippet window starts), per-group-channel energy of the mean
// trajectory, and the peak energy used to resolve duplicate detections.
type GroupCluster struct {
	Times   []int
	Energy  []float64
	PeakPos int // index into the group's channel window
	PeakMag float64
}

// GroupResult is the immutable outcome of one group's independent
// detect/cluster pass.
type GroupResult struct {
	Group    Group
	Clusters []GroupCluster
}

// Run executes the per-group bootstrap in parallel and joins the
// results deterministically by group index, then deduplicates across
// groups into the initial spike train.
func Run(rec *signal.Recording, cfg Config) (*signal.SpikeTrain, []GroupResult, error) {
	if len(cfg.ChannelOrder) == 0 {
		return nil, nil, ErrNoChannels
	}
	if cfg.ExtractWin < 1 {
		return nil, nil, ErrBadWindow
	}

	groups := Groups(cfg.ChannelOrder, cfg.NumChannels)
	results := make([]GroupResult, len(groups))

	var wg sync.WaitGroup
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	for gi, g := range groups {
		wg.Add(1)
		sem <- struct{}{}
		go func(gi int, g Group) {
			defer wg.Done()
			defer func() { <-sem }()
			results[gi] = runGroup(rec, g, cfg, int64(gi))
		}(gi, g)
	}
	wg.Wait()

	st := Dedup(results, cfg.OverlapSamples, cfg.DropClusterThresh)
	return st, results, nil
}

// runGroup is side-effect-free: detect, featurize, cluster.
func runGroup(rec *signal.Recording, g Group, cfg Config, seed int64) GroupResult {
	out := GroupResult{Group: g}

	starts := detect(rec, g, cfg.DetectThresh, cfg.ExtractWin)
	if len(starts) == 0 {
		return out
	}

	effPC := cfg.NumPC
	if effPC > cfg.ExtractWin {
		effPC = cfg.ExtractWin
	}
	if effPC > len(starts) {
		effPC = len(starts)
	}
	feat := features(rec, g, starts, cfg.ExtractWin, effPC)

	span := rec.Samples()
	times := make([]float64, len(starts))
	for i, s := range starts {
		times[i] = float64(s) / float64(span)
	}

	mix := cfg.Mixture
	mix.Seed = seed
	fit := FitMixture(feat, times, mix)

	for c := range fit.Clusters {
		var clTimes []int
		for i, a := range fit.Assign {
			if a == c {
				clTimes = append(clTimes, starts[i])
			}
		}
		if len(clTimes) == 0 {
			continue
		}
		energy := channelEnergies(fit.Clusters[c].Mean(0.5), len(g.Channels), effPC)
		peakPos, peakMag := 0, 0.0
		for pos, e := range energy {
			if e > peakMag {
				peakPos, peakMag = pos, e
			}
		}
		out.Clusters = append(out.Clusters, GroupCluster{
			Times:   clTimes,
			Energy:  energy,
			PeakPos: peakPos,
			PeakMag: peakMag,
		})
	}
	return out
}
