package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cwbudde/algo-spikesort/bootstrap"
	"github.com/cwbudde/algo-spikesort/dict"
	"github.com/cwbudde/algo-spikesort/signal"
)

// run drives the fitting state machine: INIT (bootstrap plus whitening)
// then the alternating rounds, a fixed settle tail once the model order
// stabilizes, and the final full-dataset block pass.
func (s *Session) run() (*Result, error) {
	total := s.store.TotalSamples()
	rec, err := s.readFitSubset(total)
	if err != nil {
		return nil, err
	}
	fitLen := rec.Samples()

	st, groups, err := bootstrap.Run(rec, s.cfg.bootstrapConfig())
	if err != nil {
		return nil, err
	}
	s.groups = groups
	if st.NumTemplates == 0 || len(st.Spikes) == 0 {
		return nil, ErrNoClusters
	}

	eng := newEngine(s.cfg, fitLen, s.logger)
	if _, err := eng.WhitenData(rec, st); err != nil {
		return nil, err
	}
	s.transform = eng.transform
	s.logger.Info("bootstrap complete",
		"templates", st.NumTemplates,
		"spikes", len(st.Spikes),
		"fitSamples", fitLen)

	priors := st.Priors(fitLen)
	conv := newConvState(st.NumTemplates, s.cfg.SettleRounds)
	var d *dict.Dictionary
	rounds := 0
	maxRounds := s.cfg.MaxRounds
	if maxRounds < 1 {
		maxRounds = 1
	}

	for round := 1; round <= maxRounds; round++ {
		rounds = round

		// A template whose prior collapsed to zero is dropped here as
		// an ordinary data condition, not an error.
		priors = dropEmptyTemplates(d, st, priors)
		if st.NumTemplates == 0 {
			return nil, ErrNoClusters
		}

		d, err = eng.EstimateWaveforms(rec, st)
		if err != nil {
			return nil, err
		}

		merged := false
		if !conv.stable {
			priors, merged = eng.Merge(d, st, priors)
		}

		becameStable := conv.observe(round, d.NumTemplates())
		if becameStable {
			s.logger.Info("model order stable",
				"round", round, "templates", d.NumTemplates())
		}

		eng.Prune(d)

		res, err := eng.EstimateSpikes(rec, d, priors)
		if err != nil {
			return nil, err
		}
		st, priors = res.Train, res.Priors

		split := false
		if !conv.stable {
			priors, split = eng.Split(d, st, priors)
		}

		s.logger.Info("round complete",
			"round", round,
			"templates", st.NumTemplates,
			"spikes", len(st.Spikes),
			"merged", merged,
			"split", split,
			"stable", conv.stable)

		if conv.endRound(split, becameStable) {
			break
		}
	}

	priors = dropEmptyTemplates(d, st, priors)
	if d.NumTemplates() == 0 {
		return nil, ErrNoClusters
	}

	priors = eng.OrderTemplates(d, st, priors)
	d.Rescale(total)

	estCfg := eng.estimateConfig()
	estCfg.KnotSpan = total
	acc, err := dict.NewAccumulator(eng.basis, s.cfg.Channels, d.NumTemplates(), estCfg)
	if err != nil {
		return nil, err
	}

	finalTrain, finalPriors, err := eng.EstimateByBlock(s.store, d, priors, acc)
	if err != nil {
		return nil, err
	}

	// The accumulator saw raw blocks, so its dictionary is on the
	// amplitude scale; the pruning decided on the whitened scale
	// carries over through the support masks.
	final := acc.Finish()
	dict.ApplySupport(final, d)

	if s.cfg.Debug {
		if err := s.writeDiagnostics(final, finalPriors); err != nil {
			s.logger.Warn("diagnostics write failed", "err", err)
		}
	}
	s.logger.Info("sort complete",
		"templates", final.NumTemplates(),
		"spikes", len(finalTrain.Spikes),
		"rounds", rounds)

	return &Result{
		Dictionary: final,
		Train:      finalTrain,
		Priors:     finalPriors,
		Rounds:     rounds,
	}, nil
}

// convState tracks model-order stability and the settle countdown of
// the alternating loop.
type convState struct {
	maxCount   int
	stable     bool
	splitLast  bool
	settleLeft int
}

func newConvState(initialCount, settleRounds int) *convState {
	return &convState{maxCount: initialCount, settleLeft: settleRounds}
}

// observe applies the stability rule at the post-merge checkpoint:
// stable once the template count stops growing relative to the largest
// count seen and the previous round did not split. A round in which a
// split occurred is never the stabilizing one, and round one cannot
// stabilize because split has not yet had a chance to grow the model.
// Returns true only on the round stability is first detected.
func (c *convState) observe(round, count int) bool {
	if c.stable {
		return false
	}
	if count > c.maxCount {
		c.maxCount = count
		return false
	}
	if round > 1 && !c.splitLast {
		c.stable = true
		return true
	}
	return false
}

// endRound records the round's split outcome and reports whether the
// loop is finished. The stabilizing round itself is not charged against
// the settle budget, so the configured number of settle rounds all run
// after it.
func (c *convState) endRound(split, becameStable bool) bool {
	c.splitLast = split
	if !c.stable {
		return false
	}
	if !becameStable {
		c.settleLeft--
	}
	return c.settleLeft <= 0
}

// readFitSubset returns the fitting buffer. A dataset no longer than
// MaxSamples is read whole. A longer one is assembled from
// processing-block-sized chunks spaced uniformly across the recording,
// so the buffer spans the full duration and the knot grid fitted over
// it rescales to the dataset length by one uniform stride, keeping
// drift per sample invariant between the subset and the final block
// pass. Chunks keep the native sample rate; decimating instead would
// distort the waveforms.
func (s *Session) readFitSubset(total int) (*signal.Recording, error) {
	if s.cfg.MaxSamples <= 0 || total <= s.cfg.MaxSamples {
		return s.store.ReadRange(0, total)
	}
	chunk := s.cfg.BlockSize
	if chunk > s.cfg.MaxSamples {
		chunk = s.cfg.MaxSamples
	}
	nChunks := s.cfg.MaxSamples / chunk
	span := total / nChunks

	data := make([][]float64, s.cfg.Channels)
	for c := 0; c < nChunks; c++ {
		start := c * span
		part, err := s.store.ReadRange(start, start+chunk)
		if err != nil {
			return nil, err
		}
		for ch := range data {
			data[ch] = append(data[ch], part.Data[ch]...)
		}
	}
	return signal.NewRecording(s.cfg.SampleRate, data)
}

// dropEmptyTemplates removes templates with no assigned spikes from the
// train, the dictionary when present, and the priors, keeping all three
// in lock step.
func dropEmptyTemplates(d *dict.Dictionary, st *signal.SpikeTrain, priors []float64) []float64 {
	counts := st.Counts()
	keep := make([]bool, st.NumTemplates)
	kept := 0
	for k, c := range counts {
		if c > 0 {
			keep[k] = true
			kept++
		}
	}
	if kept == st.NumTemplates {
		return priors
	}

	mapping := make([]int, len(keep))
	next := 0
	for k, ok := range keep {
		if ok {
			mapping[k] = next
			next++
		} else {
			mapping[k] = -1
		}
	}
	if d != nil {
		d.Drop(keep)
	}
	st.Remap(mapping, kept)

	out := make([]float64, kept)
	for k, m := range mapping {
		if m >= 0 && k < len(priors) {
			out[m] = priors[k]
		}
	}
	return out
}

type groupDiag struct {
	Channels []int `json:"channels"`
	Clusters []int `json:"clusterSpikeCounts"`
}

// writeDiagnostics dumps the whitening transform, bootstrap cluster
// summaries, and final priors into the working directory for debug
// inspection.
func (s *Session) writeDiagnostics(final *dict.Dictionary, priors []float64) error {
	diag := struct {
		WhiteningFIR []float64   `json:"whiteningFIR"`
		Groups       []groupDiag `json:"groups"`
		Templates    int         `json:"templates"`
		Priors       []float64   `json:"priors"`
	}{
		Templates: final.NumTemplates(),
		Priors:    priors,
	}
	if s.transform != nil {
		diag.WhiteningFIR = s.transform.FIR
	}
	for _, g := range s.groups {
		gd := groupDiag{Channels: g.Group.Channels}
		for _, c := range g.Clusters {
			gd.Clusters = append(gd.Clusters, len(c.Times))
		}
		diag.Groups = append(diag.Groups, gd)
	}

	raw, err := json.MarshalIndent(diag, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode diagnostics: %w", err)
	}
	path := filepath.Join(s.workDir, "diagnostics.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("session: write diagnostics: %w", err)
	}
	return nil
}
