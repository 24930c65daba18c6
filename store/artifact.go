package store

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// detectArtifacts flags artifact sub-blocks whose pooled RMS exceeds
// ArtifactThresh times the median sub-block RMS of the processing
// block, and zeroes the flagged samples in place. The second return
// reports whether the first sub-block was flagged, in which case the
// tail of the preceding processing block is suspect as well.
func (s *Store) detectArtifacts(data [][]float64, n int) ([]bool, bool) {
	sub := s.cfg.ArtifactBlockSize
	numSub := (n + sub - 1) / sub
	flags := make([]bool, numSub)
	if s.cfg.ArtifactThresh <= 0 || numSub == 0 {
		return flags, false
	}

	rms := make([]float64, numSub)
	for b := 0; b < numSub; b++ {
		lo := b * sub
		hi := lo + sub
		if hi > n {
			hi = n
		}
		var sum float64
		for _, ch := range data {
			for _, v := range ch[lo:hi] {
				sum += v * v
			}
		}
		rms[b] = math.Sqrt(sum / float64((hi-lo)*len(data)))
	}

	sorted := append([]float64(nil), rms...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = 0.5 * (sorted[len(sorted)/2-1] + sorted[len(sorted)/2])
	}
	if median == 0 {
		return flags, false
	}

	limit := s.cfg.ArtifactThresh * median
	for b := 0; b < numSub; b++ {
		if rms[b] <= limit {
			continue
		}
		flags[b] = true
		lo := b * sub
		hi := lo + sub
		if hi > n {
			hi = n
		}
		for _, ch := range data {
			for i := lo; i < hi; i++ {
				ch[i] = 0
			}
		}
	}
	return flags, flags[0]
}

// zeroPreviousTail clears the final artifact sub-block of an already
// committed processing block. Called inside the current block's
// transaction so the retroactive edit commits atomically with it.
func (s *Store) zeroPreviousTail(tx *sql.Tx, idx int64) error {
	var raw []byte
	if err := tx.QueryRow(`SELECT data FROM blocks WHERE idx = ?`, idx).Scan(&raw); err != nil {
		return fmt.Errorf("store: read block %d for tail zero: %w", idx, err)
	}
	sampleBytes := s.cfg.Channels * 8
	nSamples := len(raw) / sampleBytes
	tail := s.cfg.ArtifactBlockSize
	if tail > nSamples {
		tail = nSamples
	}
	for i := range raw[(nSamples-tail)*sampleBytes:] {
		raw[(nSamples-tail)*sampleBytes+i] = 0
	}
	if _, err := tx.Exec(`UPDATE blocks SET data = ? WHERE idx = ?`, raw, idx); err != nil {
		return fmt.Errorf("store: rewrite block %d tail: %w", idx, err)
	}
	perBlock := s.cfg.BlockSize / s.cfg.ArtifactBlockSize
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO artifact (idx, flagged) VALUES (?, 1)`,
		idx*int64(perBlock)+int64(perBlock-1),
	); err != nil {
		return fmt.Errorf("store: flag block %d tail: %w", idx, err)
	}
	return nil
}
