package store

import (
	"fmt"
	"strconv"
)

// Ingest streams src into the store, one processing block per
// transaction. An interrupted ingest resumes from the last committed
// block on the next call; a complete store returns immediately.
func (s *Store) Ingest(src SampleSource) error {
	if src.Channels() != s.cfg.Channels {
		return ErrChannelMismatch
	}
	complete, err := s.Complete()
	if err != nil {
		return err
	}
	if complete {
		return nil
	}
	marker, err := s.metaInt("complete_through")
	if err != nil {
		return err
	}

	buf := make([][]float64, s.cfg.Channels)
	for ch := range buf {
		buf[ch] = make([]float64, s.cfg.BlockSize)
	}

	// Replay already committed blocks so the source position lines up.
	var idx int64
	for ; idx <= marker; idx++ {
		n, err := src.Read(buf)
		if err != nil {
			return fmt.Errorf("store: replay block %d: %w", idx, err)
		}
		if n == 0 {
			break
		}
	}

	totalSamples := int(idx) * s.cfg.BlockSize
	if marker >= 0 {
		raw, err := s.readBlock(marker)
		if err != nil {
			return err
		}
		totalSamples = int(marker)*s.cfg.BlockSize + len(raw)/(8*s.cfg.Channels)
	}

	for {
		n, err := src.Read(buf)
		if err != nil {
			return fmt.Errorf("store: read block %d: %w", idx, err)
		}
		if n == 0 {
			break
		}

		flags, backProp := s.detectArtifacts(buf, n)
		totalSamples += n

		if err := s.commitBlock(idx, buf, n, flags, backProp, totalSamples); err != nil {
			return err
		}
		idx++
		if n < s.cfg.BlockSize {
			break
		}
	}

	if _, err := s.db.Exec(
		`UPDATE meta SET value = ? WHERE key = 'complete_through'`,
		strconv.FormatInt(completeSentinel, 10),
	); err != nil {
		return fmt.Errorf("store: finalize: %w", err)
	}
	return nil
}

// commitBlock writes one processing block, its artifact flags, and the
// advanced completion marker in a single transaction. When backProp is
// set the tail of the previous block is zeroed in the same transaction.
func (s *Store) commitBlock(idx int64, data [][]float64, n int, flags []bool, backProp bool, totalSamples int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin block %d: %w", idx, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO blocks (idx, data) VALUES (?, ?)`,
		idx, encodeBlock(data, n),
	); err != nil {
		return fmt.Errorf("store: write block %d: %w", idx, err)
	}

	perBlock := s.cfg.BlockSize / s.cfg.ArtifactBlockSize
	for sub, flagged := range flags {
		v := 0
		if flagged {
			v = 1
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO artifact (idx, flagged) VALUES (?, ?)`,
			idx*int64(perBlock)+int64(sub), v,
		); err != nil {
			return fmt.Errorf("store: write artifact flag: %w", err)
		}
	}

	if backProp && idx > 0 {
		if err := s.zeroPreviousTail(tx, idx-1); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		`UPDATE meta SET value = ? WHERE key = 'complete_through'`,
		strconv.FormatInt(idx, 10),
	); err != nil {
		return fmt.Errorf("store: advance marker: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE meta SET value = ? WHERE key = 'total_samples'`,
		strconv.Itoa(totalSamples),
	); err != nil {
		return fmt.Errorf("store: record length: %w", err)
	}
	return tx.Commit()
}
