package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/cwbudde/algo-spikesort/signal"
)

// Errors returned by the block store.
var (
	ErrBlockSizeMismatch = errors.New("store: block size not a multiple of artifact block size")
	ErrChannelMismatch   = errors.New("store: source channel count does not match configured layout")
	ErrNotPopulated      = errors.New("store: signal store not populated")
	ErrBadRange          = errors.New("store: sample range out of bounds")
)

// completeSentinel marks a fully written store ("infinite" marker).
const completeSentinel = math.MaxInt64

// Config fixes the store geometry. BlockSize must be an exact integer
// multiple of ArtifactBlockSize.
type Config struct {
	BlockSize         int
	ArtifactBlockSize int
	ArtifactThresh    float64
	Channels          int
	SampleRate        float64
}

// Store is a chunked signal array backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	cfg  Config
}

// SampleSource feeds the ingest: a filtered sample-block reader plus
// its geometry. Read fills dst (channel-major) and returns the number
// of samples produced; zero means end of data.
type SampleSource interface {
	SampleRate() float64
	Channels() int
	Read(dst [][]float64) (int, error)
}

// Open creates or reopens a store at path. Geometry violations are
// fatal before any state is created.
func Open(path string, cfg Config) (*Store, error) {
	if cfg.BlockSize < 1 || cfg.ArtifactBlockSize < 1 || cfg.BlockSize%cfg.ArtifactBlockSize != 0 {
		return nil, ErrBlockSizeMismatch
	}
	if cfg.Channels < 1 {
		return nil, ErrChannelMismatch
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path, cfg: cfg}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
            key   TEXT PRIMARY KEY,
            value TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS blocks (
            idx  INTEGER PRIMARY KEY,
            data BLOB NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS artifact (
            idx     INTEGER PRIMARY KEY,
            flagged INTEGER NOT NULL
        )`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('complete_through', '-1'), ('total_samples', '0')`,
	); err != nil {
		return fmt.Errorf("store: seed meta: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// BlockSamples returns the processing block size in samples.
func (s *Store) BlockSamples() int { return s.cfg.BlockSize }

func (s *Store) metaInt(key string) (int64, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("store: read meta %q: %w", key, err)
	}
	return strconv.ParseInt(v, 10, 64)
}

// Complete reports whether the store holds the full dataset.
func (s *Store) Complete() (bool, error) {
	marker, err := s.metaInt("complete_through")
	if err != nil {
		return false, err
	}
	return marker == completeSentinel, nil
}

// TotalSamples returns the committed dataset length.
func (s *Store) TotalSamples() int {
	n, err := s.metaInt("total_samples")
	if err != nil {
		return 0
	}
	return int(n)
}

// Status summarizes ingest progress for diagnostics.
type Status struct {
	BlocksWritten    int64
	Complete         bool
	TotalSamples     int
	ArtifactFraction float64
}

// CurrentStatus inspects the store without touching signal data.
func (s *Store) CurrentStatus() (Status, error) {
	var st Status
	marker, err := s.metaInt("complete_through")
	if err != nil {
		return st, err
	}
	if marker == completeSentinel {
		st.Complete = true
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&st.BlocksWritten); err != nil {
			return st, fmt.Errorf("store: count blocks: %w", err)
		}
	} else {
		st.BlocksWritten = marker + 1
	}
	st.TotalSamples = s.TotalSamples()

	var total, flagged int64
	if err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(flagged), 0) FROM artifact`).Scan(&total, &flagged); err != nil {
		return st, fmt.Errorf("store: artifact counts: %w", err)
	}
	if total > 0 {
		st.ArtifactFraction = float64(flagged) / float64(total)
	}
	return st, nil
}

// ReadRange assembles samples [start, end) from the committed blocks.
// Fails with ErrNotPopulated until the store is complete.
func (s *Store) ReadRange(start, end int) (*signal.Recording, error) {
	complete, err := s.Complete()
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, ErrNotPopulated
	}
	total := s.TotalSamples()
	if start < 0 || end > total || start > end {
		return nil, ErrBadRange
	}

	data := make([][]float64, s.cfg.Channels)
	for ch := range data {
		data[ch] = make([]float64, end-start)
	}

	firstBlock := start / s.cfg.BlockSize
	lastBlock := (end - 1) / s.cfg.BlockSize
	for b := firstBlock; b <= lastBlock; b++ {
		raw, err := s.readBlock(int64(b))
		if err != nil {
			return nil, err
		}
		blockStart := b * s.cfg.BlockSize
		nSamples := len(raw) / (8 * s.cfg.Channels)
		for i := 0; i < nSamples; i++ {
			g := blockStart + i
			if g < start || g >= end {
				continue
			}
			base := i * s.cfg.Channels * 8
			for ch := 0; ch < s.cfg.Channels; ch++ {
				bits := binary.LittleEndian.Uint64(raw[base+ch*8:])
				data[ch][g-start] = math.Float64frombits(bits)
			}
		}
	}
	return signal.NewRecording(s.cfg.SampleRate, data)
}

func (s *Store) readBlock(idx int64) ([]byte, error) {
	var raw []byte
	if err := s.db.QueryRow(`SELECT data FROM blocks WHERE idx = ?`, idx).Scan(&raw); err != nil {
		return nil, fmt.Errorf("store: read block %d: %w", idx, err)
	}
	return raw, nil
}

func encodeBlock(data [][]float64, n int) []byte {
	channels := len(data)
	out := make([]byte, n*channels*8)
	for i := 0; i < n; i++ {
		base := i * channels * 8
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint64(out[base+ch*8:], math.Float64bits(data[ch][i]))
		}
	}
	return out
}
