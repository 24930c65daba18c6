package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cwbudde/algo-spikesort/bootstrap"
	"github.com/cwbudde/algo-spikesort/dict"
	"github.com/cwbudde/algo-spikesort/signal"
	"github.com/cwbudde/algo-spikesort/store"
	"github.com/cwbudde/algo-spikesort/whiten"
)

// Errors raised by the session lifecycle.
var (
	ErrNotInitialized = errors.New("session: signal store not populated")
	ErrNoClusters     = errors.New("session: bootstrap produced no clusters")
	ErrClosed         = errors.New("session: already closed")
)

type state int

const (
	stateConfigured state = iota
	stateReady
	stateClosed
)

// Session is one exclusive spike-sorting run over one signal store.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	workRoot string
	workDir  string
	store    *store.Store
	state    state

	// Diagnostics retained for inspection in debug mode.
	transform *whiten.Transform
	groups    []bootstrap.GroupResult
}

// Result is the final sorter output: the amplitude-scale dictionary,
// the full-dataset spike train, the per-template priors, and the number
// of alternating rounds taken.
type Result struct {
	Dictionary *dict.Dictionary
	Train      *signal.SpikeTrain
	Priors     []float64
	Rounds     int
}

// New validates cfg and creates the session working directory. Geometry
// violations fail here, before any state exists on disk.
func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:      cfg,
		logger:   slog.Default(),
		workRoot: os.TempDir(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.workDir = filepath.Join(s.workRoot, "spikesort-"+uuid.NewString())
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create working directory: %w", err)
	}
	return s, nil
}

// WorkDir returns the session working directory.
func (s *Session) WorkDir() string { return s.workDir }

// Ready reports whether the signal store has been populated.
func (s *Session) Ready() bool { return s.state == stateReady }

func (s *Session) storePath() string {
	if s.cfg.StorePath != "" {
		return s.cfg.StorePath
	}
	return filepath.Join(s.workDir, "signal.db")
}

func (s *Session) storeConfig() store.Config {
	return store.Config{
		BlockSize:         s.cfg.BlockSize,
		ArtifactBlockSize: s.cfg.ArtifactBlockSize,
		ArtifactThresh:    s.cfg.ArtifactThresh,
		Channels:          s.cfg.Channels,
		SampleRate:        s.cfg.SampleRate,
	}
}

// Ingest writes src into the signal store and moves the session to
// ready. A store already marked complete is reused as is; an interrupted
// previous ingest resumes from its last committed block.
func (s *Session) Ingest(src store.SampleSource) error {
	if s.state == stateClosed {
		return ErrClosed
	}
	if err := s.openStore(); err != nil {
		return err
	}
	if err := s.store.Ingest(src); err != nil {
		return err
	}
	s.state = stateReady
	s.logger.Info("signal ingested",
		"samples", s.store.TotalSamples(),
		"channels", s.cfg.Channels,
		"path", s.store.Path())
	return nil
}

// Attach reuses an existing complete signal store without reading a
// source, e.g. when ingest ran in an earlier process.
func (s *Session) Attach() error {
	if s.state == stateClosed {
		return ErrClosed
	}
	if err := s.openStore(); err != nil {
		return err
	}
	complete, err := s.store.Complete()
	if err != nil {
		return err
	}
	if !complete {
		return ErrNotInitialized
	}
	s.state = stateReady
	return nil
}

func (s *Session) openStore() error {
	if s.store != nil {
		return nil
	}
	st, err := store.Open(s.storePath(), s.storeConfig())
	if err != nil {
		return err
	}
	s.store = st
	return nil
}

// Status reports ingest progress without requiring a ready session.
func (s *Session) Status() (store.Status, error) {
	if s.state == stateClosed {
		return store.Status{}, ErrClosed
	}
	if err := s.openStore(); err != nil {
		return store.Status{}, err
	}
	return s.store.CurrentStatus()
}

// Sort runs the full fitting loop and final block pass. The session
// must be ready.
func (s *Session) Sort() (*Result, error) {
	if s.state == stateClosed {
		return nil, ErrClosed
	}
	if s.state != stateReady {
		return nil, ErrNotInitialized
	}
	return s.run()
}

// Transform returns the whitening transform estimated during the last
// Sort, nil before it ran.
func (s *Session) Transform() *whiten.Transform { return s.transform }

// BootstrapGroups returns the per-group cluster diagnostics of the last
// Sort, nil before it ran.
func (s *Session) BootstrapGroups() []bootstrap.GroupResult { return s.groups }

// Close releases the store and removes the working directory on every
// path unless Debug retains it.
func (s *Session) Close() error {
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	var err error
	if s.store != nil {
		err = s.store.Close()
		s.store = nil
	}
	if !s.cfg.Debug {
		if rmErr := os.RemoveAll(s.workDir); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}
