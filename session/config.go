package session

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/cwbudde/algo-spikesort/bootstrap"
)

// Errors raised by configuration validation.
var (
	ErrBlockSizeMismatch = errors.New("session: block size not a multiple of artifact block size")
	ErrBadChannels       = errors.New("session: channel count must be positive")
	ErrBadSampleRate     = errors.New("session: sample rate must be positive")
	ErrBadWindow         = errors.New("session: extraction window must be positive")
)

// Config collects every recognized sorting option. Durations are in
// samples at the recording rate unless noted otherwise.
type Config struct {
	// SampleRate is the recording rate in Hz.
	SampleRate float64 `toml:"sample_rate"`
	// Channels is the electrode count of the configured layout.
	Channels int `toml:"channels"`

	// BlockSize is the processing block length; must be an integer
	// multiple of ArtifactBlockSize.
	BlockSize int `toml:"block_size"`
	// ArtifactBlockSize and ArtifactThresh set the granularity and
	// sensitivity of corrupted-segment detection.
	ArtifactBlockSize int     `toml:"artifact_block_size"`
	ArtifactThresh    float64 `toml:"artifact_thresh"`
	// MaxSamples caps the subset used for bootstrap and the
	// alternating fit; zero means the whole dataset.
	MaxSamples int `toml:"max_samples"`

	// BasisComponents is the dimension of the fixed waveform basis
	// applied to raw sample windows.
	BasisComponents int `toml:"basis_components"`
	// NumKnots is the drift-knot count of the template dictionary.
	NumKnots int `toml:"num_knots"`
	// DriftRate bounds assumed per-unit-time template drift; it feeds
	// the bootstrap mixture and is rescaled between the fit subset and
	// the full dataset.
	DriftRate float64 `toml:"drift_rate"`

	// PruningRadius and PruningThreshold control dictionary
	// sparsification around each template's peak.
	PruningRadius    int     `toml:"pruning_radius"`
	PruningThreshold float64 `toml:"pruning_threshold"`
	// MergeThreshold is the waveform cosine-similarity cutoff above
	// which two templates collapse into one.
	MergeThreshold float64 `toml:"merge_threshold"`

	// Bootstrap geometry and detection.
	InitNumChannels  int     `toml:"init_num_channels"`
	InitChannelOrder []int   `toml:"init_channel_order"`
	InitDetectThresh float64 `toml:"init_detect_thresh"`
	InitExtractWin   int     `toml:"init_extract_win"`
	InitNumPC        int     `toml:"init_num_pc"`
	// InitOverlapTime is the duplicate-resolution window in seconds.
	InitOverlapTime       float64 `toml:"init_overlap_time"`
	InitDropClusterThresh float64 `toml:"init_drop_cluster_thresh"`

	// Bootstrap mixture tuning.
	InitSortDf          float64 `toml:"init_sort_df"`
	InitSortClusterCost float64 `toml:"init_sort_cluster_cost"`
	// InitSortDriftRate bounds cluster-mean drift inside the bootstrap
	// mixture; zero inherits DriftRate.
	InitSortDriftRate float64 `toml:"init_sort_drift_rate"`
	InitSortTolerance float64 `toml:"init_sort_tolerance"`
	InitSortCovRidge  float64 `toml:"init_sort_cov_ridge"`

	// SettleRounds is the fixed number of extra rounds run after the
	// loop stabilizes, with merge and split disabled.
	SettleRounds int `toml:"settle_rounds"`
	// MaxRounds bounds the alternating loop.
	MaxRounds int `toml:"max_rounds"`

	// StorePath places the signal store at a fixed path so it survives
	// the session; empty keeps it inside the working directory.
	StorePath string `toml:"store_path"`
	// Debug retains the working directory and intermediate diagnostics
	// after completion.
	Debug bool `toml:"debug"`
}

// DefaultConfig returns the sorting defaults for a 30 kHz probe.
// Channels and InitChannelOrder must still be set by the caller.
func DefaultConfig() Config {
	mix := bootstrap.DefaultMixtureConfig()
	return Config{
		SampleRate:        30000,
		BlockSize:         30000,
		ArtifactBlockSize: 300,
		ArtifactThresh:    20,
		MaxSamples:        1 << 21,

		BasisComponents: 8,
		NumKnots:        5,
		DriftRate:       mix.DriftRate,

		PruningRadius:    10,
		PruningThreshold: 0.05,
		MergeThreshold:   0.9,

		InitNumChannels:       5,
		InitDetectThresh:      4.5,
		InitExtractWin:        32,
		InitNumPC:             3,
		InitOverlapTime:       0.0004,
		InitDropClusterThresh: 0.5,

		InitSortDf:          mix.Df,
		InitSortClusterCost: mix.ClusterCost,
		InitSortTolerance:   mix.Tolerance,
		InitSortCovRidge:    mix.CovRidge,

		SettleRounds: 3,
		MaxRounds:    40,
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("session: read config: %w", err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("session: parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the geometry constraints that are fatal at
// construction.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return ErrBadSampleRate
	}
	if c.Channels < 1 {
		return ErrBadChannels
	}
	if c.BlockSize < 1 || c.ArtifactBlockSize < 1 || c.BlockSize%c.ArtifactBlockSize != 0 {
		return ErrBlockSizeMismatch
	}
	if c.InitExtractWin < 2 || c.BasisComponents < 1 || c.BasisComponents > c.InitExtractWin {
		return ErrBadWindow
	}
	return nil
}

// overlapSamples converts the duplicate-resolution window to samples.
func (c *Config) overlapSamples() int {
	n := int(c.InitOverlapTime * c.SampleRate)
	if n < 1 {
		n = 1
	}
	return n
}

// channelOrder returns the configured traversal order, defaulting to
// the natural electrode order.
func (c *Config) channelOrder() []int {
	if len(c.InitChannelOrder) > 0 {
		return c.InitChannelOrder
	}
	order := make([]int, c.Channels)
	for i := range order {
		order[i] = i
	}
	return order
}

// mixtureDriftRate returns the bootstrap mixture drift bound,
// inheriting the session-wide DriftRate unless overridden.
func (c *Config) mixtureDriftRate() float64 {
	if c.InitSortDriftRate > 0 {
		return c.InitSortDriftRate
	}
	return c.DriftRate
}

func (c *Config) bootstrapConfig() bootstrap.Config {
	return bootstrap.Config{
		NumChannels:       c.InitNumChannels,
		ChannelOrder:      c.channelOrder(),
		DetectThresh:      c.InitDetectThresh,
		ExtractWin:        c.InitExtractWin,
		NumPC:             c.InitNumPC,
		OverlapSamples:    c.overlapSamples(),
		DropClusterThresh: c.InitDropClusterThresh,
		Mixture: bootstrap.MixtureConfig{
			Df:          c.InitSortDf,
			ClusterCost: c.InitSortClusterCost,
			DriftRate:   c.mixtureDriftRate(),
			Tolerance:   c.InitSortTolerance,
			CovRidge:    c.InitSortCovRidge,
			MaxClusters: bootstrap.DefaultMixtureConfig().MaxClusters,
			MaxIter:     bootstrap.DefaultMixtureConfig().MaxIter,
		},
	}
}
