package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-spikesort/session"
)

type configLoader func() (session.Config, error)
type loggerMaker func() *slog.Logger

func newIngestCommand(load configLoader, logger loggerMaker) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <raw-file>",
		Short: "Write a raw recording into the signal store",
		Long: "Reads interleaved little-endian float64 samples (already filtered " +
			"and resampled) and writes them into the configured signal store. " +
			"An interrupted ingest resumes from its last committed block.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			s, err := newSession(cfg, logger())
			if err != nil {
				return err
			}
			defer s.Close()

			src, err := openRawSource(args[0], cfg.SampleRate, cfg.Channels)
			if err != nil {
				return err
			}
			defer src.Close()

			if err := s.Ingest(src); err != nil {
				return err
			}
			return printStatus(cmd, s)
		},
	}
}

func newSortCommand(load configLoader, logger loggerMaker) *cobra.Command {
	var outFlag string

	cmd := &cobra.Command{
		Use:   "sort",
		Short: "Run the fitting loop over an ingested signal store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			s, err := newSession(cfg, logger())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Attach(); err != nil {
				if errors.Is(err, session.ErrNotInitialized) {
					return errors.New("signal store not populated; run ingest first")
				}
				return err
			}
			res, err := s.Sort()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "templates: %d\nspikes: %d\nrounds: %d\n",
				res.Dictionary.NumTemplates(), len(res.Train.Spikes), res.Rounds)
			if outFlag != "" {
				if err := writeSpikeCSV(outFlag, res); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "spike train written to %s\n", outFlag)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFlag, "out", "o", "", "Write the spike train as CSV (sample,template,amplitude)")
	return cmd
}

func newStatusCommand(load configLoader, logger loggerMaker) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report signal-store ingest progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			s, err := newSession(cfg, logger())
			if err != nil {
				return err
			}
			defer s.Close()
			return printStatus(cmd, s)
		},
	}
}

// rawSource reads interleaved little-endian float64 frames from a file.
type rawSource struct {
	f        *os.File
	r        *bufio.Reader
	rate     float64
	channels int
}

func openRawSource(path string, rate float64, channels int) (*rawSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw recording: %w", err)
	}
	return &rawSource{
		f:        f,
		r:        bufio.NewReaderSize(f, 1<<20),
		rate:     rate,
		channels: channels,
	}, nil
}

func (s *rawSource) SampleRate() float64 { return s.rate }
func (s *rawSource) Channels() int       { return s.channels }
func (s *rawSource) Close() error        { return s.f.Close() }

func (s *rawSource) Read(dst [][]float64) (int, error) {
	frame := make([]byte, s.channels*8)
	n := 0
	for ; n < len(dst[0]); n++ {
		if _, err := io.ReadFull(s.r, frame); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return n, errors.New("raw recording truncated mid-frame")
			}
			return n, err
		}
		for ch := 0; ch < s.channels; ch++ {
			bits := binary.LittleEndian.Uint64(frame[ch*8:])
			dst[ch][n] = math.Float64frombits(bits)
		}
	}
	return n, nil
}

func writeSpikeCSV(path string, res *session.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create spike output: %w", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "sample,template,amplitude")
	for _, sp := range res.Train.Spikes {
		fmt.Fprintf(w, "%d,%d,%.6f\n", sp.Sample, sp.Template, sp.Amp)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
