package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-spikesort/session"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var verboseFlag bool

	rootCmd := &cobra.Command{
		Use:           "spikesort",
		Short:         "Binary-pursuit spike sorter",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	loadConfig := func() (session.Config, error) {
		if configFlag == "" {
			return session.Config{}, errors.New("a configuration file is required (--config)")
		}
		cfg, err := session.LoadConfig(configFlag)
		if err != nil {
			return cfg, err
		}
		if cfg.StorePath == "" {
			return cfg, errors.New("store_path must be set so the signal store outlives the command")
		}
		return cfg, nil
	}
	logger := func() *slog.Logger {
		level := slog.LevelInfo
		if verboseFlag {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	rootCmd.AddCommand(newIngestCommand(loadConfig, logger))
	rootCmd.AddCommand(newSortCommand(loadConfig, logger))
	rootCmd.AddCommand(newStatusCommand(loadConfig, logger))
	return rootCmd
}

func newSession(cfg session.Config, logger *slog.Logger) (*session.Session, error) {
	return session.New(cfg, session.WithLogger(logger))
}

func printStatus(cmd *cobra.Command, s *session.Session) error {
	st, err := s.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"blocks written: %d\ncomplete: %v\ntotal samples: %d\nartifact fraction: %.4f\n",
		st.BlocksWritten, st.Complete, st.TotalSamples, st.ArtifactFraction)
	return nil
}
