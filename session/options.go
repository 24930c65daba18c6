package session

import "log/slog"

// Option adjusts session construction.
type Option func(*Session)

// WithLogger routes session progress to l instead of slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWorkRoot places the session working directory under dir instead
// of the system temporary directory.
func WithWorkRoot(dir string) Option {
	return func(s *Session) {
		if dir != "" {
			s.workRoot = dir
		}
	}
}
