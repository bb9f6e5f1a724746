package internal

import (
	"io"
	"log/slog"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logger    *slog.Logger
	logOutput io.Writer
	workDir   string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger sets the logger, overriding the one built from the config.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

// WithLogOutput sets where the config-built logger writes.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithWorkDir sets the project directory that relative config paths are
// resolved against. It defaults to the current directory.
func WithWorkDir(dir string) Option {
	return func(a *application) {
		a.workDir = dir
	}
}
