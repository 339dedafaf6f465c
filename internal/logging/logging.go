// Package logging builds the named hclog loggers used across reasona.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

const rootName = "reasona"

var (
	rootOnce sync.Once
	root     hclog.Logger
)

// Options configures a root logger.
type Options struct {
	Level  string
	Output io.Writer
	JSON   bool
}

// LevelFromEnv resolves the log level from REASONA_DEBUG and REASONA_LOG_LEVEL.
func LevelFromEnv() string {
	if strings.EqualFold(os.Getenv("REASONA_DEBUG"), "true") {
		return "debug"
	}
	if lvl := os.Getenv("REASONA_LOG_LEVEL"); lvl != "" {
		return strings.ToLower(lvl)
	}
	return "info"
}

// NewRoot creates a root logger from options.
func NewRoot(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       rootName,
		Level:      level,
		Output:     out,
		JSONFormat: opts.JSON,
	})
}

// Root returns the process-wide root logger, configured from the environment
// on first use.
func Root() hclog.Logger {
	rootOnce.Do(func() {
		root = NewRoot(Options{
			Level: LevelFromEnv(),
			JSON:  strings.EqualFold(os.Getenv("REASONA_LOG_FORMAT"), "json"),
		})
	})
	return root
}

// New returns a sub-logger of the root logger named after a component.
func New(component string) hclog.Logger {
	return Root().Named(component)
}

// OrDefault returns l, or a component logger when l is nil.
func OrDefault(l hclog.Logger, component string) hclog.Logger {
	if l != nil {
		return l
	}
	return New(component)
}
