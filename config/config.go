// Package config holds the simulation parameters.
package config

import (
	"github.com/pkg/errors"

	"vmtrace/allocator"
)

// ErrFrameCount is returned by Validate for an unusable memory size
var ErrFrameCount = errors.New("frame count out of range")

// Config of a simulation run
type Config struct {
	// FrameCount - physical frames of simulated memory, all managed by the allocator
	FrameCount uint32

	// LogLevel - DEBUG, INFO, WARN or ERROR
	LogLevel string

	// Debug enables logging of every trace command
	Debug bool
}

// Default returns the configuration used by the command line tools:
// 64 frames of memory, warnings and errors logged.
func Default() Config {
	return Config{
		FrameCount: 64,
		LogLevel:   "WARN",
	}
}

// Validate checks the configuration before the system is built
func (c Config) Validate() error {
	if c.FrameCount < 2 || c.FrameCount > allocator.MaxPageFrames {
		return errors.Wrapf(ErrFrameCount, "%d not in [2, %d]", c.FrameCount, allocator.MaxPageFrames)
	}
	return nil
}
