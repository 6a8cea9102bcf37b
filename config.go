// Package guda configuration constants
package guda

import (
	"io/ioutil"
	"runtime"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Thread and block dimensions
const (
	// Default block size for auto-grouped kernels
	DefaultBlockSize = 256

	// Maximum threads per block (CUDA compatibility)
	MaxThreadsPerBlock = 1024
)

// Memory pool parameters
const (
	// Minimum allocation size to prevent fragmentation
	MinAllocationSize = 64

	// Memory alignment for allocations
	MemoryAlignment = 64
)

// Stream parameters
const (
	// Pending task capacity of a stream before Submit blocks
	StreamQueueDepth = 1000
)

// Config encapsulates the settings for a Context.
type Config struct {
	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry

	// A clock instance used to time kernel execution. If not specified,
	// the default wall-clock will be used instead.
	Clock clock.Clock

	// Registerer receives the context metrics. If nil, metrics are still
	// collected but not registered anywhere.
	Registerer prometheus.Registerer

	// Number of threads per group for auto-grouped launches. Defaults to
	// DefaultBlockSize.
	GroupSize int

	// Number of worker goroutines executing thread blocks. Defaults to the
	// device's core count.
	Workers int
}

func (cfg *Config) validate(dev *Device) error {
	var err error
	if dev == nil {
		err = multierror.Append(err, xerrors.Errorf("device has not been provided"))
	}
	if cfg.GroupSize == 0 {
		cfg.GroupSize = DefaultBlockSize
	}
	if cfg.GroupSize < 0 || cfg.GroupSize > MaxThreadsPerBlock {
		err = multierror.Append(err, xerrors.Errorf("invalid value for group size: %d", cfg.GroupSize))
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
		if dev != nil && dev.NumCores > 0 {
			cfg.Workers = dev.NumCores
		}
	}
	if cfg.Workers < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for workers: %d", cfg.Workers))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}
