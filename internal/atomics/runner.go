package atomics

import (
	"context"
	"io/ioutil"

	guda "github.com/LynnColeArt/guda-atomics"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// DefaultThreads is the number of kernel threads launched per accelerator.
	DefaultThreads = 1024

	// DefaultConstant is the operand every thread applies.
	DefaultConstant = 4
)

// Config encapsulates the settings for the sample driver.
type Config struct {
	// Number of kernel threads to launch on each accelerator.
	Threads int

	// The operand applied by every thread.
	Constant int32

	// Receives the per-accelerator output.
	Reporter Reporter

	// Lists the accelerators to run on. If not specified, guda.Accelerators
	// is used.
	Accelerators func() ([]*guda.Device, error)

	// A clock instance for timing each accelerator pass. If not specified,
	// the default wall-clock will be used instead.
	Clock clock.Clock

	// Receives the runtime metrics of every context. Optional.
	Registerer prometheus.Registerer

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Threads < 0 {
		err = multierror.Append(err, xerrors.Errorf("invalid value for threads: %d", cfg.Threads))
	}
	if cfg.Reporter == nil {
		err = multierror.Append(err, xerrors.Errorf("reporter has not been provided"))
	}
	if cfg.Accelerators == nil {
		cfg.Accelerators = guda.Accelerators
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return err
}

// Runner launches the atomics kernel on every accelerator.
type Runner struct {
	cfg Config
}

// NewRunner creates a runner with the specified config.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("atomics runner: config validation failed: %w", err)
	}
	return &Runner{cfg: cfg}, nil
}

// Run executes the sample once per discovered accelerator, in enumeration
// order. The first failure stops the run. ctx is checked between
// accelerators; a launch in progress always runs to completion.
func (r *Runner) Run(ctx context.Context) error {
	devices, err := r.cfg.Accelerators()
	if err != nil {
		return xerrors.Errorf("enumerating accelerators: %w", err)
	}
	if len(devices) == 0 {
		return guda.ErrNoDevice
	}

	for _, dev := range devices {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := r.cfg.Reporter.Accelerator(dev); err != nil {
			return xerrors.Errorf("reporting accelerator %q: %w", dev.Name, err)
		}
		data, err := r.RunOn(dev)
		if err != nil {
			return err
		}
		if err := r.cfg.Reporter.Result(dev, data); err != nil {
			return xerrors.Errorf("reporting results for %q: %w", dev.Name, err)
		}
	}
	return nil
}

// RunOn executes the sample on dev and returns the buffer read back after
// the launch completes.
func (r *Runner) RunOn(dev *guda.Device) (data []int32, err error) {
	logger := r.cfg.Logger.WithFields(logrus.Fields{
		"device":   dev.Name,
		"threads":  r.cfg.Threads,
		"constant": r.cfg.Constant,
	})
	startAt := r.cfg.Clock.Now()

	gctx, err := guda.NewContext(dev, guda.Config{
		Logger:     r.cfg.Logger,
		Clock:      r.cfg.Clock,
		Registerer: r.cfg.Registerer,
	})
	if err != nil {
		return nil, xerrors.Errorf("creating context on %q: %w", dev.Name, err)
	}
	defer func() {
		if derr := gctx.Destroy(); derr != nil {
			err = multierror.Append(err, derr)
		}
	}()

	kernel := gctx.LoadAutoGroupedKernel(Kernel)

	buffer, err := guda.Allocate[int32](gctx, NumSlots)
	if err != nil {
		return nil, xerrors.Errorf("allocating buffer on %q: %w", dev.Name, err)
	}
	defer func() {
		if derr := buffer.Dispose(); derr != nil {
			err = multierror.Append(err, derr)
		}
	}()

	stream := gctx.DefaultStream()
	if err = buffer.MemSetToZero(stream); err != nil {
		return nil, xerrors.Errorf("zeroing buffer on %q: %w", dev.Name, err)
	}
	if err = kernel.Launch(stream, r.cfg.Threads, buffer.View(), r.cfg.Constant); err != nil {
		return nil, xerrors.Errorf("launching kernel on %q: %w", dev.Name, err)
	}
	if err = gctx.Synchronize(); err != nil {
		return nil, xerrors.Errorf("executing kernel on %q: %w", dev.Name, err)
	}
	if data, err = buffer.GetAsArray(stream); err != nil {
		return nil, xerrors.Errorf("reading back buffer on %q: %w", dev.Name, err)
	}

	logger.WithField("pass_time", r.cfg.Clock.Now().Sub(startAt).String()).Debug("completed atomics pass")
	return data, nil
}
