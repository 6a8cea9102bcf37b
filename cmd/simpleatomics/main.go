package main

import (
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"

	guda "github.com/LynnColeArt/guda-atomics"
	"github.com/LynnColeArt/guda-atomics/internal/atomics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"
)

var (
	appName = "simpleatomics"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetOutput(os.Stderr)
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "apply atomic operations from many kernel threads to a shared buffer"
	app.Version = appVersion(guda.Version)
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:   "threads",
			Value:  atomics.DefaultThreads,
			EnvVar: "THREADS",
			Usage:  "The number of kernel threads to launch on each accelerator",
		},
		cli.IntFlag{
			Name:   "constant",
			Value:  atomics.DefaultConstant,
			EnvVar: "CONSTANT",
			Usage:  "The operand applied by every kernel thread",
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "warning",
			EnvVar: "LOG_LEVEL",
			Usage:  "The log level (debug, info, warning, error)",
		},
	}
	app.Action = runMain
	return app
}

// appVersion reports the module version recorded in the binary, or the
// link-time sha for builds from a local checkout.
func appVersion(moduleVersion func() (version, sum string)) string {
	if version, _ := moduleVersion(); version != "" {
		return version
	}
	return appSha
}

func runMain(appCtx *cli.Context) error {
	level, err := logrus.ParseLevel(appCtx.String("log-level"))
	if err != nil {
		return xerrors.Errorf("parsing log level: %w", err)
	}
	logger.Logger.SetLevel(level)

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			logger.WithField("signal", s.String()).Info("shutting down due to signal")
			cancelFn()
		case <-ctx.Done():
		}
	}()

	constant := appCtx.Int("constant")
	if constant < math.MinInt32 || constant > math.MaxInt32 {
		return xerrors.Errorf("invalid value for constant: %d does not fit in 32 bits", constant)
	}

	reg := prometheus.NewRegistry()
	runner, err := atomics.NewRunner(atomics.Config{
		Threads:    appCtx.Int("threads"),
		Constant:   int32(constant),
		Reporter:   atomics.NewWriterReporter(os.Stdout),
		Registerer: reg,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"version": appCtx.App.Version,
		"cpu":     guda.GetCPUInfo(),
	}).Debug("starting run")
	if err := runner.Run(ctx); err != nil {
		return err
	}

	logMetrics(reg)
	return nil
}

// logMetrics emits the collected runtime counters at debug level.
func logMetrics(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		logger.WithField("err", err).Warn("gathering metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fields := logrus.Fields{"metric": mf.GetName()}
			for _, lp := range m.GetLabel() {
				fields[lp.GetName()] = lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				fields["value"] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				fields["value"] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				fields["count"] = m.GetHistogram().GetSampleCount()
				fields["sum"] = m.GetHistogram().GetSampleSum()
			}
			logger.WithFields(fields).Debug("runtime metric")
		}
	}
}
