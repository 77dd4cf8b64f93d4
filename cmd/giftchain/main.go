// Command giftchain runs a pool of workers that admit tags into an ordered
// sequence and retire them, and reports whether every tag was admitted and
// retired exactly once.
//
// Usage:
//
//	giftchain [-c config.yaml] [--tags N] [--workers N] [--policy random] [--script 0,2,4 --script 1,3]
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/notorious-go/giftchain/admission"
	"github.com/notorious-go/giftchain/config"
	"github.com/notorious-go/giftchain/metrics"
	"github.com/notorious-go/giftchain/worker"
)

type options struct {
	Config        string         `short:"c" long:"config" description:"path to a YAML configuration file"`
	Tags          *int           `long:"tags" description:"number of tags to admit and retire"`
	Workers       *int           `long:"workers" description:"number of workers"`
	Policy        *string        `long:"policy" choice:"random" choice:"round-robin" choice:"weighted" description:"action policy"`
	WeightAdmit   *int           `long:"weight-admit" description:"relative frequency of admits under the weighted policy"`
	WeightRetire  *int           `long:"weight-retire" description:"relative frequency of retires under the weighted policy"`
	WeightSearch  *int           `long:"weight-search" description:"relative frequency of searches under the weighted policy"`
	Seed          *uint64        `long:"seed" description:"seed of the random policies"`
	MaxPending    *int           `long:"max-pending" description:"bound on admitted but unretired tags"`
	AdmitPatience *time.Duration `long:"admit-patience" description:"bound on every single admit attempt"`
	Timeout       *time.Duration `long:"timeout" description:"bound on the whole run"`
	Scripts       []string       `long:"script" description:"comma separated tags admitted by one worker; repeat once per worker"`
	LogLevel      *string        `long:"log-level" description:"log level"`
	LogFormat     *string        `long:"log-format" choice:"text" choice:"json" description:"log format"`
	MetricsAddr   *string        `long:"metrics-addr" description:"listen address of the Prometheus endpoint"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("run failed")
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, applies the flags on top of
// it and validates the result.
func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Read(opts.Config); err != nil {
			return cfg, err
		}
	}

	if opts.Tags != nil {
		cfg.Tags = *opts.Tags
	}
	if opts.Workers != nil {
		cfg.Workers = *opts.Workers
	}
	if opts.Policy != nil {
		cfg.Policy = *opts.Policy
	}
	if opts.WeightAdmit != nil {
		cfg.Weights.Admit = *opts.WeightAdmit
	}
	if opts.WeightRetire != nil {
		cfg.Weights.Retire = *opts.WeightRetire
	}
	if opts.WeightSearch != nil {
		cfg.Weights.Search = *opts.WeightSearch
	}
	if opts.Seed != nil {
		cfg.Seed = *opts.Seed
	}
	if opts.MaxPending != nil {
		cfg.MaxPending = *opts.MaxPending
	}
	if opts.AdmitPatience != nil {
		cfg.AdmitPatience = *opts.AdmitPatience
	}
	if opts.Timeout != nil {
		cfg.Timeout = *opts.Timeout
	}
	if opts.LogLevel != nil {
		cfg.Log.Level = *opts.LogLevel
	}
	if opts.LogFormat != nil {
		cfg.Log.Format = *opts.LogFormat
	}
	if opts.MetricsAddr != nil {
		cfg.Metrics.Addr = *opts.MetricsAddr
	}
	if len(opts.Scripts) > 0 {
		scripts, err := parseScripts(opts.Scripts)
		if err != nil {
			return cfg, err
		}
		cfg.Scripts = scripts
	}
	return cfg, cfg.Validate()
}

func parseScripts(args []string) ([][]int, error) {
	scripts := make([][]int, 0, len(args))
	for _, arg := range args {
		var script []int
		for _, field := range strings.Split(arg, ",") {
			tag, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, fmt.Errorf("script %q: %w", arg, err)
			}
			script = append(script, tag)
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	reg := metrics.NoopRegisterer
	if cfg.Metrics.Addr != "" {
		r := prometheus.NewRegistry()
		reg = r
		serveMetrics(cfg.Metrics.Addr, r, logger)
	}
	m := metrics.New(reg)

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	policy, err := worker.ParsePolicy(cfg.Policy, worker.Weights{
		Admit:  cfg.Weights.Admit,
		Retire: cfg.Weights.Retire,
		Search: cfg.Weights.Search,
	}, seed)
	if err != nil {
		return err
	}

	store := admission.New(cfg.Tags, admission.WithMaxPending(cfg.MaxPending), admission.WithObserver(m))
	opts := worker.Options{
		Workers:  cfg.Workers,
		Policy:   policy,
		Patience: cfg.AdmitPatience,
		Timeout:  cfg.Timeout,
		Logger:   logger,
		Observer: m,
	}
	logger.WithFields(logrus.Fields{
		"tags":        cfg.Tags,
		"workers":     cfg.Workers,
		"policy":      cfg.Policy,
		"seed":        seed,
		"max_pending": cfg.MaxPending,
		"scripted":    len(cfg.Scripts) > 0,
	}).Info("starting run")

	var report worker.Report
	if len(cfg.Scripts) > 0 {
		report, err = worker.RunScript(ctx, store, toTags(cfg.Scripts), opts)
	} else {
		report, err = worker.Run(ctx, store, opts)
	}
	m.RunFinished(report.Elapsed)

	for _, s := range report.Workers {
		logger.WithFields(logrus.Fields{
			"worker":   s.ID,
			"admitted": s.Admitted,
			"retired":  s.Retired,
			"searches": s.Searches,
			"found":    s.Found,
			"missed":   s.Missed,
		}).Info("worker summary")
	}
	log := logger.WithFields(logrus.Fields{
		"admitted": report.Admitted,
		"retired":  report.Retired,
		"elapsed":  report.Elapsed,
	})
	if err != nil {
		log.WithError(err).Warn("run incomplete")
		return err
	}
	log.Info("all tasks complete")
	return nil
}

func toTags(scripts [][]int) [][]admission.Tag {
	out := make([][]admission.Tag, len(scripts))
	for i, script := range scripts {
		out[i] = make([]admission.Tag, len(script))
		for j, tag := range script {
			out[i][j] = admission.Tag(tag)
		}
	}
	return out
}

func serveMetrics(addr string, reg *prometheus.Registry, logger logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.WithError(err).Error("metrics endpoint stopped")
		}
	}()
}
