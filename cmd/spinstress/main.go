package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/go-ricrob/spinguard/internal/stress"
	"github.com/go-ricrob/spinguard/mutex"
)

type cli struct {
	Config kong.ConfigFlag `help:"Load configuration from a TOML file." placeholder:"FILE"`

	Workers    int    `help:"Number of concurrent workers." default:"100" env:"SPINSTRESS_WORKERS"`
	Iterations int    `help:"Increments per worker." default:"10000" env:"SPINSTRESS_ITERATIONS"`
	Strategy   string `help:"Locking strategy (${enum})." enum:"spin,park" default:"spin" env:"SPINSTRESS_STRATEGY"`
	Workload   string `help:"Workload (${enum})." enum:"counter,partitioned" default:"counter" env:"SPINSTRESS_WORKLOAD"`
	Parts      uint64 `help:"Number of parts of the partitioned workload." default:"${parts}" env:"SPINSTRESS_PARTS"`

	LogLevel string `help:"Log level (${enum})." enum:"trace,debug,info,warn,error" default:"info" env:"SPINSTRESS_LOG_LEVEL"`
	LogJSON  bool   `help:"Log in JSON format." env:"SPINSTRESS_LOG_JSON"`
}

func newParser(c *cli) (*kong.Kong, error) {
	return kong.New(c,
		kong.Name("spinstress"),
		kong.Description("Stress a spinning or parking mutex with concurrent increments."),
		kong.Configuration(kongtoml.Loader, ".spinstress.toml", "~/.spinstress.toml"),
		kong.Vars{
			"parts": strconv.Itoa(runtime.NumCPU() * 8),
		},
	)
}

func newLogger(w io.Writer, level string, json bool) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	if json {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}

func (c *cli) stressConfig() (stress.Config, error) {
	strategy, err := mutex.ParseStrategy(c.Strategy)
	if err != nil {
		return stress.Config{}, err
	}
	cfg := stress.Config{
		Workers:    c.Workers,
		Iterations: c.Iterations,
		Strategy:   strategy,
		Workload:   stress.Workload(c.Workload),
		Parts:      c.Parts,
	}
	return cfg, errors.Wrap(cfg.Validate(), "invalid configuration")
}

func run(ctx context.Context, c *cli, logger *logrus.Logger) error {
	cfg, err := c.stressConfig()
	if err != nil {
		return err
	}

	log := logger.WithFields(logrus.Fields{
		"workers":    cfg.Workers,
		"iterations": cfg.Iterations,
		"strategy":   cfg.Strategy.String(),
		"workload":   string(cfg.Workload),
	})
	if cfg.Workload == stress.Partitioned {
		log = log.WithField("parts", cfg.Parts)
	}
	log.Debug("starting stress run")

	res, err := stress.Run(ctx, cfg)
	if err != nil {
		return err
	}

	log = log.WithFields(logrus.Fields{
		"total":     res.Total,
		"expected":  res.Expected,
		"maxInside": res.MaxInside,
		"torn":      res.Torn,
		"elapsed":   res.Elapsed,
		"p50":       res.Percentile(50),
		"p99":       res.Percentile(99),
	})
	if !res.OK() {
		log.Error("mutual exclusion violated")
		return errors.Errorf("lost %d updates, max %d workers inside, %d torn reads", res.Expected-res.Total, res.MaxInside, res.Torn)
	}
	log.Info("stress run finished")
	return nil
}

func main() {
	var c cli
	parser, err := newParser(&c)
	if err != nil {
		panic(err)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	logger, err := newLogger(os.Stderr, c.LogLevel, c.LogJSON)
	kctx.FatalIfErrorf(err)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.FatalIfErrorf(run(ctx, &c, logger))
}
