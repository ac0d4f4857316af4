package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkbrsn/plogwatch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	opts, err := loadOptions(os.Args[1:], os.Stderr, os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	setupLogger(opts, os.Stderr)

	cfg, err := plogwatch.LoadConfig(opts.ConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", opts.ConfigPath).Msg("loading configuration")
	}
	rep := newReporter(opts.Output, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.Once {
		if err := pollOnce(ctx, cfg.Instances, rep); err != nil {
			log.Error().Err(err).Msg("poll failed")
			os.Exit(1)
		}
		return
	}
	run(ctx, cfg.Instances, rep)
}

func setupLogger(opts options, w io.Writer) {
	zerolog.SetGlobalLevel(opts.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if opts.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func newReporter(output string, w io.Writer) plogwatch.Reporter {
	if output == "json" {
		return plogwatch.NewJSONLinesReporter(w)
	}
	return plogwatch.NewLogReporter(log.Logger)
}

// pollOnce polls every instance concurrently and returns the first failure.
func pollOnce(ctx context.Context, instances []plogwatch.Instance, rep plogwatch.Reporter) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		collector, err := plogwatch.NewStatsCollector(inst, plogwatch.WithCollectorLogger(log.Logger))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return collector.Poll(ctx, rep)
		})
	}
	return g.Wait()
}

// run schedules a check per instance and blocks until ctx is done.
func run(ctx context.Context, instances []plogwatch.Instance, rep plogwatch.Reporter) {
	agent := plogwatch.New(plogwatch.WithLogger(log.Logger))
	defer func() {
		if err := agent.Close(); err != nil {
			log.Error().Err(err).Msg("closing agent")
		}
	}()

	for _, inst := range instances {
		check, err := plogwatch.NewCheck(inst.ID, inst, plogwatch.NewDerivingReporter(rep))
		if err != nil {
			log.Fatal().Err(err).Str("target", inst.Address()).Msg("creating check")
		}
		if err := agent.AddCheck(check); err != nil {
			log.Fatal().Err(err).Str("check_id", check.ID).Msg("adding check")
		}
	}
	log.Info().Int("checks", len(instances)).Msg("plogwatch started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return
		case res, ok := <-agent.Results():
			if !ok {
				return
			}
			if res.Err == nil && !res.Skipped {
				log.Debug().
					Str("check_id", res.CheckID).
					Int("samples", len(res.Samples)).
					Dur("latency", res.Exchange.Latency()).
					Msg("poll complete")
			}
		}
	}
}
