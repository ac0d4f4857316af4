package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	envConfig   = "PLOGWATCH_CONFIG"
	envLogLevel = "PLOGWATCH_LOG_LEVEL"

	defaultConfigPath = "plog.yaml"
)

type options struct {
	ConfigPath string
	Once       bool
	LogLevel   zerolog.Level
	LogFormat  string
	Output     string
}

// ENV > CLI > defaults
func loadOptions(args []string, out io.Writer, getenv func(string) string) (options, error) {
	if out == nil {
		out = io.Discard
	}
	if getenv == nil {
		getenv = os.Getenv
	}

	fs := flag.NewFlagSet("plogwatch", flag.ContinueOnError)
	fs.SetOutput(out)

	var (
		configOpt string
		onceOpt   bool
		levelOpt  string
		formatOpt string
		outputOpt string
	)
	fs.StringVar(&configOpt, "config", defaultConfigPath, "path to the check configuration file")
	fs.BoolVar(&onceOpt, "once", false, "poll every instance once and exit")
	fs.StringVar(&levelOpt, "log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.StringVar(&formatOpt, "log-format", "console", "log format (console, json)")
	fs.StringVar(&outputOpt, "output", "log", "sample output (log, json)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{
		ConfigPath: strings.TrimSpace(configOpt),
		Once:       onceOpt,
		LogFormat:  strings.ToLower(strings.TrimSpace(formatOpt)),
		Output:     strings.ToLower(strings.TrimSpace(outputOpt)),
	}
	if v := strings.TrimSpace(getenv(envConfig)); v != "" {
		opts.ConfigPath = v
	}
	if v := strings.TrimSpace(getenv(envLogLevel)); v != "" {
		levelOpt = v
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelOpt)))
	if err != nil {
		return options{}, fmt.Errorf("invalid log level %q: %w", levelOpt, err)
	}
	opts.LogLevel = level

	if opts.ConfigPath == "" {
		return options{}, errors.New("config path is empty")
	}
	switch opts.LogFormat {
	case "console", "json":
	default:
		return options{}, fmt.Errorf("invalid log format %q", opts.LogFormat)
	}
	switch opts.Output {
	case "log", "json":
	default:
		return options{}, fmt.Errorf("invalid output %q", opts.Output)
	}
	return opts, nil
}
