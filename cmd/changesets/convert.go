package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"changesets/internal/config"
	perr "changesets/internal/errors"
	"changesets/internal/etl"
	"changesets/internal/logger"
	"changesets/internal/metrics"
	"changesets/internal/metrics/datadog"
	"changesets/internal/metrics/prompush"
)

const (
	defaultPushgatewayURL = "http://localhost:9091"
	defaultDatadogAddr    = "127.0.0.1:8125"
	datadogNamespace      = "osm."
)

type convertFlags struct {
	configPath         string
	input              string
	output             string
	chunkSize          int
	storage            string
	table              string
	compression        string
	parquetCompression string
	progressEvery      int
	metricsBackend     string
	pushgatewayURL     string
	datadogAddr        string
	logLevel           string
	logFormat          string
	validate           bool
	printStats         bool
}

func bindConvert(cmd *cobra.Command) *convertFlags {
	f := &convertFlags{}
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "JSON config file")
	fs.StringVarP(&f.input, "input", "i", "", "input dump: local path or http(s) URL")
	fs.StringVarP(&f.output, "output", "o", "", "output file, or DSN for database storage")
	fs.IntVar(&f.chunkSize, "chunk-size", config.DefaultChunkSize, "changesets per written batch")
	fs.StringVar(&f.storage, "storage", config.DefaultStorage, "output kind: "+strings.Join(config.KnownStorages, ", "))
	fs.StringVar(&f.table, "table", config.DefaultTable, "destination table for database storage")
	fs.StringVar(&f.compression, "compression", config.DefaultCompression, "input compression: "+strings.Join(config.KnownCompressions, ", "))
	fs.StringVar(&f.parquetCompression, "parquet-compression", "snappy", "parquet column codec: "+strings.Join(config.KnownParquetCompressions, ", "))
	fs.IntVar(&f.progressEvery, "progress-every", config.DefaultProgressEvery, "log progress every N changesets")
	fs.StringVar(&f.metricsBackend, "metrics-backend", "none", "metrics backend: "+strings.Join(config.KnownMetricsBackends, ", "))
	fs.StringVar(&f.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (default "+defaultPushgatewayURL+")")
	fs.StringVar(&f.datadogAddr, "datadog-addr", "", "DogStatsD address (default "+defaultDatadogAddr+")")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level")
	fs.StringVar(&f.logFormat, "log-format", "console", "log format: console or json")
	fs.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&f.printStats, "stats", false, "print run statistics as JSON on stdout")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := resolveConfig(cmd, f)
		if err != nil {
			return err
		}
		if f.validate {
			return validateOnly(cmd, cfg)
		}
		return convert(cmd, cfg, f.printStats)
	}
	return f
}

// resolveConfig layers defaults, the config file, the environment and the
// flags the user actually set.
func resolveConfig(cmd *cobra.Command, f *convertFlags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return cfg, perr.Wrap(err, perr.KindConfig, "config file")
		}
		cfg = loaded
	}
	if err := config.LoadDotEnv(); err != nil {
		return cfg, perr.Wrap(err, perr.KindConfig, "dotenv")
	}
	if err := config.FromEnv(&cfg); err != nil {
		return cfg, perr.Wrap(err, perr.KindConfig, "environment")
	}

	fs := cmd.Flags()
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("input", func() { cfg.Source.Path = f.input })
	set("output", func() { cfg.Storage.Path = f.output })
	set("chunk-size", func() { cfg.Runtime.ChunkSize = f.chunkSize })
	set("storage", func() { cfg.Storage.Kind = f.storage })
	set("table", func() { cfg.Storage.Table = f.table })
	set("compression", func() { cfg.Source.Compression = f.compression })
	set("progress-every", func() { cfg.Runtime.ProgressEvery = f.progressEvery })
	set("metrics-backend", func() { cfg.Metrics.Backend = f.metricsBackend })
	set("pushgateway-url", func() { cfg.Metrics.PushgatewayURL = f.pushgatewayURL })
	set("datadog-addr", func() { cfg.Metrics.DatadogAddr = f.datadogAddr })
	set("log-level", func() { cfg.Log.Level = f.logLevel })
	set("log-format", func() { cfg.Log.Format = f.logFormat })
	set("parquet-compression", func() {
		if cfg.Storage.Options == nil {
			cfg.Storage.Options = config.Options{}
		}
		cfg.Storage.Options["compression"] = f.parquetCompression
	})
	return cfg, nil
}

func validateOnly(cmd *cobra.Command, cfg config.Config) error {
	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return perr.Configf("configuration is invalid")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
	return nil
}

func convert(cmd *cobra.Command, cfg config.Config, printStats bool) error {
	log := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if !logger.ValidLevel(cfg.Log.Level) {
		log.Warn().Str("level", cfg.Log.Level).Msg("unknown log level; using info")
	}

	flush := setupMetrics(cfg, log)
	defer flush()

	st, err := etl.Run(cmd.Context(), cfg, etl.WithLogger(log))
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err).Str("kind", perr.KindOf(err).String())
	}
	ev.Int64("changesets", st.Changesets).
		Int64("batches", st.Batches).
		Bool("output_written", st.Output).
		Dur("duration", st.Duration).
		Msg("conversion finished")
	if err != nil {
		return err
	}

	if printStats {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
	}
	return nil
}

// setupMetrics installs the configured backend and returns its flush hook.
// A backend that cannot be created leaves metrics disabled.
func setupMetrics(cfg config.Config, log *logger.Logger) func() {
	nop := func() {}
	switch cfg.Metrics.Backend {
	case "pushgateway":
		url := cfg.Metrics.PushgatewayURL
		if url == "" {
			url = defaultPushgatewayURL
		}
		b, err := prompush.NewBackend(cfg.Job, url)
		if err != nil {
			log.Warn().Err(err).Msg("metrics: pushgateway backend unavailable; using nop")
			return nop
		}
		log.Info().Str("url", url).Str("job", cfg.Job).Msg("metrics: pushgateway enabled")
		metrics.SetBackend(b)

	case "datadog":
		addr := cfg.Metrics.DatadogAddr
		if addr == "" {
			addr = defaultDatadogAddr
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  datadogNamespace,
			GlobalTags: []string{"job:" + cfg.Job},
		})
		if err != nil {
			log.Warn().Err(err).Msg("metrics: datadog backend unavailable; using nop")
			return nop
		}
		log.Info().Str("addr", addr).Msg("metrics: datadog enabled")
		metrics.SetBackend(b)

	default:
		log.Debug().Str("backend", cfg.Metrics.Backend).Msg("metrics: disabled")
		return nop
	}

	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn().Err(err).Msg("metrics: flush failed")
		}
	}
}
