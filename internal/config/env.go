package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "CHANGESETS_"

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into
// the process environment without overriding variables that are already set.
// Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromEnv overlays CHANGESETS_* variables from the process environment.
func FromEnv(cfg *Config) error { return FromLookup(cfg, os.LookupEnv) }

// FromLookup overlays variables resolved through lookup onto cfg. Unset
// variables leave the field untouched; malformed integers are an error.
func FromLookup(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := get(name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %q is not an integer", EnvPrefix, name, v)
		}
		*dst = n
		return nil
	}

	str("JOB", &cfg.Job)
	str("INPUT", &cfg.Source.Path)
	str("COMPRESSION", &cfg.Source.Compression)
	str("TAG", &cfg.Parser.Tag)
	str("STORAGE", &cfg.Storage.Kind)
	str("OUTPUT", &cfg.Storage.Path)
	str("TABLE", &cfg.Storage.Table)
	str("METRICS_BACKEND", &cfg.Metrics.Backend)
	str("PUSHGATEWAY_URL", &cfg.Metrics.PushgatewayURL)
	str("DATADOG_ADDR", &cfg.Metrics.DatadogAddr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if v, ok := get("PARQUET_COMPRESSION"); ok {
		if cfg.Storage.Options == nil {
			cfg.Storage.Options = Options{}
		}
		cfg.Storage.Options["compression"] = v
	}

	if err := num("CHUNK_SIZE", &cfg.Runtime.ChunkSize); err != nil {
		return err
	}
	return num("PROGRESS_EVERY", &cfg.Runtime.ProgressEvery)
}
