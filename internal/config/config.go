// Package config defines the JSON-serializable configuration model for a
// conversion run. A Config can be decoded from a file, overlaid from the
// environment and finally from command-line flags; the CLI applies those
// layers in that order.
//
// Example:
//
//	{
//	  "job":     "changesets",
//	  "source":  { "path": "changesets-latest.osm.bz2", "compression": "auto" },
//	  "parser":  { "tag": "changeset" },
//	  "storage": { "kind": "parquet", "path": "changesets.parquet",
//	               "options": { "compression": "zstd" } },
//	  "runtime": { "chunk_size": 1000, "progress_every": 1000000 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Defaults for a run.
const (
	DefaultJob           = "changesets"
	DefaultTag           = "changeset"
	DefaultStorage       = "parquet"
	DefaultTable         = "changesets"
	DefaultChunkSize     = 1000
	DefaultProgressEvery = 1_000_000
	DefaultCompression   = "auto"
)

// Config is the top-level object decoded from a config file.
type Config struct {
	// Job labels metrics and log lines for this run.
	Job string `json:"job"`

	Source  Source  `json:"source"`
	Parser  Parser  `json:"parser"`
	Storage Storage `json:"storage"`
	Runtime Runtime `json:"runtime"`
	Metrics Metrics `json:"metrics"`
	Log     Log     `json:"log"`
}

// Source locates the compressed dump.
type Source struct {
	Path string `json:"path"`

	// Compression is "auto" (detect from magic bytes), or one of
	// bzip2, gzip, zstd, xz, none.
	Compression string `json:"compression"`
}

// Parser configures the XML event parser.
type Parser struct {
	// Tag is the element materialised per record.
	Tag string `json:"tag"`
}

// Storage selects the sink and its destination.
type Storage struct {
	// Kind selects the registered sink: parquet, sqlite, postgres, mssql.
	Kind string `json:"kind"`

	// Path is the output file for file sinks or the DSN for database sinks.
	Path string `json:"path"`

	// Table is the destination table for database sinks.
	Table string `json:"table"`

	// Options is interpreted by the sink. Parquet reads "compression";
	// database sinks read "drop_existing".
	Options Options `json:"options"`
}

// Runtime controls batching and progress cadence.
type Runtime struct {
	ChunkSize     int `json:"chunk_size"`
	ProgressEvery int `json:"progress_every"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr"`
}

// Log configures the logger.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns a Config with every optional field populated.
func Default() Config {
	return Config{
		Job:     DefaultJob,
		Source:  Source{Compression: DefaultCompression},
		Parser:  Parser{Tag: DefaultTag},
		Storage: Storage{Kind: DefaultStorage, Table: DefaultTable, Options: Options{}},
		Runtime: Runtime{ChunkSize: DefaultChunkSize, ProgressEvery: DefaultProgressEvery},
		Metrics: Metrics{Backend: "none"},
		Log:     Log{Level: "info", Format: "console"},
	}
}

// Load decodes the JSON file at path over Default(). Keys absent from the
// file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.Storage.Options == nil {
		cfg.Storage.Options = Options{}
	}
	return cfg, nil
}

// Options is a small helper to fetch typed values from arbitrary JSON maps.
// It performs only minimal type coercion and returns the provided default when
// a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// so both float64 and int are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// UnmarshalJSON makes a missing or null "options" object decode to an
// empty, non-nil map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
