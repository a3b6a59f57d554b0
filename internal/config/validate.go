package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "storage.kind").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Known value sets. The storage set mirrors what storage/all registers.
var (
	KnownCompressions        = []string{"auto", "bzip2", "gzip", "zstd", "xz", "none"}
	KnownStorages            = []string{"parquet", "sqlite", "postgres", "mssql"}
	KnownParquetCompressions = []string{"snappy", "zstd", "gzip", "none"}
	KnownMetricsBackends     = []string{"none", "pushgateway", "datadog"}
)

// Validate performs static validation of cfg. It does not mutate cfg.
func Validate(c Config) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(c.Job) == "" {
		add(SeverityWarning, "job", "job is empty; metrics will be labelled %q", DefaultJob)
	}

	if strings.TrimSpace(c.Source.Path) == "" {
		add(SeverityError, "source.path", "input path must not be empty")
	}
	if !oneOf(c.Source.Compression, KnownCompressions) {
		add(SeverityError, "source.compression", "unknown compression %q; want one of %s",
			c.Source.Compression, strings.Join(KnownCompressions, ", "))
	}

	if strings.TrimSpace(c.Parser.Tag) == "" {
		add(SeverityError, "parser.tag", "record tag must not be empty")
	} else if c.Parser.Tag != DefaultTag {
		add(SeverityWarning, "parser.tag", "record tag %q is not %q; projected fields may all be null", c.Parser.Tag, DefaultTag)
	}

	issues = append(issues, validateStorage(c.Storage)...)

	if c.Runtime.ChunkSize < 1 {
		add(SeverityError, "runtime.chunk_size", "chunk_size=%d; must be at least 1", c.Runtime.ChunkSize)
	}
	if c.Runtime.ProgressEvery < 1 {
		add(SeverityError, "runtime.progress_every", "progress_every=%d; must be at least 1", c.Runtime.ProgressEvery)
	}

	if !oneOf(c.Metrics.Backend, KnownMetricsBackends) && c.Metrics.Backend != "" {
		add(SeverityWarning, "metrics.backend", "unknown metrics backend %q; metrics disabled", c.Metrics.Backend)
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "console" && f != "json" {
		add(SeverityWarning, "log.format", "unknown log format %q; using console", c.Log.Format)
	}

	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{SeverityError, "storage.kind", "storage.kind must not be empty"})
	}
	if !oneOf(s.Kind, KnownStorages) {
		issues = append(issues, Issue{SeverityError, "storage.kind",
			fmt.Sprintf("unknown storage kind %q; want one of %s", s.Kind, strings.Join(KnownStorages, ", "))})
	}
	if strings.TrimSpace(s.Path) == "" {
		issues = append(issues, Issue{SeverityError, "storage.path", "output must not be empty"})
	}

	switch s.Kind {
	case "parquet":
		if pc := s.Options.String("compression", "snappy"); !oneOf(pc, KnownParquetCompressions) {
			issues = append(issues, Issue{SeverityError, "storage.options.compression",
				fmt.Sprintf("unknown parquet compression %q", pc)})
		}
	case "sqlite", "postgres", "mssql":
		if strings.TrimSpace(s.Table) == "" {
			issues = append(issues, Issue{SeverityError, "storage.table", "database sinks require a table"})
		}
	}
	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}
