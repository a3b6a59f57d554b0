package ddl

import "strings"

// Dialect captures the per-database differences the renderers need.
type Dialect struct {
	Name string

	// Quote quotes one identifier segment.
	Quote func(string) string

	// StringType is the column type used for schema.TypeString.
	StringType string

	// EmptyStringDefault is appended to non-nullable string columns.
	EmptyStringDefault string
}

var (
	Postgres = Dialect{
		Name:               "postgres",
		Quote:              doubleQuote,
		StringType:         "TEXT",
		EmptyStringDefault: "''",
	}
	SQLite = Dialect{
		Name:               "sqlite",
		Quote:              doubleQuote,
		StringType:         "TEXT",
		EmptyStringDefault: "''",
	}
	MSSQL = Dialect{
		Name:               "mssql",
		Quote:              bracketQuote,
		StringType:         "NVARCHAR(MAX)",
		EmptyStringDefault: "N''",
	}
)

// QuoteFQN quotes each dot-separated segment of name.
func (d Dialect) QuoteFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.Quote(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

// QuoteAll quotes each column name.
func (d Dialect) QuoteAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = d.Quote(c)
	}
	return out
}

func doubleQuote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func bracketQuote(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }
