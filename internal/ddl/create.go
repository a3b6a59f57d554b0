// Package ddl renders the destination table of the database sinks from the
// writer's locked schema.
package ddl

import (
	"fmt"
	"strings"

	"changesets/internal/schema"
)

// FromSchema maps every schema field onto a column of d's string type.
// Non-nullable columns get an empty-string default.
func FromSchema(fqn string, s *schema.Schema, d Dialect) (TableDef, error) {
	if s == nil || s.Len() == 0 {
		return TableDef{}, fmt.Errorf("ddl: schema has no fields")
	}
	td := TableDef{FQN: fqn, Columns: make([]ColumnDef, 0, s.Len())}
	for _, f := range s.Fields() {
		if f.Type != schema.TypeString {
			return TableDef{}, fmt.Errorf("ddl: field %s has unsupported type %s", f.Name, f.Type)
		}
		c := ColumnDef{Name: f.Name, SQLType: d.StringType, Nullable: f.Nullable}
		if !f.Nullable {
			c.Default = d.EmptyStringDefault
		}
		td.Columns = append(td.Columns, c)
	}
	return td, nil
}

// BuildCreateTableSQL renders
//
//	CREATE TABLE <fqn> (
//	  <col> <type> [NOT NULL] [DEFAULT <expr>],
//	  ...
//	);
//
// with identifiers quoted for d.
func BuildCreateTableSQL(t TableDef, d Dialect) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(d.Quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", d.QuoteFQN(fqn), strings.Join(cols, ",\n  ")), nil
}

// BuildDropTableSQL renders DROP TABLE IF EXISTS for fqn. SQL Server
// supports the IF EXISTS form from 2016 onwards.
func BuildDropTableSQL(fqn string, d Dialect) (string, error) {
	if strings.TrimSpace(fqn) == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	return "DROP TABLE IF EXISTS " + d.QuoteFQN(fqn) + ";", nil
}
