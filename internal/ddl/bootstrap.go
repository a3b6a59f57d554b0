package ddl

import "changesets/internal/schema"

// Statements returns the DDL that prepares fqn for s: an optional
// DROP TABLE IF EXISTS followed by CREATE TABLE.
func Statements(fqn string, s *schema.Schema, d Dialect, dropExisting bool) ([]string, error) {
	td, err := FromSchema(fqn, s, d)
	if err != nil {
		return nil, err
	}
	create, err := BuildCreateTableSQL(td, d)
	if err != nil {
		return nil, err
	}
	if !dropExisting {
		return []string{create}, nil
	}
	drop, err := BuildDropTableSQL(fqn, d)
	if err != nil {
		return nil, err
	}
	return []string{drop, create}, nil
}
