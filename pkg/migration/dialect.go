// Package migration renders schema versions and version deltas as SQL
// scripts for relational targets and assesses the impact of proposed
// changes. Nothing in this package writes to the catalog.
package migration

import (
	"fmt"
	"strings"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
)

// Dialect is a SQL flavour scripts are rendered for.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// Dialects lists the supported dialects.
func Dialects() []Dialect { return []Dialect{Postgres, MySQL, SQLite} }

// ParseDialect accepts a dialect name, case-insensitively. "postgresql" is
// an alias of postgres.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported dialect %q", name)
}

var columnTypes = map[Dialect]map[fieldtype.Type]string{
	Postgres: {
		fieldtype.String:  "TEXT",
		fieldtype.Integer: "BIGINT",
		fieldtype.Float:   "DOUBLE PRECISION",
		fieldtype.Boolean: "BOOLEAN",
		fieldtype.Date:    "TIMESTAMP",
		fieldtype.JSON:    "JSONB",
		fieldtype.Array:   "JSONB",
		fieldtype.Object:  "JSONB",
	},
	MySQL: {
		fieldtype.String:  "TEXT",
		fieldtype.Integer: "BIGINT",
		fieldtype.Float:   "DOUBLE",
		fieldtype.Boolean: "BOOLEAN",
		fieldtype.Date:    "DATETIME",
		fieldtype.JSON:    "JSON",
		fieldtype.Array:   "JSON",
		fieldtype.Object:  "JSON",
	},
	SQLite: {
		fieldtype.String:  "TEXT",
		fieldtype.Integer: "INTEGER",
		fieldtype.Float:   "REAL",
		fieldtype.Boolean: "INTEGER",
		fieldtype.Date:    "TEXT",
		fieldtype.JSON:    "TEXT",
		fieldtype.Array:   "TEXT",
		fieldtype.Object:  "TEXT",
	},
}

// ColumnType maps a field type to the column type of d.
func (d Dialect) ColumnType(t fieldtype.Type) string {
	if ct, ok := columnTypes[d][t]; ok {
		return ct
	}
	return "TEXT"
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (d Dialect) begin() string {
	switch d {
	case MySQL:
		return "START TRANSACTION;"
	case SQLite:
		return "BEGIN TRANSACTION;"
	}
	return "BEGIN;"
}

func (d Dialect) boolean(b bool) string {
	if d == SQLite {
		if b {
			return "1"
		}
		return "0"
	}
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// quoteString renders s as a string literal. MySQL treats backslash as an
// escape character inside literals.
func (d Dialect) quoteString(s string) string {
	if d == MySQL {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// literal renders the stored default text of a field as a SQL literal.
func (d Dialect) literal(t fieldtype.Type, text string) (string, error) {
	v, err := fieldtype.ParseText(t, text)
	if err != nil {
		return "", err
	}
	switch t {
	case fieldtype.Integer, fieldtype.Float:
		return fieldtype.Format(t, v)
	case fieldtype.Boolean:
		return d.boolean(v.(bool)), nil
	}
	s, err := fieldtype.Format(t, v)
	if err != nil {
		return "", err
	}
	lit := d.quoteString(s)
	if d == MySQL && (t == fieldtype.String || t.Structured()) {
		// TEXT and JSON columns only take expression defaults.
		return "(" + lit + ")", nil
	}
	return lit, nil
}

// TableName is the table a schema's records map to.
func TableName(schemaName string) string {
	var b strings.Builder
	b.WriteString("md_")
	for _, r := range strings.ToLower(schemaName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// slot is the field_values column holding values of type t.
func slot(t fieldtype.Type) string {
	switch t {
	case fieldtype.String:
		return "value_text"
	case fieldtype.Integer:
		return "value_int"
	case fieldtype.Float:
		return "value_float"
	case fieldtype.Boolean:
		return "value_bool"
	case fieldtype.Date:
		return "value_date"
	}
	return "value_json"
}
