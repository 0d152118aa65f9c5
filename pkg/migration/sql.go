package migration

import (
	"fmt"
	"strings"

	"github.com/kubeflow/schema-registry/pkg/catalog/fieldtype"
	"github.com/kubeflow/schema-registry/pkg/catalog/store"
	"github.com/kubeflow/schema-registry/pkg/versioning"
)

const indent = "    "

func (d Dialect) columnDef(f store.FieldDescriptor) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", d.Quote(f.Name), d.ColumnType(f.Type))
	if f.Required {
		b.WriteString(" NOT NULL")
	} else {
		b.WriteString(" NULL")
	}
	if f.Default != nil {
		lit, err := d.literal(f.Type, *f.Default)
		if err != nil {
			return "", fmt.Errorf("field %s: default value: %w", f.Name, err)
		}
		b.WriteString(" DEFAULT " + lit)
	}
	if f.Constraints.Unique {
		b.WriteString(" UNIQUE")
	}
	return b.String(), nil
}

func (d Dialect) indexName(table, column string) string {
	return d.Quote("idx_" + table + "_" + column)
}

// CreateTableSQL renders the active fields of l as one table keyed by
// record ID, plus an index per indexed field.
func CreateTableSQL(l store.Layout, d Dialect) (string, error) {
	table := TableName(l.SchemaName)
	create, err := createTable(table, l, d)
	if err != nil {
		return "", err
	}
	return create + createIndexes(table, l, d), nil
}

func createIndexes(table string, l store.Layout, d Dialect) string {
	var b strings.Builder
	for _, f := range l.Active() {
		if f.Constraints.Indexed && !f.Constraints.Unique {
			fmt.Fprintf(&b, "CREATE INDEX %s ON %s (%s);\n", d.indexName(table, f.Name), d.Quote(table), d.Quote(f.Name))
		}
	}
	return b.String()
}

func createTable(table string, l store.Layout, d Dialect) (string, error) {
	cols := []string{d.Quote("record_id") + " VARCHAR(36) NOT NULL PRIMARY KEY"}
	active := l.Active()
	for _, f := range active {
		def, err := d.columnDef(f)
		if err != nil {
			return "", err
		}
		cols = append(cols, def)
	}
	cols = append(cols,
		d.Quote("created_at")+" TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
		d.Quote("updated_at")+" TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
	)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", d.Quote(table))
	b.WriteString(indent + strings.Join(cols, ",\n"+indent))
	b.WriteString("\n);\n")
	return b.String(), nil
}

// columnChanged reports whether the column definition of a field differs
// between two layouts.
func columnChanged(a, b store.FieldDescriptor) bool {
	return a.Type != b.Type || a.Required != b.Required || defaultText(a.Default) != defaultText(b.Default) ||
		a.Constraints.Unique != b.Constraints.Unique
}

func defaultText(v *string) string {
	if v == nil {
		return "\x00"
	}
	return *v
}

// MigrationSQL renders the statements that move a table shaped like from
// into the shape of to. Fields are matched by name. SQLite cannot alter
// column definitions, so any such change there rebuilds the table.
func MigrationSQL(from, to store.Layout, d Dialect) (string, error) {
	diff := versioning.Compare(from, to)
	if diff.Empty() {
		return "-- No schema changes\n", nil
	}
	table := TableName(to.SchemaName)
	fromByName, toByName := from.ActiveByName(), to.ActiveByName()

	if d == SQLite && sqliteNeedsRebuild(diff, fromByName, toByName) {
		return rebuildSQLite(table, from, to)
	}

	var b strings.Builder
	q := d.Quote(table)
	for _, name := range diff.AddedFields {
		f := toByName[name]
		def, err := d.columnDef(f)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "-- Add field: %s\n", name)
		fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN %s;\n", q, def)
		if f.Constraints.Indexed && !f.Constraints.Unique {
			fmt.Fprintf(&b, "CREATE INDEX %s ON %s (%s);\n", d.indexName(table, name), q, d.Quote(name))
		}
		b.WriteString("\n")
	}

	for _, c := range to.Active() {
		name := c.Name
		if _, ok := diff.ModifiedFields[name]; !ok {
			continue
		}
		a := fromByName[name]
		fmt.Fprintf(&b, "-- Modify field: %s (%s)\n", name, strings.Join(diff.ModifiedFields[name], "; "))
		stmts, err := alterColumn(d, table, a, c)
		if err != nil {
			return "", err
		}
		for _, s := range stmts {
			b.WriteString(s + "\n")
		}
		if a.Constraints.Indexed != c.Constraints.Indexed {
			if c.Constraints.Indexed {
				fmt.Fprintf(&b, "CREATE INDEX %s ON %s (%s);\n", d.indexName(table, name), q, d.Quote(name))
			} else {
				b.WriteString(dropIndex(d, q, d.indexName(table, name)) + "\n")
			}
		}
		b.WriteString("\n")
	}

	for _, name := range diff.RemovedFields {
		fmt.Fprintf(&b, "-- Remove field: %s\n", name)
		if f := fromByName[name]; f.Constraints.Indexed && !f.Constraints.Unique {
			b.WriteString(dropIndex(d, q, d.indexName(table, name)) + "\n")
		}
		fmt.Fprintf(&b, "ALTER TABLE %s DROP COLUMN %s;\n\n", q, d.Quote(name))
	}
	return b.String(), nil
}

func dropIndex(d Dialect, table, index string) string {
	if d == MySQL {
		return fmt.Sprintf("DROP INDEX %s ON %s;", index, table)
	}
	return fmt.Sprintf("DROP INDEX IF EXISTS %s;", index)
}

func alterColumn(d Dialect, name string, from, to store.FieldDescriptor) ([]string, error) {
	table, col := d.Quote(name), d.Quote(to.Name)
	if !columnChanged(from, to) {
		return []string{fmt.Sprintf("-- %s: column definition unchanged, constraints are enforced on write", to.Name)}, nil
	}
	if d == MySQL {
		def, err := d.columnDef(to)
		if err != nil {
			return nil, err
		}
		if from.Constraints.Unique && !to.Constraints.Unique {
			def = strings.TrimSuffix(def, " UNIQUE")
			return []string{
				fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s;", table, def),
				fmt.Sprintf("ALTER TABLE %s DROP INDEX %s;", table, col),
			}, nil
		}
		return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s;", table, def)}, nil
	}

	var out []string
	if from.Type != to.Type {
		ct := d.ColumnType(to.Type)
		out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;", table, col, ct, col, ct))
	}
	if from.Required != to.Required {
		if to.Required {
			out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", table, col))
		} else {
			out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", table, col))
		}
	}
	if defaultText(from.Default) != defaultText(to.Default) || (from.Type != to.Type && to.Default != nil) {
		if to.Default == nil {
			out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", table, col))
		} else {
			lit, err := d.literal(to.Type, *to.Default)
			if err != nil {
				return nil, fmt.Errorf("field %s: default value: %w", to.Name, err)
			}
			out = append(out, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", table, col, lit))
		}
	}
	if from.Constraints.Unique != to.Constraints.Unique {
		constraint := d.Quote(name + "_" + to.Name + "_key")
		if to.Constraints.Unique {
			out = append(out, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s);", table, constraint, col))
		} else {
			out = append(out, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", table, constraint))
		}
	}
	return out, nil
}

func sqliteNeedsRebuild(diff versioning.Diff, from, to map[string]store.FieldDescriptor) bool {
	for name := range diff.ModifiedFields {
		if columnChanged(from[name], to[name]) {
			return true
		}
	}
	for _, name := range diff.AddedFields {
		f := to[name]
		if (f.Required && f.Default == nil) || f.Constraints.Unique {
			return true
		}
	}
	for _, name := range diff.RemovedFields {
		if from[name].Constraints.Unique {
			return true
		}
	}
	return false
}

// rebuildSQLite copies the table into a new one with the target layout,
// carrying over the columns both layouts share.
func rebuildSQLite(table string, from, to store.Layout) (string, error) {
	d := SQLite
	tmp := table + "__new"
	create, err := createTable(tmp, to, d)
	if err != nil {
		return "", err
	}
	fromByName := from.ActiveByName()
	shared := []string{d.Quote("record_id")}
	for _, f := range to.Active() {
		if _, ok := fromByName[f.Name]; ok {
			shared = append(shared, d.Quote(f.Name))
		}
	}
	shared = append(shared, d.Quote("created_at"), d.Quote("updated_at"))
	cols := strings.Join(shared, ", ")

	var b strings.Builder
	b.WriteString("-- SQLite cannot alter column definitions; rebuilding the table\n")
	b.WriteString(create)
	fmt.Fprintf(&b, "INSERT INTO %s (%s)\n%sSELECT %s FROM %s;\n", d.Quote(tmp), cols, indent, cols, d.Quote(table))
	fmt.Fprintf(&b, "DROP TABLE %s;\n", d.Quote(table))
	fmt.Fprintf(&b, "ALTER TABLE %s RENAME TO %s;\n", d.Quote(tmp), d.Quote(table))
	b.WriteString(createIndexes(table, to, d))
	return b.String(), nil
}

// DataMigrationSQL renders EAV-level statements that move the stored values
// of every retyped field into the slot of its new type. Fields are matched
// by ID, as values are.
func DataMigrationSQL(from, to store.Layout, d Dialect) string {
	before := map[string]store.FieldDescriptor{}
	for _, f := range from.Fields {
		before[f.ID] = f
	}
	var b strings.Builder
	n := 0
	for _, f := range to.Fields {
		old, ok := before[f.ID]
		if !ok || old.Type == f.Type {
			continue
		}
		n++
		fmt.Fprintf(&b, "-- Convert %s: %s -> %s\n", f.Name, old.Type, f.Type)
		b.WriteString(convertValues(d, f.ID, old.Type, f.Type))
		b.WriteString("\n")
	}
	if n == 0 {
		return "-- No stored values need conversion\n"
	}
	return b.String()
}

func convertValues(d Dialect, fieldID string, from, to fieldtype.Type) string {
	if fieldtype.CompatibilityOf(from, to) == fieldtype.Rejected {
		return fmt.Sprintf("-- %s values cannot be converted to %s\n", from, to)
	}
	where := fmt.Sprintf("WHERE field_id = %s AND value_type = %s", d.quoteString(fieldID), d.quoteString(string(from)))
	oldSlot, newSlot := slot(from), slot(to)
	if oldSlot == newSlot {
		if guard := structuredGuard(d, to, oldSlot); guard != "" {
			where += " AND " + guard
		}
		return fmt.Sprintf("UPDATE field_values SET value_type = %s\n%s%s;\n", d.quoteString(string(to)), indent, where)
	}
	expr := castExpr(d, from, to, oldSlot)
	if from == fieldtype.Float && to == fieldtype.Integer {
		where += fmt.Sprintf(" AND (%s IS NULL OR %s = %s)", oldSlot, expr, oldSlot)
	}
	return fmt.Sprintf("UPDATE field_values SET %s = %s, %s = NULL, value_type = %s\n%s%s;\n",
		newSlot, expr, oldSlot, d.quoteString(string(to)), indent, where)
}

func structuredGuard(d Dialect, to fieldtype.Type, col string) string {
	var kind string
	switch to {
	case fieldtype.Array:
		kind = "array"
	case fieldtype.Object:
		kind = "object"
	default:
		return ""
	}
	switch d {
	case Postgres:
		return fmt.Sprintf("jsonb_typeof(%s::jsonb) = '%s'", col, kind)
	case MySQL:
		return fmt.Sprintf("JSON_TYPE(%s) = '%s'", col, strings.ToUpper(kind))
	}
	return fmt.Sprintf("json_type(%s) = '%s'", col, kind)
}

func castTarget(d Dialect, t fieldtype.Type) string {
	switch d {
	case MySQL:
		switch t {
		case fieldtype.String:
			return "CHAR"
		case fieldtype.Integer:
			return "SIGNED"
		case fieldtype.Float:
			return "DOUBLE"
		case fieldtype.Date:
			return "DATETIME"
		}
	case Postgres:
		if t == fieldtype.Date {
			return "TIMESTAMP"
		}
	}
	return d.ColumnType(t)
}

func castExpr(d Dialect, from, to fieldtype.Type, col string) string {
	switch {
	case from == fieldtype.Boolean && to == fieldtype.String:
		return fmt.Sprintf("CASE WHEN %s THEN 'true' WHEN NOT %s THEN 'false' END", col, col)
	case from == fieldtype.String && to == fieldtype.Boolean:
		return fmt.Sprintf("CASE WHEN LOWER(%s) IN ('true', '1', 'yes') THEN %s WHEN LOWER(%s) IN ('false', '0', 'no') THEN %s END",
			col, d.boolean(true), col, d.boolean(false))
	case d == SQLite && (from == fieldtype.Date || to == fieldtype.Date):
		// dates are already stored as text
		return col
	}
	return fmt.Sprintf("CAST(%s AS %s)", col, castTarget(d, to))
}

