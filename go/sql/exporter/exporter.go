// Package exporter turns Go structs with `sql` field tags into a Go source
// file that contains the SQL schema as a string constant. The Go structs stay
// the source of truth for the schema and can be used to build test data and
// to keep column lists in sync with the table definitions.
package exporter

import (
	"fmt"
	"reflect"
	"strings"
)

// GenerateOption controls what GenerateSQL emits beyond the Schema constant.
type GenerateOption int

const (
	// SchemaOnly emits only the Schema constant.
	SchemaOnly GenerateOption = iota

	// SchemaAndColumnNames also emits, for each table, a slice with the names
	// of all non-computed columns in schema order.
	SchemaAndColumnNames
)

const fileHeader = `package %s

// Generated by //go/sql/exporter. DO NOT EDIT.

// Schema is the SQL schema of all tables.
const Schema = `

// GenerateSQL takes in a "table type", that is a struct whose fields are
// slices of row structs, one slice per table. Each row struct field with an
// `sql` tag contributes one line to the corresponding CREATE TABLE statement;
// the tag text is emitted verbatim, so it can be a column definition
// ("machine_id STRING PRIMARY KEY"), a table-level primary key
// ("PRIMARY KEY (a, b)"), or an index ("INDEX by_a (a)").
//
// The return value is the contents of a Go source file in the given package.
func GenerateSQL(tables interface{}, pkg string, options ...GenerateOption) string {
	opt := SchemaOnly
	if len(options) > 0 {
		opt = options[0]
	}

	body := strings.Builder{}
	body.WriteString(fmt.Sprintf(fileHeader, pkg))
	body.WriteString("`")

	columnNames := strings.Builder{}

	t := reflect.TypeOf(tables)
	for i := 0; i < t.NumField(); i++ {
		table := t.Field(i)
		rowType := table.Type.Elem()
		body.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (", table.Name))

		lines := []string{}
		columns := []string{}
		for j := 0; j < rowType.NumField(); j++ {
			tag, ok := rowType.Field(j).Tag.Lookup("sql")
			if !ok {
				continue
			}
			lines = append(lines, "  "+tag)
			if col, ok := columnName(tag); ok {
				columns = append(columns, col)
			}
		}
		body.WriteString("\n")
		body.WriteString(strings.Join(lines, ",\n"))
		body.WriteString("\n);\n")

		if opt == SchemaAndColumnNames {
			columnNames.WriteString(fmt.Sprintf("\n// %s is the list of non-computed columns in the %s table.\nvar %s = []string{\n", table.Name, table.Name, table.Name))
			for _, col := range columns {
				columnNames.WriteString(fmt.Sprintf("\t%q,\n", col))
			}
			columnNames.WriteString("}\n")
		}
	}
	body.WriteString("`\n")
	body.WriteString(columnNames.String())

	return body.String()
}

// columnName returns the column name a tag defines, or false if the tag is a
// table-level constraint, an index, or a computed column.
func columnName(tag string) (string, bool) {
	upper := strings.ToUpper(tag)
	if strings.HasPrefix(upper, "PRIMARY KEY") ||
		strings.HasPrefix(upper, "INDEX") ||
		strings.HasPrefix(upper, "UNIQUE INDEX") ||
		strings.HasPrefix(upper, "INVERTED INDEX") {
		return "", false
	}
	// Computed columns are filled in by the database.
	if strings.Contains(upper, " AS (") {
		return "", false
	}
	parts := strings.Fields(tag)
	if len(parts) < 2 {
		return "", false
	}
	return parts[0], true
}
