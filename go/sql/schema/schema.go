// Package schema reads the live shape of a database, both columns and
// indexes, out of information_schema. Tests compare the result against the
// Go structs the schema was generated from to catch drift between the two.
package schema

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sql/pool"
)

// sqlTimeout bounds the information_schema queries.
const sqlTimeout = time.Minute

// TableNames takes a "table type", a struct whose fields are slices of row
// structs, and returns the lowercased name of every table it declares, e.g.
//
//	"users", "pdfqueue"
func TableNames(tables interface{}) []string {
	ret := []string{}
	for _, structField := range reflect.VisibleFields(reflect.TypeOf(tables)) {
		ret = append(ret, strings.ToLower(structField.Name))
	}
	return ret
}

// Description is the observed schema of a set of tables.
type Description struct {
	// ColumnNameAndType maps "table.column" to the column's type, default
	// and nullability.
	ColumnNameAndType map[string]string

	// IndexNames holds "table.index" for every named secondary index.
	IndexNames []string
}

const typesQuery = `
SELECT
    column_name,
    CONCAT(data_type, ' def:', column_default, ' nullable:', is_nullable)
FROM
    information_schema.columns
WHERE
    table_name = $1;
`

const indexNameQuery = `
SELECT DISTINCT
	index_name
FROM
	information_schema.statistics
WHERE
	table_name = $1
ORDER BY
	index_name DESC
`

// GetDescription returns a Description covering every table the given
// "table type" declares.
func GetDescription(ctx context.Context, db pool.Pool, tables interface{}) (*Description, error) {
	ctx, cancel := context.WithTimeout(ctx, sqlTimeout)
	defer cancel()
	colNameAndType := map[string]string{}
	indexNames := []string{}
	for _, tableName := range TableNames(tables) {
		rows, err := db.Query(ctx, typesQuery, tableName)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		for rows.Next() {
			var colName string
			var colType string
			if err := rows.Scan(&colName, &colType); err != nil {
				return nil, skerr.Wrap(err)
			}
			colNameAndType[tableName+"."+colName] = colType
		}

		rows, err = db.Query(ctx, indexNameQuery, tableName)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		for rows.Next() {
			var indexName string
			if err := rows.Scan(&indexName); err != nil {
				return nil, skerr.Wrap(err)
			}
			// The primary key index is named "primary" or "<table>_pkey"
			// depending on the CockroachDB version the table was created
			// under. Every table has one, so its name carries no signal
			// and is skipped either way.
			if indexName == "primary" || indexName == tableName+"_pkey" {
				continue
			}
			indexNames = append(indexNames, tableName+"."+indexName)
		}
	}

	return &Description{
		ColumnNameAndType: colNameAndType,
		IndexNames:        indexNames,
	}, nil
}
