package exporter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type orchardRow struct {
	Name     string   `sql:"name STRING PRIMARY KEY"`
	Acres    int      `sql:"acres INT NOT NULL"`
	Label    string   `sql:"label STRING AS (lower(name)) STORED"`
	notAData struct{} `sql:"INDEX by_acres (acres)"`
}

type harvestRow struct {
	Orchard    string    `sql:"orchard STRING"`
	Year       int       `sql:"year INT"`
	Bushels    int       `sql:"bushels INT DEFAULT 0"`
	primaryKey struct{}  `sql:"PRIMARY KEY (orchard, year)"`
	skipped    chan bool // no sql tag, ignored
}

type testTables struct {
	Orchards []orchardRow
	Harvests []harvestRow
}

const expectedSchema = `package mypkg

// Generated by //go/sql/exporter. DO NOT EDIT.

// Schema is the SQL schema of all tables.
const Schema = ` + "`" + `CREATE TABLE IF NOT EXISTS Orchards (
  name STRING PRIMARY KEY,
  acres INT NOT NULL,
  label STRING AS (lower(name)) STORED,
  INDEX by_acres (acres)
);
CREATE TABLE IF NOT EXISTS Harvests (
  orchard STRING,
  year INT,
  bushels INT DEFAULT 0,
  PRIMARY KEY (orchard, year)
);
` + "`" + `
`

func TestGenerateSQL_SchemaOnly(t *testing.T) {
	got := GenerateSQL(testTables{}, "mypkg")
	require.Equal(t, expectedSchema, got)
}

func TestGenerateSQL_SchemaAndColumnNames(t *testing.T) {
	got := GenerateSQL(testTables{}, "mypkg", SchemaAndColumnNames)
	require.Contains(t, got, expectedSchema)
	require.Contains(t, got, `// Orchards is the list of non-computed columns in the Orchards table.
var Orchards = []string{
	"name",
	"acres",
}
`)
	require.Contains(t, got, `// Harvests is the list of non-computed columns in the Harvests table.
var Harvests = []string{
	"orchard",
	"year",
	"bushels",
}
`)
}
