// This executable generates a go file that contains the SQL schema defined
// as a string. By doing this, we have the source of truth as a documented go
// struct, which can be used in a more flexible way than having the SQL as the
// source of truth.
package main

//go:generate go run .

import (
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/go/sql/exporter"
	"github.com/scholarr/scholarr/scholarr/go/sql/schema"
)

func main() {
	generatedText := exporter.GenerateSQL(schema.Tables{}, "sql", exporter.SchemaAndColumnNames)

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		sklog.Fatal("No caller information")
	}
	out := filepath.Join(path.Dir(path.Dir(filename)), "sql.go")
	if err := os.WriteFile(out, []byte(generatedText), 0666); err != nil {
		sklog.Fatalf("Could not write SQL to %s: %s", out, err)
	}
}
