package sql_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/sql/exporter"
	"github.com/scholarr/scholarr/go/sql/schema"
	"github.com/scholarr/scholarr/scholarr/go/sql"
	scholarrschema "github.com/scholarr/scholarr/scholarr/go/sql/schema"
	"github.com/scholarr/scholarr/scholarr/go/sql/sqltest"
)

// TestGeneratedSchemaIsUpToDate catches edits to schema/types.go that were
// not followed by running //scholarr/go/sql/tosql.
func TestGeneratedSchemaIsUpToDate(t *testing.T) {
	generated := exporter.GenerateSQL(scholarrschema.Tables{}, "sql", exporter.SchemaAndColumnNames)
	require.Contains(t, generated, sql.Schema)
	for _, columns := range [][]string{
		sql.Users, sql.ScholarProfiles, sql.Runs, sql.Publications,
		sql.ScholarPublicationLinks, sql.RunScholarResults,
		sql.ContinuationQueue, sql.PdfQueue, sql.SafetyStates,
	} {
		require.NotEmpty(t, columns)
	}
}

// TestSchema_AppliedToDatabase_DescriptionMatchesTypes asserts every table,
// column and named index the Go structs declare exists in a database the
// Schema constant was applied to.
func TestSchema_AppliedToDatabase_DescriptionMatchesTypes(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewCockroachDBForTests(t, "schemadesc")

	desc, err := schema.GetDescription(ctx, db, scholarrschema.Tables{})
	require.NoError(t, err)
	require.NotEmpty(t, desc.ColumnNameAndType)

	for table, columns := range map[string][]string{
		"users":                   sql.Users,
		"scholarprofiles":         sql.ScholarProfiles,
		"runs":                    sql.Runs,
		"publications":            sql.Publications,
		"scholarpublicationlinks": sql.ScholarPublicationLinks,
		"runscholarresults":       sql.RunScholarResults,
		"continuationqueue":       sql.ContinuationQueue,
		"pdfqueue":                sql.PdfQueue,
		"safetystates":            sql.SafetyStates,
	} {
		for _, column := range columns {
			require.Contains(t, desc.ColumnNameAndType, table+"."+column)
		}
	}

	for _, index := range []string{
		"scholarprofiles.by_user_and_scholar",
		"runs.one_active_run_per_user",
		"runs.by_user_and_start",
		"scholarpublicationlinks.by_publication",
		"scholarpublicationlinks.by_first_seen_run",
		"continuationqueue.one_pending_per_scholar",
		"continuationqueue.by_next_attempt",
		"pdfqueue.one_active_per_publication",
		"pdfqueue.by_pdf_next_attempt",
	} {
		require.Contains(t, desc.IndexNames, index)
	}
}
