package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_EmbeddedAndReversible(t *testing.T) {
	files, err := fs.Glob(migrations, "*.sql")
	require.NoError(t, err)
	require.Len(t, files, 3)

	tables := map[string]bool{}
	for _, name := range files {
		data, err := migrations.ReadFile(name)
		require.NoError(t, err)
		sql := string(data)

		assert.Contains(t, sql, "-- +goose Up", name)
		assert.Contains(t, sql, "-- +goose Down", name)
		for _, table := range []string{"emission_activities", "emission_factors", "emission_results", "generated_reports", "retry_entries"} {
			if strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table) {
				tables[table] = true
			}
		}
	}
	assert.Len(t, tables, 5)
}
