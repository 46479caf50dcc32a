package dbutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDriverType(t *testing.T) {
	tests := []struct {
		in   string
		want DriverType
	}{
		{"postgres", DriverPostgres},
		{"PostgreSQL", DriverPostgres},
		{"sqlite", DriverSQLite},
		{"SQLite3", DriverSQLite},
		{"mongodb", DriverMongoDB},
		{"mongo", DriverMongoDB},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDriverType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseDriverType("mysql")
	assert.Error(t, err)
}

func TestRebindHelpers(t *testing.T) {
	assert.Equal(t, "SELECT 1 WHERE a = $1", RebindToPositional("SELECT 1 WHERE a = $1"))
	assert.Equal(t, "UPDATE t SET a = ?, b = ? WHERE id = ?",
		RebindToQuestion("UPDATE t SET a = $1, b = $2 WHERE id = $3"))
	assert.Equal(t, "SELECT $1 ", StripPgCasts("SELECT $1::text "))
}

func TestSetClause(t *testing.T) {
	assert.Equal(t, "name = $1, status = $2", SetClause([]string{"name", "status"}, 1))
	assert.Equal(t, "email = $3", SetClause([]string{"email"}, 3))
	assert.Equal(t, "", SetClause(nil, 1))
}
