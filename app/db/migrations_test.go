package database

import (
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func locationsSchema(t *testing.T) string {
	t.Helper()
	sql, err := migrationFS.ReadFile("migrations/000002_create_locations.up.sql")
	require.NoError(t, err)
	return string(sql)
}

// The repository reads and writes rating as *float64; the column must
// be a nullable float8 or every upsert and similarity scan fails at the
// wire-codec level.
func TestLocationsRatingColumnMatchesGoType(t *testing.T) {
	schema := locationsSchema(t)

	ratingLine := regexp.MustCompile(`(?m)^\s*rating\s+([A-Z ]+?)\s*,\s*$`).FindStringSubmatch(schema)
	require.NotNil(t, ratingLine, "rating column not found in locations schema")
	assert.Equal(t, "DOUBLE PRECISION", ratingLine[1])
	assert.NotRegexp(t, `(?m)^\s*rating\s+.*NOT NULL`, schema, "rating must be nullable")
}

func TestRatingEncodesAsFloat8(t *testing.T) {
	m := pgtype.NewMap()
	rating := 4.5

	buf, err := m.Encode(pgtype.Float8OID, pgtype.BinaryFormatCode, &rating, nil)
	require.NoError(t, err)

	var scanned *float64
	require.NoError(t, m.Scan(pgtype.Float8OID, pgtype.BinaryFormatCode, buf, &scanned))
	require.NotNil(t, scanned)
	assert.Equal(t, 4.5, *scanned)

	// NULL round-trips to a nil pointer.
	var null *float64
	_, err = m.Encode(pgtype.Float8OID, pgtype.BinaryFormatCode, null, nil)
	require.NoError(t, err)
	require.NoError(t, m.Scan(pgtype.Float8OID, pgtype.BinaryFormatCode, nil, &scanned))
	assert.Nil(t, scanned)
}
