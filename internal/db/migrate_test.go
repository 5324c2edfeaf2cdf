package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/fotoko?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/fotoko?sslmode=disable"))
	require.Equal(t, "pgx5://db/fotoko", migrateURL("postgresql://db/fotoko"))
	require.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	var ups, downs int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	require.Positive(t, ups)
	require.Equal(t, ups, downs)
}
