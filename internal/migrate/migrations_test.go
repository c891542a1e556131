package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"civicops/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn))

	latest, err := Latest()
	require.NoError(t, err)
	got, err := Current(context.Background(), conn)
	require.NoError(t, err)
	require.Equal(t, latest, got)

	for _, table := range []string{"reports", "workers", "assignments", "events"} {
		var n int
		require.NoError(t, conn.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		require.Equal(t, 1, n, table)
	}
}

func TestWorkerCapCheck(t *testing.T) {
	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, Migrate(conn))

	_, err = conn.Exec(`INSERT INTO workers(id,district,department,daily_task_count,daily_cap,created_at) VALUES ('w','Karnal','Roads',4,3,'2024-01-01T00:00:00Z')`)
	require.Error(t, err)
}
