package nestedset

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nestedsync/nestedsync/internal/storage"
)

func departmentsDestination() Destination {
	return Destination{
		Name: "departments",
		Table: TableConfig{
			Name:        "departments",
			PKColumn:    "id",
			LeftColumn:  "lft",
			RightColumn: "rgt",
		},
		Log: LogTableConfig{
			Name:            "departments_log",
			PKColumn:        "log_id",
			OperationColumn: "op",
		},
		Offset: OffsetTableConfig{
			Name:           "sync_offsets",
			LogTableColumn: "log_table_name",
			OffsetColumn:   "offset_value",
		},
		Ops: OperationCodes{Upsert: 0, Delete: 1},
	}
}

// setupSynchronizerTestDatabase starts a PostgreSQL container, applies every
// migration, and returns a ready storage.Connection.
func setupSynchronizerTestDatabase(ctx context.Context, t *testing.T) (*pgcontainer.PostgresContainer, *storage.Connection) {
	t.Helper()

	container, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("nestedsync_test"),
		pgcontainer.WithUsername("test"),
		pgcontainer.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "failed to open database")

	require.NoError(t, runSynchronizerTestMigrations(db), "failed to run test migrations")

	conn := &storage.Connection{DB: db}

	return container, conn
}

func runSynchronizerTestMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func TestSynchronizerAppliesInsertsUpdatesAndDeletes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupSynchronizerTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(container)
	})

	dest := departmentsDestination()

	_, err := conn.ExecContext(ctx,
		`INSERT INTO departments (id, lft, rgt, name) VALUES (1, 1, 2, 'engineering')`)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx,
		`INSERT INTO departments_log (op, id, lft, rgt, name) VALUES
			(0, 1, 1, 4, 'engineering'),
			(0, 2, 2, 3, 'platform'),
			(0, 3, 5, 6, 'sales')`)
	require.NoError(t, err)

	synchronizer := NewSynchronizer(conn)

	report, err := synchronizer.Synchronize(ctx, dest)
	require.NoError(t, err)
	require.True(t, report.Synced)
	require.Equal(t, int64(0), report.PreviousOffset)
	require.Equal(t, int64(3), report.NewOffset)
	require.Equal(t, 2, report.Inserted)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 0, report.Deleted)

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM departments`).Scan(&count))
	require.Equal(t, 3, count)

	_, err = conn.ExecContext(ctx,
		`INSERT INTO departments_log (op, id, lft, rgt, name) VALUES (1, 2, NULL, NULL, NULL)`)
	require.NoError(t, err)

	report, err = synchronizer.Synchronize(ctx, dest)
	require.NoError(t, err)
	require.True(t, report.Synced)
	require.Equal(t, int64(3), report.PreviousOffset)
	require.Equal(t, int64(4), report.NewOffset)
	require.Equal(t, 1, report.Deleted)

	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM departments`).Scan(&count))
	require.Equal(t, 2, count)

	var offset int64
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT offset_value FROM sync_offsets WHERE log_table_name = 'departments_log'`).Scan(&offset))
	require.Equal(t, int64(4), offset)
}

func TestSynchronizerSkipsCycleOnInvalidForest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupSynchronizerTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(container)
	})

	dest := departmentsDestination()

	_, err := conn.ExecContext(ctx,
		`INSERT INTO departments_log (op, id, lft, rgt, name) VALUES
			(0, 1, 1, 3, 'engineering'),
			(0, 2, 2, 4, 'overlapping')`)
	require.NoError(t, err)

	synchronizer := NewSynchronizer(conn)

	report, err := synchronizer.Synchronize(ctx, dest)
	require.NoError(t, err)
	require.False(t, report.Synced)

	var count int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM departments`).Scan(&count))
	require.Equal(t, 0, count)

	var offsetRows int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT count(*) FROM sync_offsets WHERE log_table_name = 'departments_log'`).Scan(&offsetRows))
	require.Equal(t, 0, offsetRows)
}
