package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/grc-api/pkg/observability"
)

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()
	require.Len(t, migrations, 4)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "migrations must be ordered and contiguous")
		assert.NotEmpty(t, m.Description)
	}
	assert.Contains(t, migrations[2].SQL, RoleNameConstraint)
	assert.Contains(t, migrations[2].SQL, "UNIQUE (organization_id, name)")
	assert.Contains(t, migrations[3].SQL, "audit_logs")
}

func TestRunMigrations(t *testing.T) {
	t.Run("applies pending migrations only", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations ORDER BY version")).
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2).AddRow(4))

		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS organization_roles").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs(3, "Create organization_roles table").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, RunMigrations(context.Background(), db, observability.NopLogger()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back a failed migration", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}))
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS api_keys").WillReturnError(errors.New("syntax error"))
		mock.ExpectRollback()

		err = RunMigrations(context.Background(), db, observability.NopLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to execute migration 1")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConnectionManager_Replica(t *testing.T) {
	primary, _, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()

	t.Run("falls back to primary", func(t *testing.T) {
		cm := NewConnectionManagerFromDB(primary, observability.NopLogger())
		assert.Same(t, primary, cm.Replica())
	})

	t.Run("round robins replicas", func(t *testing.T) {
		r1, _, err := sqlmock.New()
		require.NoError(t, err)
		r2, _, err := sqlmock.New()
		require.NoError(t, err)

		cm := NewConnectionManagerFromDB(primary, observability.NopLogger(), r1, r2)
		first := cm.Replica()
		second := cm.Replica()
		assert.NotSame(t, first, second)
		assert.Same(t, first, cm.Replica())
	})

	t.Run("drops unhealthy replicas", func(t *testing.T) {
		r1, mock1, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		mock1.ExpectPing().WillReturnError(errors.New("down"))
		mock1.ExpectClose()

		cm := NewConnectionManagerFromDB(primary, observability.NopLogger(), r1)
		assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
		assert.Same(t, primary, cm.Replica())
	})
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewRedisClient(context.Background(), RedisOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = NewRedisClient(context.Background(), RedisOptions{URL: "not a url"})
	assert.Error(t, err)
}
