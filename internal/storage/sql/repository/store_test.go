package repository_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/jobengine/internal/core"
	"github.com/rezkam/jobengine/internal/domain"
	sqlstorage "github.com/rezkam/jobengine/internal/storage/sql"
	"github.com/rezkam/jobengine/internal/storage/compliance"
)

func TestSQLiteStore_Compliance(t *testing.T) {
	compliance.RunStateStoreComplianceTest(t, func() (core.StateStore, func()) {
		dir := t.TempDir()
		store, err := sqlstorage.NewSQLiteStore(context.Background(), dir+"/state.db")
		require.NoError(t, err)
		return store, func() { store.Close() }
	})
}

func TestPostgresStore_Compliance(t *testing.T) {
	pgURL := os.Getenv("TEST_POSTGRES_URL")
	if pgURL == "" {
		t.Skip("TEST_POSTGRES_URL not set, skipping PostgreSQL tests")
	}

	compliance.RunStateStoreComplianceTest(t, func() (core.StateStore, func()) {
		ctx := context.Background()
		store, err := sqlstorage.NewPostgresStore(ctx, pgURL)
		require.NoError(t, err)

		cleanup := func() {
			db, err := sql.Open("pgx", pgURL)
			if err == nil {
				db.Exec("TRUNCATE TABLE jobs, results, dead_letters")
				db.Close()
			}
			store.Close()
		}
		return store, cleanup
	})
}

func TestSQLiteStore_SaveResultRejectsDuplicate(t *testing.T) {
	dir := t.TempDir()
	store, err := sqlstorage.NewSQLiteStore(context.Background(), dir+"/state.db")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	result, err := domain.NewSuccessResult("job-dup", "first", now, now)
	require.NoError(t, err)
	require.NoError(t, store.SaveResult(ctx, result))

	second, err := domain.NewSuccessResult("job-dup", "second", now, now)
	require.NoError(t, err)
	err = store.SaveResult(ctx, second)
	assert.ErrorIs(t, err, domain.ErrResultExists)
}
