package database

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConnectRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client, err := ConnectRedis(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = ConnectRedis(context.Background(), "")
	require.Error(t, err)

	_, err = ConnectRedis(context.Background(), "://bad")
	require.ErrorContains(t, err, "parse redis url")
}

func TestConnectRequiresURLs(t *testing.T) {
	_, err := ConnectPostgres("", PoolConfig{})
	require.Error(t, err)

	_, err = ConnectNATS("", "gema", zerolog.Nop())
	require.Error(t, err)
}

func TestMigrateCreatesGradingTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, table := range []string{"grading_sessions", "rubric_criteria", "student_results", "evaluation_records"} {
		require.True(t, db.Migrator().HasTable(table), table)
	}
}
