package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenSQL_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenSQL(context.Background(), "sqlite", dsn, time.Second)
	require.NoError(t, err)
	defer db.Close()

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	require.Equal(t, 1, one)
}

func TestOpenSQL_UnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "oracle", "x", time.Second)
	require.Error(t, err)
}
