package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectMongo_BadURI(t *testing.T) {
	_, err := ConnectMongo(context.Background(), "notmongo://localhost", time.Second, 1)
	require.ErrorContains(t, err, "mongo connect")
}

func TestConnectMongo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ConnectMongo(ctx, "notmongo://localhost", time.Second, 3)
	require.ErrorIs(t, err, context.Canceled)
}
