package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/OCAP2/breakage/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestCloseBeforeInit(t *testing.T) {
	b := New(Config{}, nil)
	assert.NoError(t, b.Close())
}

func TestInit_Unreachable(t *testing.T) {
	b := New(Config{DSN: "host=127.0.0.1 port=1 user=x password=x dbname=x sslmode=disable connect_timeout=1"}, nil)
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

// BREAKAGE_TEST_POSTGRES_DSN points at a disposable database.
func TestRoundTrip_LiveDatabase(t *testing.T) {
	dsn := os.Getenv("BREAKAGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BREAKAGE_TEST_POSTGRES_DSN not set")
	}

	b := New(Config{DSN: dsn}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	id, err := b.SaveSnapshot(context.Background(), "pg-roundtrip", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	data, err := b.LoadSnapshot(context.Background(), "pg-roundtrip")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}
