package store

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDedupKey(t *testing.T) {
	assert.Equal(t, "evt_123", computeDedupKey([]byte(`{"id":"evt_123","type":"run.completed"}`)))

	got := computeDedupKey([]byte(`{"notId":"x"}`))
	b, err := hex.DecodeString(got)
	require.NoError(t, err)
	assert.Len(t, b, 8)
	assert.Equal(t, got, computeDedupKey([]byte(`{"notId":"x"}`)), "hash fallback is stable")
	assert.NotEqual(t, got, computeDedupKey([]byte(`{"notId":"y"}`)))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Nil(t, nullIfEmpty("  "))
	assert.Equal(t, "x", nullIfEmpty("x"))
}

func TestMigrationsCoverTheSchema(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "db", "migrations", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	require.True(t, sort.StringsAreSorted(files))

	var all string
	for _, f := range files {
		b, err := os.ReadFile(f)
		require.NoError(t, err)
		all += string(b)
	}
	for _, table := range []string{"best_known", "solutions", "run_metrics", "webhook_subscriptions", "webhook_deliveries"} {
		assert.Contains(t, all, "CREATE TABLE IF NOT EXISTS "+table, table)
	}
}
