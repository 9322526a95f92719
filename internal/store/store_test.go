package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluvrp/internal/config"
	"cluvrp/internal/model"
)

// ledgerContract runs the ledger and solution behaviour every Store shares.
func ledgerContract(t *testing.T, s Store) {
	ctx := context.Background()

	d, err := s.BestDistance(ctx, "A", model.Strong)
	require.NoError(t, err)
	assert.Equal(t, DefaultBestDistance, d)

	improved, err := s.RecordBest(ctx, "A", model.Strong, 800)
	require.NoError(t, err)
	assert.True(t, improved)
	improved, err = s.RecordBest(ctx, "A", model.Strong, 800)
	require.NoError(t, err)
	assert.False(t, improved, "equal distance must not replace")
	improved, err = s.RecordBest(ctx, "A", model.Strong, 900)
	require.NoError(t, err)
	assert.False(t, improved)

	d, err = s.BestDistance(ctx, "A", model.Strong)
	require.NoError(t, err)
	assert.Equal(t, 800, d)
	d, err = s.BestDistance(ctx, "A", model.Weak)
	require.NoError(t, err)
	assert.Equal(t, DefaultBestDistance, d, "variants are independent")

	_, err = s.GetSolution(ctx, "A", model.Strong)
	assert.ErrorIs(t, err, ErrNotFound)

	sol := model.Solution{Variant: model.Strong, Distance: 50, Routes: [][]int{{0}}, Tours: [][]int{{1, 2}}}
	saved, err := s.SaveSolution(ctx, "A", sol)
	require.NoError(t, err)
	assert.True(t, saved)

	worse := sol
	worse.Distance = 60
	worse.Tours = [][]int{{2, 1}}
	saved, err = s.SaveSolution(ctx, "A", worse)
	require.NoError(t, err)
	assert.False(t, saved)

	got, err := s.GetSolution(ctx, "A", model.Strong)
	require.NoError(t, err)
	assert.Equal(t, sol, got)
}

func TestMemoryLedger(t *testing.T) {
	ledgerContract(t, NewMemory())
}

func TestFileLedger(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	require.NoError(t, err)
	ledgerContract(t, f)

	body, err := os.ReadFile(filepath.Join(dir, "best_we_found_strong.txt"))
	require.NoError(t, err)
	assert.Equal(t, "A 800\nB 10000\nC 10000\nD 10000\nE 10000\nF 10000\nG 10000\nH 10000\nI 10000\nJ 10000\nK 10000\n", string(body))

	body, err = os.ReadFile(filepath.Join(dir, "A_StrongSolution.txt"))
	require.NoError(t, err)
	assert.Equal(t, "50\n1\n2 3\n", string(body))
}

func TestFileLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f, err := NewFile(dir)
	require.NoError(t, err)
	_, err = f.RecordBest(ctx, "Z", model.Weak, 123)
	require.NoError(t, err)

	again, err := NewFile(dir)
	require.NoError(t, err)
	d, err := again.BestDistance(ctx, "Z", model.Weak)
	require.NoError(t, err)
	assert.Equal(t, 123, d)

	entries, err := again.ListBest(ctx, model.Weak)
	require.NoError(t, err)
	assert.Len(t, entries, len(SeedKeys)+1)
	all, err := again.ListBest(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2*len(SeedKeys)+1)
}

func TestFileLedgerRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "best_we_found_strong.txt"), []byte("A ten\n"), 0o644))
	f, err := NewFile(dir)
	require.NoError(t, err)
	_, err = f.BestDistance(context.Background(), "A", model.Strong)
	assert.Error(t, err)
}

func TestMemoryListBest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.RecordBest(ctx, "B", model.Weak, 5)
	_, _ = m.RecordBest(ctx, "A", model.Strong, 7)
	_, _ = m.RecordBest(ctx, "A", model.Weak, 6)
	all, err := m.ListBest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []model.LedgerEntry{
		{Key: "A", Variant: model.Strong, Distance: 7},
		{Key: "A", Variant: model.Weak, Distance: 6},
		{Key: "B", Variant: model.Weak, Distance: 5},
	}, all)
	weak, err := m.ListBest(ctx, model.Weak)
	require.NoError(t, err)
	assert.Len(t, weak, 2)
}

func TestMemoryRunMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveRunMetrics(ctx, model.RunMetrics{RunID: "r1", Key: "A", Variant: model.Strong, BestDistance: 10}))
	require.NoError(t, m.SaveRunMetrics(ctx, model.RunMetrics{RunID: "r2", Key: "A", Variant: model.Weak, BestDistance: 9}))
	require.NoError(t, m.SaveRunMetrics(ctx, model.RunMetrics{RunID: "r3", Key: "B", Variant: model.Strong}))

	got, err := m.ListRunMetrics(ctx, "A", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].CreatedAt.IsZero())
	got, err = m.ListRunMetrics(ctx, "", model.Strong)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemorySubscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, err := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://a", Events: []string{model.EventRunCompleted}})
	require.NoError(t, err)
	_, err = m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://b", Events: []string{model.EventSolutionImproved, model.EventRunCompleted}})
	require.NoError(t, err)

	subs, err := m.GetSubscriptionsForEvent(ctx, model.EventSolutionImproved)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "http://b", subs[0].URL)

	page, next, err := m.ListSubscriptions(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, a.ID, next)
	page, next, err = m.ListSubscriptions(ctx, next, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Empty(t, next)

	require.NoError(t, m.DeleteSubscription(ctx, a.ID))
	assert.ErrorIs(t, m.DeleteSubscription(ctx, a.ID), ErrNotFound)
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	payload := []byte(`{"id":"evt_1","type":"run.completed"}`)
	id, err := m.EnqueueWebhook(ctx, "sub", model.EventRunCompleted, "http://x", "s", payload)
	require.NoError(t, err)
	dup, err := m.EnqueueWebhook(ctx, "sub", model.EventRunCompleted, "http://x", "s", payload)
	require.NoError(t, err)
	assert.Equal(t, id, dup, "same event id is enqueued once")

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	items, _, err := m.ListWebhookDeliveries(ctx, StatusRetry, "", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "boom", items[0]["lastError"])

	require.NoError(t, m.RetryWebhookDelivery(ctx, id))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "gone", 410, 1))
	items, _, err = m.ListWebhookDeliveries(ctx, StatusFailed, "", 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.ErrorIs(t, m.RetryWebhookDelivery(ctx, "missing"), ErrNotFound)
}

func TestOpen(t *testing.T) {
	cfg := config.Default()
	s, err := Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	cfg.Store.Kind = "file"
	cfg.Store.Dir = t.TempDir()
	s, err = Open(cfg)
	require.NoError(t, err)
	f, ok := s.(*File)
	require.True(t, ok)
	assert.Equal(t, cfg.Store.Dir, f.Dir())

	cfg.Store.Kind = "tape"
	_, err = Open(cfg)
	assert.Error(t, err)
}
