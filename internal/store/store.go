package store

import (
	"context"
	"errors"
	"time"

	"cluvrp/internal/model"
)

// DefaultBestDistance is the ledger value of a key nothing has been recorded
// for yet.
const DefaultBestDistance = 10000

// Store is the persistence interface used by the CLI and the API server.
type Store interface {
	// Best-known ledger, one entry per instance key and variant.
	BestDistance(ctx context.Context, key string, v model.Variant) (int, error)
	RecordBest(ctx context.Context, key string, v model.Variant, distance int) (improved bool, err error)
	ListBest(ctx context.Context, v model.Variant) ([]model.LedgerEntry, error)

	// Best solutions, replaced only by strictly shorter ones.
	SaveSolution(ctx context.Context, key string, sol model.Solution) (saved bool, err error)
	GetSolution(ctx context.Context, key string, v model.Variant) (model.Solution, error)

	// Run metrics
	SaveRunMetrics(ctx context.Context, m model.RunMetrics) error
	ListRunMetrics(ctx context.Context, key string, v model.Variant) ([]model.RunMetrics, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error)
	RetryWebhookDelivery(ctx context.Context, id string) error
}

var ErrNotFound = errors.New("not found")
