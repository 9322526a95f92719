package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cluvrp/internal/model"
)

type ledgerKey struct {
	key     string
	variant model.Variant
}

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	best       map[ledgerKey]int
	solutions  map[ledgerKey]model.Solution
	runs       []model.RunMetrics
	subs       []model.Subscription
	deliveries map[string]*memDelivery // id -> delivery state
	order      []string                // delivery ids in enqueue order
}

func NewMemory() *Memory {
	return &Memory{
		best:       map[ledgerKey]int{},
		solutions:  map[ledgerKey]model.Solution{},
		deliveries: map[string]*memDelivery{},
	}
}

func (m *Memory) BestDistance(ctx context.Context, key string, v model.Variant) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.best[ledgerKey{key, v}]; ok {
		return d, nil
	}
	return DefaultBestDistance, nil
}

func (m *Memory) RecordBest(ctx context.Context, key string, v model.Variant, distance int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ledgerKey{key, v}
	cur, ok := m.best[k]
	if !ok {
		cur = DefaultBestDistance
	}
	if distance >= cur {
		if !ok {
			m.best[k] = cur
		}
		return false, nil
	}
	m.best[k] = distance
	return true, nil
}

func (m *Memory) ListBest(ctx context.Context, v model.Variant) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.LedgerEntry{}
	for k, d := range m.best {
		if v == "" || k.variant == v {
			out = append(out, model.LedgerEntry{Key: k.key, Variant: k.variant, Distance: d})
		}
	}
	sortLedger(out)
	return out, nil
}

func sortLedger(es []model.LedgerEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Key != es[j].Key {
			return es[i].Key < es[j].Key
		}
		return es[i].Variant < es[j].Variant
	})
}

func (m *Memory) SaveSolution(ctx context.Context, key string, sol model.Solution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ledgerKey{key, sol.Variant}
	if cur, ok := m.solutions[k]; ok && sol.Distance >= cur.Distance {
		return false, nil
	}
	m.solutions[k] = sol
	return true, nil
}

func (m *Memory) GetSolution(ctx context.Context, key string, v model.Variant) (model.Solution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sol, ok := m.solutions[ledgerKey{key, v}]
	if !ok {
		return model.Solution{}, ErrNotFound
	}
	return sol, nil
}

func (m *Memory) SaveRunMetrics(ctx context.Context, rm model.RunMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rm.CreatedAt.IsZero() {
		rm.CreatedAt = time.Now().UTC()
	}
	m.runs = append(m.runs, rm)
	return nil
}

func (m *Memory) ListRunMetrics(ctx context.Context, key string, v model.Variant) ([]model.RunMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.RunMetrics{}
	for _, rm := range m.runs {
		if (key == "" || rm.Key == key) && (v == "" || rm.Variant == v) {
			out = append(out, rm)
		}
	}
	return out, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if cursor != "" {
		for i := range m.subs {
			if m.subs[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(m.subs) {
		end = len(m.subs)
	}
	items := append([]model.Subscription{}, m.subs[start:end]...)
	next := ""
	if end < len(m.subs) {
		next = m.subs[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.subs))
	found := false
	for _, s := range m.subs {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		return ErrNotFound
	}
	m.subs = out
	return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dk := computeDedupKey(payload)
	for _, id := range m.order {
		d := m.deliveries[id]
		if d.EventType == eventType && d.URL == url && computeDedupKey(d.Payload) == dk {
			return d.ID, nil
		}
	}
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: StatusPending},
		NextAttemptAt:   time.Now(),
	}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if (d.Status == StatusPending || d.Status == StatusRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = StatusDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = StatusRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = StatusFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	start := 0
	if cursor != "" {
		for i, id := range m.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []map[string]any{}
	var last string
	for _, id := range m.order[start:] {
		d := m.deliveries[id]
		if status != "" && d.Status != status {
			continue
		}
		item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
		if !d.NextAttemptAt.IsZero() {
			item["nextAttemptAt"] = d.NextAttemptAt
		}
		if d.LastError != "" {
			item["lastError"] = d.LastError
		}
		if d.ResponseCode != 0 {
			item["responseCode"] = d.ResponseCode
		}
		out = append(out, item)
		last = id
		if len(out) == limit {
			break
		}
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = StatusPending
	d.NextAttemptAt = time.Now()
	return nil
}
