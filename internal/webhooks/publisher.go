package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cluvrp/internal/model"
	"cluvrp/internal/store"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit queues an event for every subscription to its type. Failures are
// logged; callers never block on delivery.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		logrus.WithError(err).WithField("event", eventType).Warn("webhook subscriptions lookup failed")
		return
	}
	if len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		if _, err := p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"event": eventType, "subscription": s.ID}).Warn("webhook enqueue failed")
		}
	}
}

// SolutionImproved announces a new best distance for a run.
func (p *Publisher) SolutionImproved(ctx context.Context, run model.Run, iteration, distance int) {
	p.Emit(ctx, model.EventSolutionImproved, map[string]any{
		"runId":     run.ID,
		"key":       run.Key,
		"variant":   run.Variant,
		"iteration": iteration,
		"distance":  distance,
	})
}

// RunCompleted announces a finished run with its final status.
func (p *Publisher) RunCompleted(ctx context.Context, run model.Run) {
	data := map[string]any{
		"runId":        run.ID,
		"key":          run.Key,
		"variant":      run.Variant,
		"status":       run.Status,
		"bestDistance": run.BestDistance,
		"iterations":   run.Completed,
	}
	if run.Error != "" {
		data["error"] = run.Error
	}
	p.Emit(ctx, model.EventRunCompleted, data)
}
