package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"cluvrp/internal/metrics"
	"cluvrp/internal/store"
)

// DefaultMaxAttempts is the delivery budget before a webhook is failed.
const DefaultMaxAttempts = 10

type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Stop        chan struct{}
	MaxAttempts int
	Interval    time.Duration
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Worker{
		Store:       s,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		Stop:        make(chan struct{}),
		MaxAttempts: maxAttempts,
		Interval:    time.Second,
	}
}

func (w *Worker) Start() {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		logrus.WithError(err).Warn("fetch due webhooks")
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	log := logrus.WithFields(logrus.Fields{"delivery": it.ID, "event": it.EventType, "attempt": it.Attempts + 1})
	success := false
	next := time.Now().Add(nextBackoff(it.Attempts))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		w.finish(ctx, log, it, false, err.Error(), 0, 0, next)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventTypeHeader, it.EventType)
	if it.Secret != "" {
		req.Header.Set(SignatureHeader, SignHMAC(it.Secret, it.Payload))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	latency := int(time.Since(start).Milliseconds())
	code := 0
	if err == nil && resp != nil {
		code = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		if code >= 200 && code < 300 {
			success = true
		}
	}
	lastErr := ""
	switch {
	case err != nil:
		lastErr = err.Error()
	case !success:
		lastErr = http.StatusText(code)
	}
	w.finish(ctx, log, it, success, lastErr, code, latency, next)
}

func (w *Worker) finish(ctx context.Context, log *logrus.Entry, it store.WebhookDelivery, success bool, lastErr string, code, latency int, next time.Time) {
	if !success && it.Attempts+1 >= w.MaxAttempts {
		metrics.ObserveDelivery(it.EventType, store.StatusFailed, latency)
		log.WithField("code", code).Warn("webhook delivery failed permanently: " + lastErr)
		if err := w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency); err != nil {
			log.WithError(err).Error("mark webhook failed")
		}
		return
	}
	status := store.StatusDelivered
	if !success {
		status = store.StatusRetry
		log.WithField("code", code).Debug("webhook delivery will be retried")
	}
	metrics.ObserveDelivery(it.EventType, status, latency)
	if err := w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency); err != nil {
		log.WithError(err).Error("mark webhook delivery")
	}
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
