package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"cluvrp/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies the *.sql files in dir in name order, each once, and
// records them in schema_migrations.
func (p *Postgres) MigrateDir(dir string) error {
	ctx := context.Background()
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return err
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		version := filepath.Base(f)
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}
		body, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logrus.WithField("version", version).Info("applied migration")
	}
	return nil
}

// Ledger

func (p *Postgres) BestDistance(ctx context.Context, key string, v model.Variant) (int, error) {
	var d int
	err := p.db.QueryRowContext(ctx, `SELECT distance FROM best_known WHERE key=$1 AND variant=$2`, key, string(v)).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultBestDistance, nil
	}
	return d, err
}

// RecordBest upserts the ledger row only when distance is strictly lower.
func (p *Postgres) RecordBest(ctx context.Context, key string, v model.Variant, distance int) (bool, error) {
	if distance >= DefaultBestDistance {
		return false, nil
	}
	res, err := p.db.ExecContext(ctx, `INSERT INTO best_known (key, variant, distance) VALUES ($1,$2,$3)
        ON CONFLICT (key, variant) DO UPDATE SET distance=EXCLUDED.distance, updated_at=now()
        WHERE best_known.distance > EXCLUDED.distance`, key, string(v), distance)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *Postgres) ListBest(ctx context.Context, v model.Variant) ([]model.LedgerEntry, error) {
	q := `SELECT key, variant, distance FROM best_known`
	args := []any{}
	if v != "" {
		q += ` WHERE variant=$1`
		args = append(args, string(v))
	}
	rows, err := p.db.QueryContext(ctx, q+` ORDER BY key, variant`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var variant string
		if err := rows.Scan(&e.Key, &variant, &e.Distance); err != nil {
			return nil, err
		}
		e.Variant = model.Variant(variant)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Solutions

func (p *Postgres) SaveSolution(ctx context.Context, key string, sol model.Solution) (bool, error) {
	routes, _ := json.Marshal(sol.Routes)
	tours, _ := json.Marshal(sol.Tours)
	res, err := p.db.ExecContext(ctx, `INSERT INTO solutions (key, variant, distance, routes, tours) VALUES ($1,$2,$3,$4::jsonb,$5::jsonb)
        ON CONFLICT (key, variant) DO UPDATE SET distance=EXCLUDED.distance, routes=EXCLUDED.routes, tours=EXCLUDED.tours, updated_at=now()
        WHERE solutions.distance > EXCLUDED.distance`, key, string(sol.Variant), sol.Distance, string(routes), string(tours))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *Postgres) GetSolution(ctx context.Context, key string, v model.Variant) (model.Solution, error) {
	sol := model.Solution{Variant: v}
	var routes, tours []byte
	err := p.db.QueryRowContext(ctx, `SELECT distance, routes, tours FROM solutions WHERE key=$1 AND variant=$2`, key, string(v)).Scan(&sol.Distance, &routes, &tours)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Solution{}, ErrNotFound
	}
	if err != nil {
		return model.Solution{}, err
	}
	if err := json.Unmarshal(routes, &sol.Routes); err != nil {
		return model.Solution{}, err
	}
	if err := json.Unmarshal(tours, &sol.Tours); err != nil {
		return model.Solution{}, err
	}
	return sol, nil
}

// Run metrics

func (p *Postgres) SaveRunMetrics(ctx context.Context, m model.RunMetrics) error {
	moves, _ := json.Marshal(m.MoveImprovements)
	_, err := p.db.ExecContext(ctx, `INSERT INTO run_metrics (id, run_id, key, variant, iterations, improvements, initial_distance, best_distance, elapsed_ms, stopped, move_improvements)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb)`,
		uuid.New(), nullIfEmpty(m.RunID), m.Key, string(m.Variant), m.Iterations, m.Improvements, m.InitialDistance, m.BestDistance, m.ElapsedMs, m.Stopped, string(moves))
	return err
}

func (p *Postgres) ListRunMetrics(ctx context.Context, key string, v model.Variant) ([]model.RunMetrics, error) {
	base := `SELECT COALESCE(run_id,''), key, variant, iterations, improvements, initial_distance, best_distance, elapsed_ms, stopped, move_improvements, created_at FROM run_metrics WHERE 1=1`
	args := []any{}
	if key != "" {
		args = append(args, key)
		base += fmt.Sprintf(` AND key=$%d`, len(args))
	}
	if v != "" {
		args = append(args, string(v))
		base += fmt.Sprintf(` AND variant=$%d`, len(args))
	}
	rows, err := p.db.QueryContext(ctx, base+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RunMetrics{}
	for rows.Next() {
		var m model.RunMetrics
		var variant string
		var moves []byte
		if err := rows.Scan(&m.RunID, &m.Key, &variant, &m.Iterations, &m.Improvements, &m.InitialDistance, &m.BestDistance, &m.ElapsedMs, &m.Stopped, &moves, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Variant = model.Variant(variant)
		_ = json.Unmarshal(moves, &m.MoveImprovements)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_subscriptions (id, url, events, secret) VALUES ($1,$2,$3::jsonb,$4)`, id, req.URL, string(ev), nullIfEmpty(req.Secret))
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	filter, _ := json.Marshal([]string{eventType})
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM webhook_subscriptions WHERE events @> $1::jsonb`, string(filter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if cursor != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM webhook_subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM webhook_subscriptions ORDER BY id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Subscription{}
	var last string
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, "", err
		}
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
		last = s.ID
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id::text=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id::text=$3`,
			nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id::text=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id::text=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status, cursor string, limit int) ([]map[string]any, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url, COALESCE(response_code,0) FROM webhook_deliveries WHERE 1=1`
	args := []any{}
	if status != "" {
		args = append(args, status)
		q += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	if cursor != "" {
		args = append(args, cursor)
		q += fmt.Sprintf(` AND id::text > $%d`, len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []map[string]any{}
	var last string
	for rows.Next() {
		var id, typ, st, lastErr, url string
		var attempts, code int
		var nextAt sql.NullTime
		if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url, &code); err != nil {
			return nil, "", err
		}
		m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
		if nextAt.Valid {
			m["nextAttemptAt"] = nextAt.Time
		}
		if lastErr != "" {
			m["lastError"] = lastErr
		}
		if code != 0 {
			m["responseCode"] = code
		}
		out = append(out, m)
		last = id
	}
	next := ""
	if len(out) == limit {
		next = last
	}
	return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE id::text=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// computeDedupKey prefers the event id carried in the payload and falls back
// to a short content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
