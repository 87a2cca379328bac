// Package database is the Postgres access layer: caller keys, routing
// configuration and usage records.
package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New opens a connection pool and verifies connectivity.
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// VerifyKey looks up an active API key by the SHA-256 of its raw value and
// returns it with the quota resolved from its assigned template. A nil key
// with nil error means the key is unknown.
func (db *DB) VerifyKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])

	query := `
		SELECT k.id, k.key_hash, k.name,
		       COALESCE(q.rpm_limit, 0),
		       COALESCE(q.daily_token_limit, 0),
		       COALESCE(q.monthly_token_limit, 0),
		       k.cache_enabled, k.cache_ttl_seconds,
		       k.is_active, k.last_used_at, k.created_at
		FROM api_keys k
		LEFT JOIN quota_templates q ON q.id = k.quota_template_id
		WHERE k.key_hash = $1
	`

	var (
		apiKey   models.APIKey
		cacheTTL int64
	)
	err := db.conn.QueryRowContext(ctx, query, keyHash).Scan(
		&apiKey.ID,
		&apiKey.KeyHash,
		&apiKey.Name,
		&apiKey.Quota.RPM,
		&apiKey.Quota.DailyTokens,
		&apiKey.Quota.MonthlyTokens,
		&apiKey.CacheEnabled,
		&cacheTTL,
		&apiKey.Active,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	apiKey.CacheTTL = time.Duration(cacheTTL) * time.Second

	if apiKey.Active {
		// Best effort; a failed stamp must not block the request.
		_ = db.touchKey(ctx, apiKey.ID)
	}

	return &apiKey, nil
}

func (db *DB) touchKey(ctx context.Context, keyID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, keyID)
	return err
}

const modelColumns = `
	id, provider_id, name, model_type, max_tokens, max_context,
	input_cost_per_1k, output_cost_per_1k,
	supports_streaming, supports_tools, supports_vision,
	priority, is_enabled
`

func (db *DB) scanModel(row *sql.Row) (*models.ModelConfig, error) {
	var m models.ModelConfig
	err := row.Scan(
		&m.ID,
		&m.ProviderID,
		&m.Name,
		&m.Type,
		&m.MaxTokens,
		&m.MaxContext,
		&m.InputCostPer1K,
		&m.OutputCostPer1K,
		&m.SupportsStreaming,
		&m.SupportsTools,
		&m.SupportsVision,
		&m.Priority,
		&m.Enabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &m, nil
}

// ModelByName looks up a model by its public name. Nil means not found.
func (db *DB) ModelByName(ctx context.Context, name string) (*models.ModelConfig, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE name = $1`
	return db.scanModel(db.conn.QueryRowContext(ctx, query, name))
}

// Model looks up a model by ID. Nil means not found.
func (db *DB) Model(ctx context.Context, id int64) (*models.ModelConfig, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = $1`
	return db.scanModel(db.conn.QueryRowContext(ctx, query, id))
}

// Provider looks up a provider by ID. Nil means not found.
func (db *DB) Provider(ctx context.Context, id int64) (*models.Provider, error) {
	query := `
		SELECT id, name, kind, COALESCE(base_url, ''), credential_ref, is_enabled
		FROM providers
		WHERE id = $1
	`

	var p models.Provider
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Kind,
		&p.BaseURL,
		&p.CredentialRef,
		&p.Enabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &p, nil
}

// GroupByType returns the fallback group for a model type. Nil means no
// group is configured.
func (db *DB) GroupByType(ctx context.Context, modelType string) (*models.ModelGroup, error) {
	query := `
		SELECT id, name, model_type, model_ids, fallback_enabled,
		       retry_count, timeout_seconds, is_enabled
		FROM model_groups
		WHERE model_type = $1
	`

	var (
		g       models.ModelGroup
		ids     pq.Int64Array
		timeout int64
	)
	err := db.conn.QueryRowContext(ctx, query, modelType).Scan(
		&g.ID,
		&g.Name,
		&g.Type,
		&ids,
		&g.FallbackEnabled,
		&g.RetryCount,
		&timeout,
		&g.Enabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	g.ModelIDs = []int64(ids)
	g.Timeout = time.Duration(timeout) * time.Second

	return &g, nil
}

// Record inserts a usage record. Satisfies the usage sink interface.
func (db *DB) Record(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			request_id, api_key_id, model_id, provider_id, model_name,
			input_tokens, output_tokens, total_tokens,
			input_cost, output_cost, total_cost,
			latency_ms, status, is_streaming, is_estimated,
			error_message, ip_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := db.conn.ExecContext(ctx, query,
		rec.RequestID,
		rec.CallerID,
		rec.ModelID,
		rec.ProviderID,
		rec.ModelName,
		rec.InputTokens,
		rec.OutputTokens,
		rec.TotalTokens,
		rec.InputCost,
		rec.OutputCost,
		rec.TotalCost,
		rec.LatencyMs,
		string(rec.Status),
		rec.Streaming,
		rec.Estimated,
		rec.ErrorMessage,
		rec.IPAddress,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}
