// Package ratelimit enforces per-caller RPM and daily/monthly token ceilings
// over a shared TTL-capable counter store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/mrmushfiq/llm-gateway/internal/shared/models"
)

// CounterStore is the shared counter backend. Increments must be atomic so
// concurrent requests from the same caller are each counted exactly once.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	// GetInt64 returns 0 for a missing key.
	GetInt64(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// LimitKind identifies which ceiling a violation hit.
type LimitKind string

const (
	LimitRPM     LimitKind = "rpm"
	LimitDaily   LimitKind = "daily"
	LimitMonthly LimitKind = "monthly"
)

// LimitExceededError reports the first violated limit in order
// RPM -> daily -> monthly.
type LimitExceededError struct {
	Kind    LimitKind
	Current int64
	Limit   int64
}

func (e *LimitExceededError) Error() string {
	switch e.Kind {
	case LimitRPM:
		return fmt.Sprintf("RPM limit exceeded: %d/%d", e.Current, e.Limit)
	case LimitDaily:
		return fmt.Sprintf("daily token limit exceeded: %d/%d", e.Current, e.Limit)
	default:
		return fmt.Sprintf("monthly token limit exceeded: %d/%d", e.Current, e.Limit)
	}
}

// Usage is a point-in-time view of a caller's consumption.
type Usage struct {
	RPMLimit               int64 `json:"rpm_limit"`
	CurrentRPM             int64 `json:"current_rpm"`
	DailyTokenLimit        int64 `json:"daily_token_limit"`
	DailyTokensUsed        int64 `json:"daily_tokens_used"`
	DailyTokensRemaining   int64 `json:"daily_tokens_remaining"`
	MonthlyTokenLimit      int64 `json:"monthly_token_limit"`
	MonthlyTokensUsed      int64 `json:"monthly_tokens_used"`
	MonthlyTokensRemaining int64 `json:"monthly_tokens_remaining"`
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock, for deterministic window keys in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithCounterTTLs overrides the daily/monthly counter expiry paddings.
func WithCounterTTLs(daily, monthly time.Duration) Option {
	return func(l *Limiter) {
		l.dailyTTL = daily
		l.monthlyTTL = monthly
	}
}

// Limiter tracks RPM, daily-token, and monthly-token counters per caller.
// Token ceilings are soft: they are checked against existing usage before the
// call and consumed after it, so a single oversized request can overshoot by
// at most one request's worth.
type Limiter struct {
	store  CounterStore
	prefix string
	now    func() time.Time

	// Paddings past the window boundary so late-arriving consume writes
	// for a boundary request still land before the counter expires.
	dailyTTL   time.Duration
	monthlyTTL time.Duration
}

// New creates a Limiter over the given counter store.
func New(store CounterStore, prefix string, opts ...Option) *Limiter {
	l := &Limiter{
		store:      store,
		prefix:     prefix,
		now:        time.Now,
		dailyTTL:   48 * time.Hour,
		monthlyTTL: 35 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) rpmKey(callerID string) string {
	return fmt.Sprintf("%s:rpm:%s", l.prefix, callerID)
}

func (l *Limiter) dailyKey(callerID string) string {
	return fmt.Sprintf("%s:daily:%s:%s", l.prefix, callerID, l.now().UTC().Format("2006-01-02"))
}

func (l *Limiter) monthlyKey(callerID string) string {
	return fmt.Sprintf("%s:monthly:%s:%s", l.prefix, callerID, l.now().UTC().Format("2006-01"))
}

// CheckAll verifies every limit before an upstream call, in order
// RPM -> daily -> monthly. The RPM counter is incremented here (the request
// that tips the limit still counts and is rejected); token counters are only
// read. A zero or negative limit disables that check.
func (l *Limiter) CheckAll(ctx context.Context, callerID string, limits models.QuotaLimits) error {
	if limits.RPM > 0 {
		if err := l.checkRPM(ctx, callerID, limits.RPM); err != nil {
			return err
		}
	}
	if limits.DailyTokens > 0 {
		if err := l.checkTokens(ctx, l.dailyKey(callerID), limits.DailyTokens, LimitDaily); err != nil {
			return err
		}
	}
	if limits.MonthlyTokens > 0 {
		if err := l.checkTokens(ctx, l.monthlyKey(callerID), limits.MonthlyTokens, LimitMonthly); err != nil {
			return err
		}
	}
	return nil
}

func (l *Limiter) checkRPM(ctx context.Context, callerID string, limit int64) error {
	key := l.rpmKey(callerID)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	// Expiry is set only on the first increment of a fresh window.
	if count == 1 {
		if err := l.store.Expire(ctx, key, time.Minute); err != nil {
			return fmt.Errorf("rate limit expire: %w", err)
		}
	}
	if count > limit {
		return &LimitExceededError{Kind: LimitRPM, Current: count, Limit: limit}
	}
	return nil
}

func (l *Limiter) checkTokens(ctx context.Context, key string, limit int64, kind LimitKind) error {
	used, err := l.store.GetInt64(ctx, key)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if used >= limit {
		return &LimitExceededError{Kind: kind, Current: used, Limit: limit}
	}
	return nil
}

// ConsumeTokens accounts tokens after a successful upstream response,
// incrementing the daily and monthly counters by the same delta.
func (l *Limiter) ConsumeTokens(ctx context.Context, callerID string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}

	dailyKey := l.dailyKey(callerID)
	if _, err := l.store.IncrBy(ctx, dailyKey, tokens); err != nil {
		return fmt.Errorf("consume daily tokens: %w", err)
	}
	if err := l.store.Expire(ctx, dailyKey, l.dailyTTL); err != nil {
		return fmt.Errorf("consume daily tokens: %w", err)
	}

	monthlyKey := l.monthlyKey(callerID)
	if _, err := l.store.IncrBy(ctx, monthlyKey, tokens); err != nil {
		return fmt.Errorf("consume monthly tokens: %w", err)
	}
	if err := l.store.Expire(ctx, monthlyKey, l.monthlyTTL); err != nil {
		return fmt.Errorf("consume monthly tokens: %w", err)
	}
	return nil
}

// UsageInfo reports current consumption against the caller's limits.
func (l *Limiter) UsageInfo(ctx context.Context, callerID string, limits models.QuotaLimits) (*Usage, error) {
	rpm, err := l.store.GetInt64(ctx, l.rpmKey(callerID))
	if err != nil {
		return nil, err
	}
	daily, err := l.store.GetInt64(ctx, l.dailyKey(callerID))
	if err != nil {
		return nil, err
	}
	monthly, err := l.store.GetInt64(ctx, l.monthlyKey(callerID))
	if err != nil {
		return nil, err
	}

	return &Usage{
		RPMLimit:               limits.RPM,
		CurrentRPM:             rpm,
		DailyTokenLimit:        limits.DailyTokens,
		DailyTokensUsed:        daily,
		DailyTokensRemaining:   remaining(limits.DailyTokens, daily),
		MonthlyTokenLimit:      limits.MonthlyTokens,
		MonthlyTokensUsed:      monthly,
		MonthlyTokensRemaining: remaining(limits.MonthlyTokens, monthly),
	}, nil
}

func remaining(limit, used int64) int64 {
	if limit <= 0 {
		return 0
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
