package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_BasicTokenLimit(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeToken, Window: WindowMinute, Limit: 100}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()

	// First request: 50 tokens - should be allowed
	result, err := limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 50, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected request to be allowed")
	}

	usage := result.GetUsage(LimitTypeToken, WindowMinute)
	if usage == nil {
		t.Fatal("expected token usage to be present")
	}
	if usage.Current != 50 {
		t.Errorf("expected current usage to be 50, got %d", usage.Current)
	}
	if usage.Remaining != 50 {
		t.Errorf("expected remaining to be 50, got %d", usage.Remaining)
	}

	// Second request: 40 tokens - should be allowed (total 90)
	result, err = limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 40, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected request to be allowed")
	}

	usage = result.GetUsage(LimitTypeToken, WindowMinute)
	if usage.Current != 90 {
		t.Errorf("expected current usage to be 90, got %d", usage.Current)
	}

	// Third request: 20 tokens - should be denied (would exceed limit)
	result, err = limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 20, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected request to be denied")
	}
	if result.RetryAfter == nil {
		t.Errorf("expected retry_after to be set")
	}
}

func TestRateLimiter_BasicCountLimit(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeCount, Window: WindowMinute, Limit: 5}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		result, err := limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 0, 1)
		if err != nil {
			t.Fatalf("unexpected error on request %d: %v", i, err)
		}
		if !result.Allowed {
			t.Errorf("expected request %d to be allowed", i)
		}

		usage := result.GetUsage(LimitTypeCount, WindowMinute)
		if usage.Current != int64(i) {
			t.Errorf("expected current usage to be %d, got %d", i, usage.Current)
		}
	}

	result, err := limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected 6th request to be denied")
	}
}

func TestRateLimiter_MultiLayerLimits(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits: []LimitRule{
			{Type: LimitTypeToken, Window: WindowMinute, Limit: 100},
			{Type: LimitTypeToken, Window: WindowDay, Limit: 1000},
			{Type: LimitTypeCount, Window: WindowMinute, Limit: 10},
		},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()

	result, err := limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 50, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected request to be allowed")
	}

	if len(result.Usages) != 3 {
		t.Errorf("expected 3 usage records, got %d", len(result.Usages))
	}

	tokenMinute := result.GetUsage(LimitTypeToken, WindowMinute)
	if tokenMinute == nil || tokenMinute.Current != 50 {
		t.Errorf("expected token/minute usage to be 50")
	}

	tokenDay := result.GetUsage(LimitTypeToken, WindowDay)
	if tokenDay == nil || tokenDay.Current != 50 {
		t.Errorf("expected token/day usage to be 50")
	}

	countMinute := result.GetUsage(LimitTypeCount, WindowMinute)
	if countMinute == nil || countMinute.Current != 5 {
		t.Errorf("expected count/minute usage to be 5")
	}
}

func TestRateLimiter_SeparateAgentKinds(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeCount, Window: WindowMinute, Limit: 5}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 0, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// A different agent kind should still have full quota.
	result, err := limiter.CheckAndRecord(ctx, ScopeAgentKind, "reviewer", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected reviewer to be allowed (separate quota)")
	}

	// developer should now be blocked.
	result, err = limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected developer to be blocked")
	}
}

func TestRateLimiter_GlobalScopeSharesQuotaAcrossKinds(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeCount, Window: WindowMinute, Limit: 10}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()

	// Ten requests against the single global identifier, regardless of
	// which agent kind issued them, should share one quota.
	for i := 0; i < 10; i++ {
		_, err := limiter.CheckAndRecord(ctx, ScopeGlobal, "all", 0, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := limiter.CheckAndRecord(ctx, ScopeGlobal, "all", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected global quota to be exhausted after 10 requests")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeCount, Window: WindowMinute, Limit: 5}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 0, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected to be blocked")
	}

	if err := limiter.Reset(ctx, ScopeAgentKind, "developer"); err != nil {
		t.Fatalf("failed to reset: %v", err)
	}

	result, err = limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected to be allowed after reset")
	}
}

func TestRateLimiter_DisabledConfig(t *testing.T) {
	cfg := &Config{Enabled: false}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		result, err := limiter.CheckAndRecord(ctx, ScopeAgentKind, "developer", 1000000, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Allowed {
			t.Errorf("expected to be allowed when rate limiting is disabled")
		}
	}
}

func TestMemoryStore_WindowExpiration(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	windowEnd := time.Now().Add(100 * time.Millisecond)
	err := store.SetUsage(ctx, ScopeAgentKind, "developer", LimitTypeCount, WindowMinute, 100, windowEnd)
	if err != nil {
		t.Fatalf("failed to set usage: %v", err)
	}

	amount, _, err := store.GetUsage(ctx, ScopeAgentKind, "developer", LimitTypeCount, WindowMinute)
	if err != nil {
		t.Fatalf("failed to get usage: %v", err)
	}
	if amount != 100 {
		t.Errorf("expected amount to be 100, got %d", amount)
	}

	time.Sleep(150 * time.Millisecond)

	amount, newWindowEnd, err := store.GetUsage(ctx, ScopeAgentKind, "developer", LimitTypeCount, WindowMinute)
	if err != nil {
		t.Fatalf("failed to get usage: %v", err)
	}
	if amount != 0 {
		t.Errorf("expected amount to be 0 after expiration, got %d", amount)
	}
	if !newWindowEnd.After(time.Now()) {
		t.Errorf("expected new window end to be in the future")
	}
}

func TestNewRateLimiter_RejectsInvalidLimits(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     &Config{Enabled: true, Limits: []LimitRule{{Type: LimitTypeToken, Window: WindowDay, Limit: 1000}}},
			wantErr: false,
		},
		{
			name:    "disabled config with no limits",
			cfg:     &Config{Enabled: false},
			wantErr: false,
		},
		{
			name:    "missing limit type",
			cfg:     &Config{Enabled: true, Limits: []LimitRule{{Window: WindowDay, Limit: 1000}}},
			wantErr: true,
		},
		{
			name:    "missing window",
			cfg:     &Config{Enabled: true, Limits: []LimitRule{{Type: LimitTypeToken, Limit: 1000}}},
			wantErr: true,
		},
		{
			name:    "zero limit",
			cfg:     &Config{Enabled: true, Limits: []LimitRule{{Type: LimitTypeToken, Window: WindowDay, Limit: 0}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRateLimiter(tt.cfg, NewMemoryStore())
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRateLimiter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
