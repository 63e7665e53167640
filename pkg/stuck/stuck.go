// Package stuck implements the Stuck Detector: a pure function of an agent's
// progress snapshot that flags the eight ways an autonomous agent can stop
// making forward progress.
package stuck

import (
	"time"

	"github.com/hanibalsk/orchestrate/pkg/config"
)

// Type identifies one of the eight categorical stuck kinds.
type Type string

const (
	TurnLimit    Type = "turn_limit"
	ContextLimit Type = "context_limit"
	NoProgress   Type = "no_progress"
	CiTimeout    Type = "ci_timeout"
	ReviewDelay  Type = "review_delay"
	MergeConflict Type = "merge_conflict"
	RateLimit    Type = "rate_limit"
	ErrorLoop    Type = "error_loop"
)

// Severity ranks how urgently a detection needs intervention, lowest first.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection is one emitted stuck finding.
type Detection struct {
	AgentID   string
	Type      Type
	Severity  Severity
	Details   map[string]any
	DetectedAt time.Time
}

// Progress is a point-in-time snapshot of an agent's run, handed to Check by
// the controller or a periodic watchdog task.
type Progress struct {
	TurnCount           int
	MaxTurns            int
	TokenCount          int64
	MaxTokens           int64
	LastMeaningfulOutput time.Time // zero value means "no output yet"
	RecentErrorCount    int
	LastCIUpdate        time.Time
	LastReviewUpdate    time.Time
	HasMergeConflicts   bool
	RateLimitedUntil    time.Time
}

// TurnPercentage returns the fraction of max_turns consumed, as a percentage.
func (p Progress) TurnPercentage() float64 {
	if p.MaxTurns == 0 {
		return 0
	}
	return float64(p.TurnCount) / float64(p.MaxTurns) * 100
}

// TokenPercentage returns the fraction of max_tokens consumed, as a percentage.
func (p Progress) TokenPercentage() float64 {
	if p.MaxTokens == 0 {
		return 0
	}
	return float64(p.TokenCount) / float64(p.MaxTokens) * 100
}

// Detector evaluates Progress snapshots against configured thresholds. It
// holds no mutable state of its own: every Check call is a pure function of
// its inputs, so it may be shared across agents and invoked concurrently.
type Detector struct {
	cfg config.StuckConfig
}

// NewDetector builds a Detector from the Stuck Detector's configured
// thresholds (spec defaults: turn 80%, token 85%, no-progress 5 min, CI
// 30 min, review 60 min, errors 3).
func NewDetector(cfg config.StuckConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Check runs every rule against progress and returns all triggered
// detections, in rule order. An agent can be stuck in more than one way at
// once; all applicable detections are returned, not just the first.
func (d *Detector) Check(agentID string, progress Progress) []Detection {
	now := time.Now()
	var out []Detection

	if det := d.checkTurnLimit(agentID, progress); det != nil {
		out = append(out, *det)
	}
	if det := d.checkContextLimit(agentID, progress); det != nil {
		out = append(out, *det)
	}
	if det := d.checkNoProgress(agentID, progress, now); det != nil {
		out = append(out, *det)
	}
	if det := d.checkCITimeout(agentID, progress, now); det != nil {
		out = append(out, *det)
	}
	if det := d.checkReviewDelay(agentID, progress, now); det != nil {
		out = append(out, *det)
	}
	if det := d.checkMergeConflict(agentID, progress); det != nil {
		out = append(out, *det)
	}
	if det := d.checkRateLimit(agentID, progress, now); det != nil {
		out = append(out, *det)
	}
	if det := d.checkErrorLoop(agentID, progress); det != nil {
		out = append(out, *det)
	}

	return out
}

func severityByThreshold(pct, warn, high, critical float64) Severity {
	switch {
	case pct >= critical:
		return SeverityCritical
	case pct >= high:
		return SeverityHigh
	default:
		_ = warn
		return SeverityMedium
	}
}

func (d *Detector) checkTurnLimit(agentID string, p Progress) *Detection {
	pct := p.TurnPercentage()
	if pct < d.cfg.TurnPercentThreshold {
		return nil
	}
	return &Detection{
		AgentID:  agentID,
		Type:     TurnLimit,
		Severity: severityByThreshold(pct, d.cfg.TurnPercentThreshold, 90, 95),
		Details: map[string]any{
			"turn_count": p.TurnCount,
			"max_turns":  p.MaxTurns,
			"percentage": pct,
		},
		DetectedAt: time.Now(),
	}
}

func (d *Detector) checkContextLimit(agentID string, p Progress) *Detection {
	pct := p.TokenPercentage()
	if pct < d.cfg.TokenPercentThreshold {
		return nil
	}
	return &Detection{
		AgentID:  agentID,
		Type:     ContextLimit,
		Severity: severityByThreshold(pct, d.cfg.TokenPercentThreshold, 90, 95),
		Details: map[string]any{
			"token_count": p.TokenCount,
			"max_tokens":  p.MaxTokens,
			"percentage":  pct,
		},
		DetectedAt: time.Now(),
	}
}

func (d *Detector) checkNoProgress(agentID string, p Progress, now time.Time) *Detection {
	if p.LastMeaningfulOutput.IsZero() {
		return nil
	}
	minutesSince := int(now.Sub(p.LastMeaningfulOutput).Minutes())
	threshold := d.cfg.NoProgressMinutes
	if minutesSince < threshold {
		return nil
	}
	severity := SeverityMedium
	if minutesSince >= threshold*3 {
		severity = SeverityHigh
	}
	return &Detection{
		AgentID:  agentID,
		Type:     NoProgress,
		Severity: severity,
		Details: map[string]any{
			"minutes_since_progress": minutesSince,
			"threshold_minutes":      threshold,
			"last_output":            p.LastMeaningfulOutput,
		},
		DetectedAt: now,
	}
}

func (d *Detector) checkCITimeout(agentID string, p Progress, now time.Time) *Detection {
	if p.LastCIUpdate.IsZero() {
		return nil
	}
	minutesSince := int(now.Sub(p.LastCIUpdate).Minutes())
	threshold := d.cfg.CiTimeoutMinutes
	if minutesSince < threshold {
		return nil
	}
	severity := SeverityMedium
	if minutesSince >= threshold*2 {
		severity = SeverityHigh
	}
	return &Detection{
		AgentID:  agentID,
		Type:     CiTimeout,
		Severity: severity,
		Details: map[string]any{
			"minutes_since_update": minutesSince,
			"timeout_threshold":    threshold,
			"last_update":          p.LastCIUpdate,
		},
		DetectedAt: now,
	}
}

func (d *Detector) checkReviewDelay(agentID string, p Progress, now time.Time) *Detection {
	if p.LastReviewUpdate.IsZero() {
		return nil
	}
	minutesSince := int(now.Sub(p.LastReviewUpdate).Minutes())
	threshold := d.cfg.ReviewDelayMinutes
	if minutesSince < threshold {
		return nil
	}
	severity := SeverityMedium
	if minutesSince >= threshold*2 {
		severity = SeverityHigh
	}
	return &Detection{
		AgentID:  agentID,
		Type:     ReviewDelay,
		Severity: severity,
		Details: map[string]any{
			"minutes_since_update": minutesSince,
			"timeout_threshold":    threshold,
			"last_update":          p.LastReviewUpdate,
		},
		DetectedAt: now,
	}
}

func (d *Detector) checkMergeConflict(agentID string, p Progress) *Detection {
	if !p.HasMergeConflicts {
		return nil
	}
	return &Detection{
		AgentID:  agentID,
		Type:     MergeConflict,
		Severity: SeverityHigh,
		Details:  map[string]any{"has_conflicts": true},
		DetectedAt: time.Now(),
	}
}

func (d *Detector) checkRateLimit(agentID string, p Progress, now time.Time) *Detection {
	if p.RateLimitedUntil.IsZero() || !p.RateLimitedUntil.After(now) {
		return nil
	}
	waitMinutes := p.RateLimitedUntil.Sub(now).Minutes()
	severity := SeverityLow
	switch {
	case waitMinutes > 30:
		severity = SeverityHigh
	case waitMinutes > 10:
		severity = SeverityMedium
	}
	return &Detection{
		AgentID:  agentID,
		Type:     RateLimit,
		Severity: severity,
		Details: map[string]any{
			"rate_limited_until": p.RateLimitedUntil,
			"wait_minutes":       waitMinutes,
		},
		DetectedAt: now,
	}
}

func (d *Detector) checkErrorLoop(agentID string, p Progress) *Detection {
	threshold := d.cfg.ErrorLoopThreshold
	if p.RecentErrorCount < threshold {
		return nil
	}
	severity := SeverityHigh
	if p.RecentErrorCount >= threshold*2 {
		severity = SeverityCritical
	}
	return &Detection{
		AgentID:  agentID,
		Type:     ErrorLoop,
		Severity: severity,
		Details: map[string]any{
			"error_count": p.RecentErrorCount,
			"threshold":   threshold,
		},
		DetectedAt: time.Now(),
	}
}

// RateLimitBackoff computes exponential backoff delays for rate-limited API
// calls, capped at a maximum delay.
type RateLimitBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	retryCount uint
}

// NewRateLimitBackoff returns a backoff calculator with the defaults used
// throughout the orchestrator: 5s base, 5m cap.
func NewRateLimitBackoff() *RateLimitBackoff {
	return &RateLimitBackoff{BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute}
}

// NextDelay returns the next delay in the exponential sequence and advances
// the retry counter.
func (b *RateLimitBackoff) NextDelay() time.Duration {
	delay := b.BaseDelay * (1 << b.retryCount)
	b.retryCount++
	if delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

// Reset zeroes the retry counter, for use once a call succeeds.
func (b *RateLimitBackoff) Reset() {
	b.retryCount = 0
}

// RateLimitedUntil returns the instant until which the caller should pause,
// using the next backoff delay.
func (b *RateLimitBackoff) RateLimitedUntil() time.Time {
	return time.Now().Add(b.NextDelay())
}
