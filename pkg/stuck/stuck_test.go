package stuck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hanibalsk/orchestrate/pkg/config"
)

func defaultDetector() *Detector {
	return NewDetector(config.Default().Stuck)
}

func baseProgress() Progress {
	return Progress{MaxTurns: 100, MaxTokens: 100000}
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityLow < SeverityMedium)
	assert.True(t, SeverityMedium < SeverityHigh)
	assert.True(t, SeverityHigh < SeverityCritical)
}

func TestProgressPercentages(t *testing.T) {
	p := baseProgress()
	p.TurnCount = 80
	p.TokenCount = 85000

	assert.Equal(t, 80.0, p.TurnPercentage())
	assert.Equal(t, 85.0, p.TokenPercentage())
}

func TestProgressZeroMax(t *testing.T) {
	p := Progress{}
	assert.Equal(t, 0.0, p.TurnPercentage())
	assert.Equal(t, 0.0, p.TokenPercentage())
}

func TestTurnLimitWarning(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.TurnCount = 80

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 1)
	assert.Equal(t, TurnLimit, dets[0].Type)
	assert.Equal(t, SeverityMedium, dets[0].Severity)
}

func TestTurnLimitHigh(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.TurnCount = 92

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 1)
	assert.Equal(t, SeverityHigh, dets[0].Severity)
}

func TestTurnLimitCritical(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.TurnCount = 96

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 1)
	assert.Equal(t, SeverityCritical, dets[0].Severity)
}

func TestNoWarningBelowThreshold(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.TurnCount = 70

	assert.Empty(t, d.Check("agent-1", p))
}

func TestContextLimit(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.TokenCount = 90000

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 1)
	assert.Equal(t, ContextLimit, dets[0].Type)
}

func TestMergeConflict(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.HasMergeConflicts = true

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 1)
	assert.Equal(t, MergeConflict, dets[0].Type)
	assert.Equal(t, SeverityHigh, dets[0].Severity)
}

func TestErrorLoop(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.RecentErrorCount = 3

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 1)
	assert.Equal(t, ErrorLoop, dets[0].Type)
	assert.Equal(t, SeverityHigh, dets[0].Severity)
}

func TestErrorLoopCritical(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.RecentErrorCount = 6

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 1)
	assert.Equal(t, SeverityCritical, dets[0].Severity)
}

func TestRateLimited(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.RateLimitedUntil = time.Now().Add(15 * time.Minute)

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 1)
	assert.Equal(t, RateLimit, dets[0].Type)
	assert.Equal(t, SeverityMedium, dets[0].Severity)
}

func TestRateLimitExpired(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.RateLimitedUntil = time.Now().Add(-5 * time.Minute)

	assert.Empty(t, d.Check("agent-1", p))
}

func TestMultipleIssues(t *testing.T) {
	d := defaultDetector()
	p := baseProgress()
	p.TurnCount = 85
	p.HasMergeConflicts = true
	p.RecentErrorCount = 4

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 3)

	var types []Type
	for _, det := range dets {
		types = append(types, det.Type)
	}
	assert.Contains(t, types, TurnLimit)
	assert.Contains(t, types, MergeConflict)
	assert.Contains(t, types, ErrorLoop)
}

func TestCustomConfig(t *testing.T) {
	cfg := config.Default().Stuck
	cfg.TurnPercentThreshold = 70
	d := NewDetector(cfg)

	p := baseProgress()
	p.TurnCount = 75 // would not trigger with default 80% threshold

	dets := d.Check("agent-1", p)
	assert.Len(t, dets, 1)
	assert.Equal(t, TurnLimit, dets[0].Type)
}

func TestRateLimitBackoffExponential(t *testing.T) {
	b := NewRateLimitBackoff()

	assert.Equal(t, 5*time.Second, b.NextDelay())
	assert.Equal(t, 10*time.Second, b.NextDelay())
	assert.Equal(t, 20*time.Second, b.NextDelay())
	assert.Equal(t, 40*time.Second, b.NextDelay())
}

func TestRateLimitBackoffMax(t *testing.T) {
	b := NewRateLimitBackoff()

	for i := 0; i < 10; i++ {
		b.NextDelay()
	}

	assert.Equal(t, 5*time.Minute, b.NextDelay())
}

func TestRateLimitBackoffReset(t *testing.T) {
	b := NewRateLimitBackoff()
	b.NextDelay()
	b.NextDelay()
	b.Reset()

	assert.Equal(t, 5*time.Second, b.NextDelay())
}

func TestRateLimitedUntilIsFuture(t *testing.T) {
	b := NewRateLimitBackoff()
	until := b.RateLimitedUntil()

	assert.True(t, until.After(time.Now()))
	diff := time.Until(until)
	assert.True(t, diff >= 4*time.Second && diff <= 6*time.Second)
}
