// Package learning implements the Learning Engine + Automation
// (component J): it records per-instruction effectiveness after every
// agent run, mines failed runs for recurrent failure signatures,
// promotes recurring patterns into candidate instructions, and runs a
// periodic automation cycle that generates, disables, and deletes
// instructions and promotes A/B experiments.
package learning

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hanibalsk/orchestrate/pkg/config"
	"github.com/hanibalsk/orchestrate/pkg/store"
)

// penaltyDecay and penaltyGrowth tune how fast an instruction's penalty
// score moves after one outcome. blockedPenaltyWeight scales the growth
// further when the run that failed was Blocked, not merely Failed.
const (
	penaltyDecay         = 0.1
	penaltyGrowth        = 0.2
	blockedPenaltyWeight = 1.5
)

// Engine is the Learning Engine. It owns Instructions and
// LearningPatterns in the Store but never mutates in-flight agent
// state; agentloop.Runner consumes it through the Learner interface.
type Engine struct {
	store *store.Store
	cfg   config.LearningConfig
}

// NewEngine builds an Engine bound to the given store and thresholds.
func NewEngine(st *store.Store, cfg config.LearningConfig) *Engine {
	return &Engine{store: st, cfg: cfg}
}

// RecordInstructionOutcomes updates usage/success/failure counters and
// timestamps for every instruction injected into one agent run.
func (e *Engine) RecordInstructionOutcomes(instructionIDs []string, agentID string, success bool, completionTime float64) error {
	now := time.Now()
	for _, id := range instructionIDs {
		ins, found, err := e.store.GetInstruction(id)
		if err != nil {
			return fmt.Errorf("record instruction outcome %s: %w", id, err)
		}
		if !found {
			continue
		}

		ins.UsageCount++
		if success {
			ins.SuccessCount++
			ins.LastSuccessAt = &now
		} else {
			ins.FailureCount++
			ins.LastFailureAt = &now
		}
		ins.AvgCompletionTime = runningAverage(ins.AvgCompletionTime, ins.UsageCount, completionTime)

		if err := e.store.UpsertInstruction(ins); err != nil {
			return fmt.Errorf("save instruction outcome %s: %w", id, err)
		}
		if err := e.store.RecordInstructionEffectiveness(id, agentID, success, completionTime, now); err != nil {
			return fmt.Errorf("log instruction effectiveness %s: %w", id, err)
		}
	}
	return nil
}

func runningAverage(avg float64, count int, sample float64) float64 {
	if count <= 0 {
		return sample
	}
	return avg + (sample-avg)/float64(count)
}

// ApplyOutcomePenalties moves each instruction's penalty score: it
// decays toward zero on success and grows on failure, with extra
// weight when the run ended Blocked rather than merely Failed.
func (e *Engine) ApplyOutcomePenalties(instructionIDs []string, success, wasBlocked bool) error {
	for _, id := range instructionIDs {
		ins, found, err := e.store.GetInstruction(id)
		if err != nil {
			return fmt.Errorf("apply penalty %s: %w", id, err)
		}
		if !found {
			continue
		}

		if success {
			ins.PenaltyScore -= ins.PenaltyScore * penaltyDecay
		} else {
			growth := penaltyGrowth
			if wasBlocked {
				growth *= blockedPenaltyWeight
			}
			ins.PenaltyScore += growth
		}
		if ins.PenaltyScore < 0 {
			ins.PenaltyScore = 0
		}

		if err := e.store.UpsertInstruction(ins); err != nil {
			return fmt.Errorf("save penalty %s: %w", id, err)
		}
	}
	return nil
}

// AnalyzeAgentRun scans a finished run's messages for a recurrent
// failure signature, increments the matching pattern's occurrence
// count (creating an Observed one on first sighting), and promotes it
// to Pending once the occurrence count reaches MinOccurrences. The
// candidate instruction is created later, by RunAutomationCycle.
func (e *Engine) AnalyzeAgentRun(agentID string, kind store.AgentKind, messages []store.Message, success bool) error {
	signature := failureSignature(kind, messages)
	if signature == "" {
		return nil
	}

	pattern, found, err := e.store.FindPatternBySignature(signature)
	if err != nil {
		return fmt.Errorf("find pattern: %w", err)
	}
	if !found {
		pattern = store.LearningPattern{
			ID:              uuid.NewString(),
			PatternType:     "tool_error",
			AgentType:       kind,
			Signature:       signature,
			OccurrenceCount: 0,
			Status:          store.PatternObserved,
		}
	}
	pattern.OccurrenceCount++

	if pattern.Status == store.PatternObserved && pattern.OccurrenceCount >= e.cfg.MinOccurrences {
		pattern.Status = store.PatternPending
	}

	return e.store.UpsertPattern(pattern)
}

// failureSignature reduces one run's message log to a normalized
// signature: the agent kind paired with the last tool error string
// seen. An empty result means the run carries nothing worth mining.
func failureSignature(kind store.AgentKind, messages []store.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, tr := range messages[i].ToolResults {
			if tr.IsError {
				return fmt.Sprintf("%s:tool_error:%s", kind, normalizeErrorText(tr.Content))
			}
		}
	}
	return ""
}

// normalizeErrorText collapses every run of digits in a tool error
// message to a single '#' and truncates the result to 200 bytes, so
// repeat occurrences that differ only in numbers share a signature.
// Paths and other text are kept as they are.
func normalizeErrorText(s string) string {
	var b []rune
	prevDigit := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			if prevDigit {
				continue
			}
			prevDigit = true
			b = append(b, '#')
			continue
		}
		prevDigit = false
		b = append(b, r)
	}
	out := string(b)
	if len(out) > 200 {
		out = out[:200]
	}
	return out
}
