package learning

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hanibalsk/orchestrate/pkg/store"
)

// AutomationResults summarizes one automation cycle's effect, for the
// caller to log or surface on an operational endpoint.
type AutomationResults struct {
	PatternsPromoted     int
	InstructionsDisabled int
	InstructionsDeleted  int
	ExperimentsPromoted  int
	Actions              []store.AutomationAction
}

// RunAutomationCycle executes the four-step periodic sweep: promote
// Pending patterns into instructions, disable ineffective enabled
// instructions, promote significant running experiments, and delete
// instructions that have stayed disabled past the retention window.
// Every step it takes is persisted as a store.AutomationAction.
func (e *Engine) RunAutomationCycle() (AutomationResults, error) {
	var results AutomationResults

	if err := e.promotePendingPatterns(&results); err != nil {
		return results, err
	}
	if err := e.disableIneffectiveInstructions(&results); err != nil {
		return results, err
	}
	if err := e.promoteSignificantExperiments(&results); err != nil {
		return results, err
	}
	if err := e.deleteRetiredInstructions(&results); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Engine) record(results *AutomationResults, actionType store.AutomationActionType, targetID, targetName, reason string) error {
	action := store.AutomationAction{
		ID:         uuid.NewString(),
		ActionType: actionType,
		TargetID:   targetID,
		TargetName: targetName,
		Reason:     reason,
		RecordedAt: time.Now(),
	}
	if err := e.store.RecordAutomationAction(action); err != nil {
		return fmt.Errorf("record automation action: %w", err)
	}
	results.Actions = append(results.Actions, action)
	return nil
}

// promotePendingPatterns generates a Learned instruction from every
// Pending pattern whose confidence clears AutoApproveThreshold.
// Confidence is derived from occurrence count: it approaches 1 as
// occurrences grow past MinOccurrences, modeling reduced variance with
// more samples.
func (e *Engine) promotePendingPatterns(results *AutomationResults) error {
	patterns, err := e.store.ListPatternsByStatus(store.PatternPending)
	if err != nil {
		return fmt.Errorf("list pending patterns: %w", err)
	}

	for _, p := range patterns {
		confidence := patternConfidence(p.OccurrenceCount, e.cfg.MinOccurrences)
		if confidence < e.cfg.AutoApproveThreshold {
			continue
		}

		ins := store.CustomInstruction{
			ID:         uuid.NewString(),
			Name:       fmt.Sprintf("learned-%s", p.ID),
			Content:    fmt.Sprintf("Avoid the recurring failure: %s", p.Signature),
			Scope:      store.ScopeAgentType,
			AgentType:  p.AgentType,
			Priority:   0,
			Enabled:    true,
			Source:     store.SourceLearned,
			Confidence: confidence,
		}
		if p.AgentType == "" {
			ins.Scope = store.ScopeGlobal
		}
		if err := e.store.UpsertInstruction(ins); err != nil {
			return fmt.Errorf("materialize instruction for pattern %s: %w", p.ID, err)
		}

		p.Status = store.PatternApproved
		p.GeneratedInstructionID = ins.ID
		if err := e.store.UpsertPattern(p); err != nil {
			return fmt.Errorf("approve pattern %s: %w", p.ID, err)
		}

		if err := e.record(results, store.ActionSuggestionCreated, ins.ID, ins.Name,
			fmt.Sprintf("pattern %s reached confidence %.2f over %d occurrences", p.ID, confidence, p.OccurrenceCount)); err != nil {
			return err
		}
		results.PatternsPromoted++
	}
	return nil
}

// patternConfidence grows with occurrence count and asymptotes to 1,
// approximating lower sample variance as more occurrences accumulate.
func patternConfidence(occurrences, minOccurrences int) float64 {
	if minOccurrences <= 0 {
		minOccurrences = 1
	}
	ratio := float64(occurrences) / float64(minOccurrences)
	return 1 - 1/(1+ratio)
}

// disableIneffectiveInstructions turns off every enabled instruction
// that has accumulated enough samples and whose success rate has
// fallen below MinEffectiveness.
func (e *Engine) disableIneffectiveInstructions(results *AutomationResults) error {
	instructions, err := e.store.ListInstructions()
	if err != nil {
		return fmt.Errorf("list instructions: %w", err)
	}

	for _, ins := range instructions {
		if !ins.Enabled {
			continue
		}
		if ins.UsageCount < e.cfg.MinSamples {
			continue
		}
		successRate := float64(ins.SuccessCount) / float64(ins.UsageCount)
		if successRate >= e.cfg.MinEffectiveness {
			continue
		}

		ins.Enabled = false
		ins.DisabledCycles = 0
		if err := e.store.UpsertInstruction(ins); err != nil {
			return fmt.Errorf("disable instruction %s: %w", ins.ID, err)
		}
		if err := e.record(results, store.ActionInstructionDisabled, ins.ID, ins.Name,
			fmt.Sprintf("success rate %.2f below threshold %.2f over %d uses", successRate, e.cfg.MinEffectiveness, ins.UsageCount)); err != nil {
			return err
		}
		results.InstructionsDisabled++
	}
	return nil
}

// promoteSignificantExperiments checks every running experiment whose
// variants have each gathered MinSamples trials; when the best variant
// beats the worst with statistical significance at the experiment's
// configured confidence, the experiment completes and its winner is
// recorded.
func (e *Engine) promoteSignificantExperiments(results *AutomationResults) error {
	experiments, err := e.store.ListRunningExperiments()
	if err != nil {
		return fmt.Errorf("list running experiments: %w", err)
	}

	for _, exp := range experiments {
		variants, err := e.store.ListVariants(exp.ID)
		if err != nil {
			return fmt.Errorf("list variants for %s: %w", exp.ID, err)
		}
		if len(variants) < 2 {
			continue
		}

		samples := make([]variantSample, 0, len(variants))
		for _, v := range variants {
			successes, total, err := e.store.VariantResults(v.ID)
			if err != nil {
				return fmt.Errorf("variant results for %s: %w", v.ID, err)
			}
			if total < exp.MinSamples {
				samples = nil
				break
			}
			samples = append(samples, variantSample{variant: v, successes: successes, total: total})
		}
		if len(samples) < 2 {
			continue
		}

		best, worst := samples[0], samples[0]
		for _, s := range samples[1:] {
			if rate(s) > rate(best) {
				best = s
			}
			if rate(s) < rate(worst) {
				worst = s
			}
		}
		if best.variant.ID == worst.variant.ID {
			continue
		}

		z := twoSampleZ(best.successes, best.total, worst.successes, worst.total)
		if !significantAt(z, exp.Confidence) {
			continue
		}

		if err := e.store.CompleteExperiment(exp.ID, best.variant.ID, time.Now()); err != nil {
			return fmt.Errorf("complete experiment %s: %w", exp.ID, err)
		}
		if err := e.record(results, store.ActionExperimentPromoted, exp.ID, exp.Name,
			fmt.Sprintf("variant %s won with z=%.2f at confidence %.2f", best.variant.ID, z, exp.Confidence)); err != nil {
			return err
		}
		results.ExperimentsPromoted++
	}
	return nil
}

// variantSample is one experiment variant's accumulated trial tally.
type variantSample struct {
	variant           store.ExperimentVariant
	successes, total int
}

func rate(s variantSample) float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.successes) / float64(s.total)
}

// twoSampleZ computes the two-proportion z statistic for a1/n1 versus
// a2/n2 using the pooled standard error.
func twoSampleZ(a1, n1, a2, n2 int) float64 {
	if n1 == 0 || n2 == 0 {
		return 0
	}
	p1 := float64(a1) / float64(n1)
	p2 := float64(a2) / float64(n2)
	pooled := float64(a1+a2) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return 0
	}
	return (p1 - p2) / se
}

// significantAt reports whether |z| clears the critical value for the
// given two-tailed confidence level, using a close rational
// approximation of the normal quantile for the confidence levels this
// system actually configures (0.90-0.999).
func significantAt(z, confidence float64) bool {
	return math.Abs(z) >= zCritical(confidence)
}

// zCritical approximates the two-tailed standard-normal critical value
// for a confidence level via the inverse error function, avoiding a
// dependency on a full statistics library for this single computation.
func zCritical(confidence float64) float64 {
	if confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		confidence = 0.999999
	}
	return math.Sqrt2 * erfinv(confidence)
}

// erfinv computes the inverse error function via Newton's method
// refinement of Winitzki's approximation, accurate to within 1e-6 over
// (0, 1) which is more than sufficient for a significance threshold.
func erfinv(x float64) float64 {
	const a = 0.147
	ln := math.Log(1 - x*x)
	t1 := 2/(math.Pi*a) + ln/2
	t2 := ln / a
	guess := math.Copysign(math.Sqrt(math.Sqrt(t1*t1-t2)-t1), x)

	for i := 0; i < 2; i++ {
		fx := math.Erf(guess) - x
		fpx := 2 / math.Sqrt(math.Pi) * math.Exp(-guess*guess)
		if fpx == 0 {
			break
		}
		guess -= fx / fpx
	}
	return guess
}

// deleteRetiredInstructions permanently removes instructions that have
// spent at least DisableRetentionCycles automation cycles disabled,
// bumping the counter for every disabled instruction still short of
// the threshold.
func (e *Engine) deleteRetiredInstructions(results *AutomationResults) error {
	instructions, err := e.store.ListInstructions()
	if err != nil {
		return fmt.Errorf("list instructions: %w", err)
	}

	for _, ins := range instructions {
		if ins.Enabled {
			continue
		}
		if ins.DisabledCycles >= e.cfg.DisableRetentionCycles {
			if err := e.store.DeleteInstruction(ins.ID); err != nil {
				return fmt.Errorf("delete instruction %s: %w", ins.ID, err)
			}
			if err := e.record(results, store.ActionInstructionDeleted, ins.ID, ins.Name,
				fmt.Sprintf("disabled for %d cycles, still ineffective", ins.DisabledCycles)); err != nil {
				return err
			}
			results.InstructionsDeleted++
			continue
		}

		ins.DisabledCycles++
		if err := e.store.UpsertInstruction(ins); err != nil {
			return fmt.Errorf("bump disabled cycles %s: %w", ins.ID, err)
		}
	}
	return nil
}
