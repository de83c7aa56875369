package aggregate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"ensemble/internal/task"
)

// Policy names accepted by PolicyByName.
const (
	PolicyConfidence = "confidence"
	PolicyConsensus  = "consensus"
	PolicyMerge      = "merge"
)

// PolicyByName builds a named policy. merger is only used by "merge".
func PolicyByName(name string, merger Merger) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyConfidence:
		return ConfidencePolicy{}, nil
	case PolicyConsensus:
		return ConsensusPolicy{}, nil
	case PolicyMerge:
		if merger == nil {
			return nil, fmt.Errorf("merge policy needs a merger")
		}
		return MergePolicy{Merger: merger}, nil
	default:
		return nil, fmt.Errorf("unknown aggregation policy %q", name)
	}
}

// ConfidencePolicy picks the candidate reporting the highest confidence.
// Ties go to the earliest worker in task order.
type ConfidencePolicy struct{}

func (ConfidencePolicy) Name() string { return PolicyConfidence }

func (ConfidencePolicy) Decide(_ context.Context, _ string, candidates []task.AgentResult) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, fmt.Errorf("no candidates")
	}
	best := 0
	for i, c := range candidates[1:] {
		if c.Confidence > candidates[best].Confidence {
			best = i + 1
		}
	}
	winner := candidates[best]
	return Decision{
		Payload:      winner.Payload,
		Contributors: []string{winner.WorkerID},
		Method:       task.MethodSingleBest,
		Reason:       fmt.Sprintf("highest confidence %.2f among %d candidates", winner.Confidence, len(candidates)),
	}, nil
}

// ConsensusPolicy picks the candidate closest to all others: the smallest
// summed Levenshtein distance over line diffs. Ties go to the earliest worker
// in task order. Diffs run without a time limit so the choice depends only on
// the payloads.
type ConsensusPolicy struct{}

func (ConsensusPolicy) Name() string { return PolicyConsensus }

func (ConsensusPolicy) Decide(ctx context.Context, _ string, candidates []task.AgentResult) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, fmt.Errorf("no candidates")
	}
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	distance := func(a, b string) int {
		ca, cb, lines := dmp.DiffLinesToChars(a, b)
		diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)
		return dmp.DiffLevenshtein(diffs)
	}

	n := len(candidates)
	totals := make([]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if err := ctx.Err(); err != nil {
				return Decision{}, err
			}
			d := distance(candidates[i].Payload, candidates[j].Payload)
			totals[i] += d
			totals[j] += d
		}
	}
	best := 0
	for i := 1; i < n; i++ {
		if totals[i] < totals[best] {
			best = i
		}
	}
	winner := candidates[best]
	return Decision{
		Payload:      winner.Payload,
		Contributors: []string{winner.WorkerID},
		Method:       task.MethodSingleBest,
		Reason:       fmt.Sprintf("closest to the other %d candidates (total edit distance %d)", n-1, totals[best]),
	}, nil
}

// Merger combines several candidate payloads into one.
type Merger interface {
	Merge(ctx context.Context, problem string, candidates []task.AgentResult) (string, error)
}

// MergePolicy asks a Merger to combine every candidate. When the merger
// fails or returns nothing it defers to Fallback, ConfidencePolicy by default.
type MergePolicy struct {
	Merger   Merger
	Fallback Policy
}

func (MergePolicy) Name() string { return PolicyMerge }

func (p MergePolicy) Decide(ctx context.Context, problem string, candidates []task.AgentResult) (Decision, error) {
	fallback := p.Fallback
	if fallback == nil {
		fallback = ConfidencePolicy{}
	}
	if p.Merger == nil {
		return fallback.Decide(ctx, problem, candidates)
	}

	merged, err := p.Merger.Merge(ctx, problem, candidates)
	if err == nil && strings.TrimSpace(merged) != "" {
		contributors := make([]string, 0, len(candidates))
		for _, c := range candidates {
			contributors = append(contributors, c.WorkerID)
		}
		return Decision{
			Payload:      merged,
			Contributors: contributors,
			Method:       task.MethodMerged,
			Reason:       fmt.Sprintf("merged %d candidates", len(candidates)),
		}, nil
	}
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}

	why := "merger returned no output"
	if err != nil {
		why = "merger failed: " + err.Error()
	}
	decision, ferr := fallback.Decide(ctx, problem, candidates)
	if ferr != nil {
		return Decision{}, ferr
	}
	decision.Reason = why + "; " + decision.Reason
	return decision, nil
}
