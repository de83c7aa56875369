package aggregate

import (
	"context"
	"fmt"
	"strings"

	"ensemble/internal/capability"
	"ensemble/internal/task"
)

const mergeSystemPrompt = `You are the lead engineer combining solutions written independently by several agents.

Produce ONE final solution to the problem that keeps the strongest parts of each
candidate, fixes their mistakes and contains complete, working code.
Respond with the final solution only.`

// ModelMerger merges candidates with one model call.
type ModelMerger struct {
	Model capability.Model
	// MaxCandidateChars truncates each candidate in the prompt; zero means 12000.
	MaxCandidateChars int
}

func (m ModelMerger) Merge(ctx context.Context, problem string, candidates []task.AgentResult) (string, error) {
	if m.Model == nil {
		return "", capability.ErrNotConfigured
	}
	limit := m.MaxCandidateChars
	if limit <= 0 {
		limit = 12000
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Problem:\n%s\n\n", problem)
	for _, c := range candidates {
		payload := c.Payload
		if r := []rune(payload); len(r) > limit {
			payload = string(r[:limit]) + "\n[truncated]"
		}
		fmt.Fprintf(&b, "=== Candidate from %s (confidence %.2f) ===\n%s\n\n", c.WorkerID, c.Confidence, payload)
	}
	b.WriteString("Write the merged final solution.")

	out, err := m.Model.Generate(ctx, capability.Prompt{
		System:      mergeSystemPrompt,
		User:        b.String(),
		Temperature: 0.5,
		MaxTokens:   8192,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
