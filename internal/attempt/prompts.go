package attempt

import (
	"fmt"
	"strings"

	"ensemble/internal/capability"
)

const planSystemPrompt = `You are Agent %s creating a strategic plan.

Think through the problem and create a strategic plan.

RESPOND IN VALID JSON:
{
  "analysis": "Brief problem analysis",
  "approach": "Chosen approach",
  "confidence": 0.8
}

Problem: %s
%s`

const solveSystemPrompt = `You are Agent %s developing a complete solution.

%s

CRITICAL INSTRUCTIONS:
1. Respond with ONLY the JSON structure shown below.
2. Do not include any text before or after the JSON.
3. Do not use markdown code blocks.
4. For code in JSON use \n for newlines and \" for quotes.

RESPOND IN VALID JSON EXACTLY LIKE THIS EXAMPLE:
{
  "solution_overview": "Created an interactive calculator with basic operations",
  "detailed_implementation": "HTML for structure, CSS Grid for layout, JavaScript for calculations.",
  "files_created": [
    {"filename": "calculator.html", "purpose": "Main calculator interface"}
  ],
  "code_examples": [
    {
      "language": "html",
      "filename": "calculator.html",
      "purpose": "Complete calculator implementation",
      "code": "<!DOCTYPE html>\n<html>...</html>"
    }
  ],
  "testing_approach": "Tested all operations and division by zero",
  "advantages": ["No external dependencies"],
  "limitations": ["No scientific functions"],
  "confidence": 0.85
}

Always include every field, using empty arrays when there is nothing to report.

Problem: %s

ONLY output the JSON structure above with your actual solution.`

func planPrompt(workerID, problem string, research []capability.SearchResult) capability.Prompt {
	var notes string
	if len(research) > 0 {
		var b strings.Builder
		b.WriteString("\nResearch notes:\n")
		for _, r := range research {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", r.Title, truncate(r.Snippet, 300), r.URL)
		}
		notes = b.String()
	}
	return capability.Prompt{
		System:      fmt.Sprintf(planSystemPrompt, workerID, problem, notes),
		User:        "Research and create a strategic plan for: " + problem,
		Temperature: 0.7,
		MaxTokens:   6144,
	}
}

func solvePrompt(workerID, problem string, p plan) capability.Prompt {
	context := ""
	if p.Analysis != "" || p.Approach != "" {
		context = fmt.Sprintf("Planning context:\nAnalysis: %s\nApproach: %s", truncate(p.Analysis, 500), truncate(p.Approach, 500))
	}
	return capability.Prompt{
		System:      fmt.Sprintf(solveSystemPrompt, workerID, context, problem),
		User:        "Output ONLY the JSON structure for your complete solution to: " + problem,
		Temperature: 0.6,
		MaxTokens:   8192,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
