package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"ensemble/internal/capability"
	"ensemble/internal/logging"
	"ensemble/internal/task"
)

// Solver is the default Runner: plan, solve, then verify the proposed code
// inside the workspace.
type Solver struct {
	// Research runs a web search on the problem before planning.
	Research   bool
	MaxResults int
	// Verify executes runnable code examples and writes every example to
	// the workspace.
	Verify bool

	logger logging.Logger
}

var _ Runner = (*Solver)(nil)

// NewSolver returns a Solver with research and verification enabled.
func NewSolver(logger logging.Logger) *Solver {
	return &Solver{
		Research:   true,
		MaxResults: 3,
		Verify:     true,
		logger:     logging.OrNop(logger),
	}
}

type plan struct {
	Analysis   string `json:"analysis"`
	Approach   string `json:"approach"`
	Confidence any    `json:"confidence"`
}

type fileNote struct {
	Filename string `json:"filename"`
	Purpose  string `json:"purpose,omitempty"`
}

type codeExample struct {
	Language    string `json:"language"`
	Filename    string `json:"filename,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	Code        string `json:"code"`
	Tested      bool   `json:"tested"`
	TestResults string `json:"test_results,omitempty"`
}

type solution struct {
	Overview       string        `json:"solution_overview"`
	Implementation string        `json:"detailed_implementation,omitempty"`
	Files          []fileNote    `json:"files_created"`
	CodeExamples   []codeExample `json:"code_examples"`
	Testing        string        `json:"testing_approach,omitempty"`
	Advantages     []string      `json:"advantages"`
	Limitations    []string      `json:"limitations"`
	Confidence     any           `json:"confidence"`
	ParseError     string        `json:"parse_error,omitempty"`
}

// report is the payload a worker publishes.
type report struct {
	WorkerID       string        `json:"worker_id"`
	Analysis       string        `json:"analysis,omitempty"`
	Approach       string        `json:"approach,omitempty"`
	Overview       string        `json:"solution_overview"`
	Implementation string        `json:"detailed_implementation,omitempty"`
	CodeExamples   []codeExample `json:"code_examples"`
	Files          []string      `json:"files,omitempty"`
	Testing        string        `json:"testing_approach,omitempty"`
	Advantages     []string      `json:"advantages,omitempty"`
	Limitations    []string      `json:"limitations,omitempty"`
	Confidence     float64       `json:"confidence"`
	Verified       bool          `json:"verified"`
}

func (s *Solver) Run(ctx context.Context, a task.Assignment, caps capability.Set) (Outcome, error) {
	logger := logging.WithPrefix(logging.OrNop(s.logger), fmt.Sprintf("[%s/%s] ", a.WorkerID, a.TaskID))

	research := s.research(ctx, a, caps, logger)

	p, err := s.plan(ctx, a, caps, research, logger)
	if err != nil {
		return Outcome{}, err
	}

	sol, err := s.solve(ctx, a, caps, p, logger)
	if err != nil {
		return Outcome{}, err
	}

	out := report{
		WorkerID:       a.WorkerID,
		Analysis:       p.Analysis,
		Approach:       p.Approach,
		Overview:       sol.Overview,
		Implementation: sol.Implementation,
		CodeExamples:   sol.CodeExamples,
		Testing:        sol.Testing,
		Advantages:     sol.Advantages,
		Limitations:    sol.Limitations,
		Confidence:     NormalizeConfidence(sol.Confidence),
	}

	artifacts := map[string]string{}
	if s.Verify {
		verified, err := s.verify(ctx, caps, sol, &out, artifacts, logger)
		if err != nil {
			return Outcome{}, err
		}
		out.Verified = verified
	}
	for name := range artifacts {
		out.Files = append(out.Files, name)
	}
	slices.Sort(out.Files)

	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return Outcome{}, fmt.Errorf("encode payload: %w", err)
	}
	logger.Info("solution ready: %d code examples, confidence %.2f", len(out.CodeExamples), out.Confidence)
	return Outcome{Payload: string(payload), Confidence: out.Confidence, Artifacts: artifacts}, nil
}

func (s *Solver) research(ctx context.Context, a task.Assignment, caps capability.Set, logger logging.Logger) []capability.SearchResult {
	if !s.Research {
		return nil
	}
	results, err := caps.WebSearch(ctx, truncate(a.Problem, 200), s.MaxResults)
	if err != nil {
		logger.Warn("research skipped: %v", err)
		return nil
	}
	return results
}

func (s *Solver) plan(ctx context.Context, a task.Assignment, caps capability.Set, research []capability.SearchResult, logger logging.Logger) (plan, error) {
	response, err := caps.Generate(ctx, planPrompt(a.WorkerID, a.Problem, research))
	if err != nil {
		return plan{}, fmt.Errorf("planning: %w", err)
	}
	var p plan
	if err := DecodeJSON(response, &p); err != nil {
		logger.Warn("plan was not valid JSON: %v", err)
		return plan{Analysis: truncate(response, 300), Confidence: 0.3}, nil
	}
	return p, nil
}

var looseCode = regexp.MustCompile("(?s)```([a-zA-Z]*)\\n(.*?)```|(<[^>]+>.*</[^>]+>)")

func (s *Solver) solve(ctx context.Context, a task.Assignment, caps capability.Set, p plan, logger logging.Logger) (solution, error) {
	response, err := caps.Generate(ctx, solvePrompt(a.WorkerID, a.Problem, p))
	if err != nil {
		return solution{}, fmt.Errorf("solving: %w", err)
	}
	var sol solution
	if err := DecodeJSON(response, &sol); err != nil {
		logger.Warn("solution was not valid JSON, keeping extracted code: %v", err)
		sol = solution{
			Overview:   "Solution recovered from an unstructured response",
			ParseError: err.Error(),
		}
		if m := looseCode.FindStringSubmatch(response); m != nil {
			lang, code := m[1], m[2]
			if m[3] != "" {
				code = m[3]
			}
			if lang == "" {
				lang = "html"
			}
			sol.CodeExamples = []codeExample{{Language: lang, Purpose: "Extracted from response", Code: code}}
		} else {
			sol.Implementation = truncate(response, 1000)
		}
	}
	if strings.TrimSpace(sol.Overview) == "" && len(sol.CodeExamples) == 0 && strings.TrimSpace(sol.Implementation) == "" {
		return solution{}, errors.New("solving: model returned an empty solution")
	}
	return sol, nil
}

var extensions = map[string]string{
	"python":     ".py",
	"bash":       ".sh",
	"javascript": ".js",
	"go":         ".go",
	"html":       ".html",
	"css":        ".css",
	"json":       ".json",
	"markdown":   ".md",
}

var runnable = map[string]bool{"python": true, "bash": true, "javascript": true, "go": true}

// verify writes every example into the workspace and executes the runnable
// ones. Failing examples are recorded in the report; only cancellation
// aborts the attempt. It reports whether every executed example passed.
func (s *Solver) verify(ctx context.Context, caps capability.Set, sol solution, out *report, artifacts map[string]string, logger logging.Logger) (bool, error) {
	passed := true
	for i := range out.CodeExamples {
		ex := &out.CodeExamples[i]
		if strings.TrimSpace(ex.Code) == "" {
			continue
		}
		lang := capability.NormalizeLanguage(ex.Language)
		name := exampleFilename(*ex, lang, i, sol.Files)

		if err := caps.WriteFile(ctx, name, ex.Code); err != nil {
			logger.Warn("write %s: %v", name, err)
		} else {
			artifacts[name] = ex.Code
		}

		if !runnable[lang] {
			continue
		}
		res, err := caps.ExecuteCode(ctx, lang, ex.Code)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		ex.Tested = true
		switch {
		case err != nil:
			passed = false
			ex.TestResults = "failed: " + err.Error()
		case !res.Success():
			passed = false
			ex.TestResults = fmt.Sprintf("exit %d: %s", res.ExitCode, truncate(strings.TrimSpace(res.Stderr), 500))
		default:
			ex.TestResults = "ok: " + truncate(strings.TrimSpace(res.Stdout), 500)
		}
		logger.Debug("example %d (%s): %s", i, lang, truncate(ex.TestResults, 80))
	}
	return passed, nil
}

func exampleFilename(ex codeExample, lang string, i int, notes []fileNote) string {
	name := ex.Filename
	if name == "" && i < len(notes) {
		name = notes[i].Filename
	}
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		ext := extensions[lang]
		if ext == "" {
			ext = ".txt"
		}
		name = fmt.Sprintf("solution_%d%s", i+1, ext)
	}
	return name
}
