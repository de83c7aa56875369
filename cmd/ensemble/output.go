package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ensemble/internal/orchestrator"
	"ensemble/internal/task"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// isTTY reports whether w is an interactive terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type printer struct {
	w      io.Writer
	green  *color.Color
	yellow *color.Color
	red    *color.Color
	gray   *color.Color
	bold   *color.Color
}

func newPrinter(w io.Writer) *printer {
	p := &printer{
		w:      w,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
		gray:   color.New(color.FgHiBlack),
		bold:   color.New(color.Bold),
	}
	enabled := isTTY(w)
	for _, c := range []*color.Color{p.green, p.yellow, p.red, p.gray, p.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *printer) Start(problem string, workers []string, timeout time.Duration) {
	fmt.Fprintf(p.w, "%s %s\n", p.bold.Sprint("Problem:"), firstLine(problem, 120))
	fmt.Fprintln(p.w, p.gray.Sprintf("dispatching to %s, deadline in %v", strings.Join(workers, ", "), timeout))
}

func (p *printer) Outcome(out orchestrator.Outcome) {
	fmt.Fprintf(p.w, "\n%s %s (%v)\n", p.bold.Sprint("Task"), out.Task.ID, out.Duration.Round(time.Millisecond))
	for _, w := range out.Task.Workers {
		fmt.Fprintf(p.w, "  %-12s %s\n", w, p.workerLine(out.Results, w))
	}

	sol := out.Solution
	if !sol.Accepted() {
		fmt.Fprintf(p.w, "\n%s\n", p.red.Sprint("No solution: every worker failed or timed out"))
		return
	}
	header := fmt.Sprintf("Solution (%s from %s)", sol.Method, strings.Join(sol.Contributors, ", "))
	fmt.Fprintf(p.w, "\n%s\n", p.green.Sprint(header))
	if reason := sol.Diagnostics["reason"]; reason != "" {
		fmt.Fprintln(p.w, p.gray.Sprint(reason))
	}
	fmt.Fprintln(p.w, strings.TrimRight(sol.Payload, "\n"))
}

func (p *printer) Note(format string, args ...any) {
	fmt.Fprintln(p.w, p.gray.Sprintf(format, args...))
}

func (p *printer) workerLine(rs *task.ResultSet, workerID string) string {
	if rs == nil {
		return p.gray.Sprint("no result")
	}
	r, ok := rs.Results[workerID]
	if !ok {
		return p.gray.Sprint("no result")
	}
	switch r.Status {
	case task.StatusSucceeded:
		return p.green.Sprintf("succeeded  confidence %.2f", r.Confidence)
	case task.StatusTimedOut:
		return p.yellow.Sprintf("timed_out  %s", firstLine(r.Error, 80))
	default:
		return p.red.Sprintf("%-10s %s", r.Status, firstLine(r.Error, 80))
	}
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
