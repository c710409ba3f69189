package validate

import (
	"fmt"
	"strings"
	"time"
)

// Check is one named validation stage with its pass/fail state.
type Check struct {
	Name   string
	Passed bool
}

// Result collects the per-check verdicts, itemized errors and warnings of
// one validator run. Checks are registered up front so the report always
// lists every stage, including the ones skipped after a fatal failure.
type Result struct {
	order  []string
	passed map[string]bool

	Errors   []string
	Warnings []string
}

// NewResult registers the named checks in report order, all failing until
// explicitly passed.
func NewResult(checks ...string) *Result {
	r := &Result{passed: make(map[string]bool, len(checks))}
	for _, name := range checks {
		r.order = append(r.order, name)
		r.passed[name] = false
	}
	return r
}

// Pass marks a check passed.
func (r *Result) Pass(name string) { r.passed[name] = true }

// Errorf records a fail-closed finding.
func (r *Result) Errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Warnf records a warn-only finding.
func (r *Result) Warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Checks returns every registered check in order.
func (r *Result) Checks() []Check {
	out := make([]Check, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, Check{Name: name, Passed: r.passed[name]})
	}
	return out
}

// Passed reports the state of one check.
func (r *Result) Passed(name string) bool { return r.passed[name] }

// Valid is the final verdict: the conjunction of the named fail-closed
// checks. Warn-only checks never enter the verdict.
func (r *Result) Valid(failClosed ...string) bool {
	for _, name := range failClosed {
		if !r.passed[name] {
			return false
		}
	}
	return true
}

// Render produces the validation report: header, summary, per-check states
// and the itemized errors and warnings. The report is always complete
// regardless of the verdict.
func Render(title string, header, summary []string, r *Result) string {
	var b strings.Builder
	line := strings.Repeat("=", 60)

	fmt.Fprintf(&b, "%s\n%s\n%s\n", line, title, line)
	for _, h := range header {
		b.WriteString(h + "\n")
	}
	fmt.Fprintf(&b, "Timestamp: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	b.WriteString("SUMMARY:\n")
	for _, s := range summary {
		b.WriteString("  " + s + "\n")
	}
	b.WriteString("\n")

	b.WriteString("VALIDATION RESULTS:\n")
	for _, c := range r.Checks() {
		state := "FAIL"
		if c.Passed {
			state = "PASS"
		}
		fmt.Fprintf(&b, "  %s: %s\n", c.Name, state)
	}

	if len(r.Errors) > 0 {
		b.WriteString("\nERRORS:\n")
		for _, e := range r.Errors {
			b.WriteString("  - " + e + "\n")
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\nWARNINGS:\n")
		for _, w := range r.Warnings {
			b.WriteString("  - " + w + "\n")
		}
	}

	b.WriteString(line + "\n")
	return b.String()
}
