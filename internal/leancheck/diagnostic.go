package leancheck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Severity levels reported by the Lean checker.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// unsolvedGoalsMarker prefixes diagnostics that report open proof
// obligations rather than malformed code.
const unsolvedGoalsMarker = "unsolved goals\n"

// Position is a source coordinate. The checker reports "Unknown" when
// it cannot map a diagnostic to source; Known is false in that case and
// callers should treat the whole artifact as the affected span.
type Position struct {
	Line   int
	Column int
	Known  bool
}

func (p Position) String() string {
	if !p.Known {
		return "line Unknown, column Unknown"
	}
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// wirePosition decodes the checker's {line, column} objects, where each
// field is either an int or the literal string "Unknown".
type wirePosition struct {
	Line   json.RawMessage `json:"line"`
	Column json.RawMessage `json:"column"`
}

func (w *wirePosition) toPosition() Position {
	line, lineOK := decodeCoord(w.Line)
	col, colOK := decodeCoord(w.Column)
	if !lineOK || !colOK {
		return Position{}
	}
	return Position{Line: line, Column: col, Known: true}
}

func decodeCoord(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || bytes.HasPrefix(raw, []byte(`"`)) {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// Diagnostic is one observation emitted by the checker about a
// candidate artifact.
type Diagnostic struct {
	Data     string
	Pos      Position
	EndPos   Position
	Severity string

	// Goal holds the extracted obligation text when this diagnostic
	// reports unsolved proof goals; empty otherwise.
	Goal string
}

// IsUnsolvedGoal reports whether this diagnostic is an open proof
// obligation rather than a malformed-code error.
func (d Diagnostic) IsUnsolvedGoal() bool {
	return d.Goal != ""
}

// classify extracts the unsolved-goal payload when present.
func (d *Diagnostic) classify() {
	if strings.HasPrefix(d.Data, unsolvedGoalsMarker) {
		d.Goal = strings.TrimSpace(strings.TrimPrefix(d.Data, unsolvedGoalsMarker))
	}
}

// Report is the outcome of one checker invocation.
type Report struct {
	Accepted    bool
	Diagnostics []Diagnostic
}

// Errors returns diagnostics with error severity, excluding unsolved
// goals, which callers handle separately.
func (r *Report) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError && !d.IsUnsolvedGoal() {
			out = append(out, d)
		}
	}
	return out
}

// UnsolvedGoals returns diagnostics reporting open proof obligations.
func (r *Report) UnsolvedGoals() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.IsUnsolvedGoal() {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns diagnostics with warning severity.
func (r *Report) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}

// FormatDiagnostics renders diagnostics as a markdown table, pulling
// the offending span out of the candidate source where positions are
// known. The result feeds the next attempt's retry prompt.
func FormatDiagnostics(diags []Diagnostic, source string) string {
	var b strings.Builder
	b.WriteString("| Error | Start | End | Content |\n| --- | --- | --- | --- |\n")
	lines := strings.Split(source, "\n")
	for _, d := range diags {
		data := d.Data
		if data == "" {
			data = "Unknown error"
		}
		content := extractSpan(lines, d.Pos, d.EndPos)
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			strings.ReplaceAll(data, "\n", " "), d.Pos, d.EndPos,
			strings.ReplaceAll(content, "\n", " "))
	}
	return b.String()
}

// FormatGoals renders unsolved goals as plain text separated by blank
// lines.
func FormatGoals(goals []Diagnostic) string {
	parts := make([]string, 0, len(goals))
	for _, g := range goals {
		parts = append(parts, g.Goal)
	}
	return strings.Join(parts, "\n\n")
}

// suffixMargin extends extracted spans a little past the reported end
// column so truncated tokens stay readable in the retry prompt.
const suffixMargin = 5

// extractSpan returns the source text covered by [start, end]. Lines
// and columns are 1-based per the checker protocol; an unknown start
// yields an empty span, an unknown end runs to the end of the source.
func extractSpan(lines []string, start, end Position) string {
	if !start.Known || start.Line < 1 || start.Line > len(lines) {
		return ""
	}
	if !end.Known {
		end = Position{Line: len(lines), Column: len(lines[len(lines)-1]), Known: true}
	}
	if end.Line > len(lines) {
		end.Line = len(lines)
	}

	startLine := lines[start.Line-1]
	if start.Line == end.Line {
		lo := clamp(start.Column, 0, len(startLine))
		hi := clamp(end.Column+suffixMargin, lo, len(startLine))
		return startLine[lo:hi]
	}

	var b strings.Builder
	b.WriteString(startLine[clamp(start.Column, 0, len(startLine)):])
	for i := start.Line; i < end.Line-1; i++ {
		b.WriteString("\n")
		b.WriteString(lines[i])
	}
	endLine := lines[end.Line-1]
	b.WriteString("\n")
	b.WriteString(endLine[:clamp(end.Column+suffixMargin, 0, len(endLine))])
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
