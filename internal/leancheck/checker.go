// Package leancheck wraps the external Lean checker: it manages the
// lifecycle of one candidate artifact per call (write, invoke, parse,
// delete) against a shared Lean project tree. Only one check may be in
// flight at a time; the pipeline's sequential scheduling guarantees
// that structurally.
package leancheck

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ToolError means the checker process itself could not run correctly.
// It is fatal and never retried, unlike an ordinary compile reject.
type ToolError struct {
	Trace string
}

func (e *ToolError) Error() string {
	return "lean checker failed: " + e.Trace
}

// runFunc invokes the checker script against a relative source path and
// returns its two output channels. Injectable for tests.
type runFunc func(ctx context.Context, script, relPath, projectRoot string) (stdout, stderr string, err error)

// Checker validates candidate Lean sources against a Lean project.
type Checker struct {
	projectRoot string
	sourceDir   string
	script      string
	logger      *zap.Logger
	run         runFunc
}

// New creates a checker for the Lean project at projectRoot. Candidate
// files are written under sourceDir (relative to the root) and script
// is the checker entry point invoked per call.
func New(projectRoot, sourceDir, script string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		projectRoot: projectRoot,
		sourceDir:   sourceDir,
		script:      script,
		logger:      logger,
		run:         runScript,
	}
}

// Check validates one candidate, optionally alongside auxiliary premise
// sources the candidate imports. It returns a Report on both accept and
// reject; the error is non-nil only for infrastructure failures
// (ToolError) or filesystem problems. All temporary files are removed
// before return on every path, including cancellation.
func (c *Checker) Check(ctx context.Context, candidate string, premises []string) (*Report, error) {
	primary, err := c.writeTemp(candidate)
	if err != nil {
		return nil, err
	}
	written := []string{primary}
	defer func() {
		for _, name := range written {
			if rmErr := os.Remove(filepath.Join(c.projectRoot, c.sourceDir, name)); rmErr != nil {
				c.logger.Warn("failed to remove temp source",
					zap.String("name", name), zap.Error(rmErr))
			}
		}
	}()

	for _, premise := range premises {
		name, err := c.writeTemp(premise)
		if err != nil {
			return nil, err
		}
		written = append(written, name)
	}

	relPath := filepath.Join(c.sourceDir, primary)
	c.logger.Debug("invoking lean checker", zap.String("path", relPath))

	stdout, stderr, runErr := c.run(ctx, c.script, relPath, c.projectRoot)
	if trace := strings.TrimSpace(stderr); trace != "" {
		return nil, &ToolError{Trace: trace}
	}
	if runErr != nil {
		return nil, &ToolError{Trace: runErr.Error()}
	}

	report, err := parseOutput(stdout)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("lean checker finished",
		zap.Bool("accepted", report.Accepted),
		zap.Int("diagnostics", len(report.Diagnostics)))
	return report, nil
}

// writeTemp writes content under a fresh random name in the managed
// source dir and returns the file name.
func (c *Checker) writeTemp(content string) (string, error) {
	name := tempName() + ".lean"
	dir := filepath.Join(c.projectRoot, c.sourceDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create source dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write temp source: %w", err)
	}
	return name, nil
}

const tempNameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const tempNameLength = 16

// tempName returns a random alphanumeric identifier long enough that
// collision between concurrently-alive temp files is negligible.
func tempName() string {
	buf := make([]byte, tempNameLength)
	if _, err := rand.Read(buf); err != nil {
		panic("leancheck: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = tempNameAlphabet[int(b)%len(tempNameAlphabet)]
	}
	return string(buf)
}

// runScript is the default runFunc: bash <script> <relPath> <projectRoot>
// with stdout and stderr captured separately.
func runScript(ctx context.Context, script, relPath, projectRoot string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "bash", script, relPath, projectRoot)
	cmd.Dir = projectRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// parseOutput decodes the checker's stdout protocol:
// "<exit_code>|<json-lines>". A missing separator means the checker did
// not speak the protocol at all, which is an infrastructure failure.
func parseOutput(stdout string) (*Report, error) {
	payload := strings.TrimSpace(stdout)
	code, rest, found := strings.Cut(payload, "|")
	if !found {
		return nil, &ToolError{Trace: fmt.Sprintf("malformed checker output: %q", payload)}
	}
	return &Report{
		Accepted:    code == "0",
		Diagnostics: parseDiagnostics(rest),
	}, nil
}

// wireDiagnostic mirrors one JSON record on the diagnostics channel.
type wireDiagnostic struct {
	Data     string        `json:"data"`
	Pos      *wirePosition `json:"pos"`
	EndPos   *wirePosition `json:"endPos"`
	Severity string        `json:"severity"`
}

// parseDiagnostics decodes the newline-delimited JSON payload. A
// payload that fails structured parsing is not discarded: it becomes a
// single synthetic diagnostic carrying the raw text with unknown
// positions.
func parseDiagnostics(payload string) []Diagnostic {
	if strings.TrimSpace(payload) == "" {
		return nil
	}

	var out []Diagnostic
	for _, line := range strings.Split(payload, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var w wireDiagnostic
		if err := json.Unmarshal([]byte(line), &w); err != nil {
			return []Diagnostic{{
				Data:     payload,
				Severity: SeverityError,
			}}
		}
		d := Diagnostic{
			Data:     w.Data,
			Severity: w.Severity,
		}
		if w.Pos != nil {
			d.Pos = w.Pos.toPosition()
		}
		if w.EndPos != nil {
			d.EndPos = w.EndPos.toPosition()
		}
		d.classify()
		out = append(out, d)
	}
	return out
}
