package formalize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"leanforge/internal/leancheck"
	"leanforge/internal/llm"
	"leanforge/internal/trace"
)

type fakeCall struct {
	system  string
	user    string
	history []llm.Turn
}

// fakeClient replays scripted responses in call order.
type fakeClient struct {
	mu        sync.Mutex
	responses []string
	errs      map[int]error
	calls     []fakeCall
}

func (c *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithHistory(ctx, "", nil, prompt)
}

func (c *fakeClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return c.CompleteWithHistory(ctx, system, nil, user)
}

func (c *fakeClient) CompleteWithHistory(ctx context.Context, system string, history []llm.Turn, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.calls)
	snapshot := make([]llm.Turn, len(history))
	copy(snapshot, history)
	c.calls = append(c.calls, fakeCall{system: system, user: user, history: snapshot})
	if err, ok := c.errs[idx]; ok {
		return "", err
	}
	if idx >= len(c.responses) {
		return "", fmt.Errorf("unexpected call %d", idx)
	}
	return c.responses[idx], nil
}

type checkCall struct {
	candidate string
	premises  []string
}

// fakeChecker replays scripted reports in call order.
type fakeChecker struct {
	mu      sync.Mutex
	reports []*leancheck.Report
	errs    map[int]error
	calls   []checkCall
}

func (c *fakeChecker) Check(ctx context.Context, candidate string, premises []string) (*leancheck.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.calls)
	c.calls = append(c.calls, checkCall{candidate: candidate, premises: premises})
	if err, ok := c.errs[idx]; ok {
		return nil, err
	}
	if idx >= len(c.reports) {
		return nil, fmt.Errorf("unexpected check %d", idx)
	}
	return c.reports[idx], nil
}

// memorySink collects trace records in memory.
type memorySink struct {
	mu   sync.Mutex
	recs []trace.Record
}

func (s *memorySink) Append(rec trace.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func leanResponse(code string) string {
	return "Some reasoning first.\n\n### Lean Code\n```lean\n" + code + "\n```\n"
}

func jsonResponse(payload string) string {
	return "Some reasoning first.\n\n### Output\n```json\n" + payload + "\n```\n"
}

func accepted() *leancheck.Report {
	return &leancheck.Report{Accepted: true}
}

func rejected(msg string) *leancheck.Report {
	return &leancheck.Report{
		Accepted: false,
		Diagnostics: []leancheck.Diagnostic{
			{Data: msg, Severity: leancheck.SeverityError},
		},
	}
}

func newLoop(client *fakeClient, checker *fakeChecker, sink TraceSink, maxAttempts int, t *testing.T) *loop {
	return &loop{
		client:      client,
		checker:     checker,
		trace:       sink,
		logger:      zaptest.NewLogger(t),
		maxAttempts: maxAttempts,
		runID:       "run-1",
		stage:       "table_formalization",
		entity:      "orders.order_items",
	}
}

func TestLoopAcceptsFirstCandidate(t *testing.T) {
	client := &fakeClient{responses: []string{leanResponse("structure A")}}
	checker := &fakeChecker{reports: []*leancheck.Report{accepted()}}
	l := newLoop(client, checker, nil, 3, t)

	res, err := l.run(context.Background(), "system", "prompt", nil)
	require.NoError(t, err)
	assert.True(t, res.accepted)
	assert.Equal(t, "structure A", res.candidate)
	assert.Equal(t, 1, res.attempts)
	assert.Len(t, client.calls, 1)
	assert.Len(t, checker.calls, 1)
}

func TestLoopCommitsSecondCandidateVerbatim(t *testing.T) {
	client := &fakeClient{responses: []string{
		leanResponse("structure Bad"),
		leanResponse("structure Good"),
	}}
	checker := &fakeChecker{reports: []*leancheck.Report{
		rejected("type mismatch"),
		accepted(),
	}}
	l := newLoop(client, checker, nil, 3, t)

	res, err := l.run(context.Background(), "system", "prompt", nil)
	require.NoError(t, err)
	assert.True(t, res.accepted)
	assert.Equal(t, "structure Good", res.candidate)
	assert.Equal(t, 2, res.attempts)

	// The second generation sees the first attempt and its rejection.
	require.Len(t, client.calls, 2)
	second := client.calls[1]
	require.Len(t, second.history, 2)
	assert.Equal(t, llm.RoleUser, second.history[0].Role)
	assert.Equal(t, "prompt", second.history[0].Content)
	assert.Equal(t, llm.RoleAssistant, second.history[1].Role)
	assert.Contains(t, second.history[1].Content, "structure Bad")
	assert.Contains(t, second.user, "type mismatch")
}

func TestLoopExhaustsBudget(t *testing.T) {
	client := &fakeClient{responses: []string{
		leanResponse("a"), leanResponse("b"), leanResponse("c"),
	}}
	checker := &fakeChecker{reports: []*leancheck.Report{
		rejected("e1"), rejected("e2"), rejected("e3"),
	}}
	l := newLoop(client, checker, nil, 3, t)

	res, err := l.run(context.Background(), "system", "prompt", nil)
	require.NoError(t, err)
	assert.False(t, res.accepted)
	assert.Empty(t, res.candidate)
	assert.Equal(t, 3, res.attempts)
	assert.Len(t, client.calls, 3, "exactly one generation per attempt")
	assert.Len(t, checker.calls, 3, "exactly one validation per attempt")
}

func TestLoopToolFailureAbortsImmediately(t *testing.T) {
	toolErr := &leancheck.ToolError{Trace: "boom"}
	client := &fakeClient{responses: []string{leanResponse("a")}}
	checker := &fakeChecker{errs: map[int]error{0: toolErr}}
	l := newLoop(client, checker, nil, 5, t)

	_, err := l.run(context.Background(), "system", "prompt", nil)
	var te *leancheck.ToolError
	require.ErrorAs(t, err, &te)
	assert.Len(t, client.calls, 1, "no retry after a tool failure")
}

func TestLoopMissingSectionConsumesAttempt(t *testing.T) {
	client := &fakeClient{responses: []string{
		"no code here",
		leanResponse("structure A"),
	}}
	checker := &fakeChecker{reports: []*leancheck.Report{accepted()}}
	l := newLoop(client, checker, nil, 3, t)

	res, err := l.run(context.Background(), "system", "prompt", nil)
	require.NoError(t, err)
	assert.True(t, res.accepted)
	assert.Equal(t, 2, res.attempts)
	assert.Len(t, checker.calls, 1, "malformed response never reaches the checker")
	assert.Contains(t, client.calls[1].user, "### Lean Code")
}

func TestLoopGenerationFailureConsumesAttempt(t *testing.T) {
	client := &fakeClient{
		responses: []string{"", leanResponse("structure A")},
		errs:      map[int]error{0: errors.New("rate limited")},
	}
	checker := &fakeChecker{reports: []*leancheck.Report{accepted()}}
	l := newLoop(client, checker, nil, 3, t)

	res, err := l.run(context.Background(), "system", "prompt", nil)
	require.NoError(t, err)
	assert.True(t, res.accepted)
	assert.Equal(t, 2, res.attempts)
}

func TestLoopContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &fakeClient{}
	checker := &fakeChecker{}
	l := newLoop(client, checker, nil, 3, t)

	_, err := l.run(ctx, "system", "prompt", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.calls)
}

func TestLoopRecordsTrace(t *testing.T) {
	sink := &memorySink{}
	client := &fakeClient{responses: []string{
		leanResponse("bad"), leanResponse("good"),
	}}
	checker := &fakeChecker{reports: []*leancheck.Report{
		rejected("oops"), accepted(),
	}}
	l := newLoop(client, checker, sink, 3, t)

	_, err := l.run(context.Background(), "system", "prompt", nil)
	require.NoError(t, err)
	require.Len(t, sink.recs, 2)
	assert.Equal(t, "run-1", sink.recs[0].RunID)
	assert.Equal(t, "table_formalization", sink.recs[0].Stage)
	assert.Equal(t, "orders.order_items", sink.recs[0].Entity)
	assert.Equal(t, 1, sink.recs[0].Attempt)
	assert.Equal(t, 2, sink.recs[1].Attempt)
	assert.True(t, sink.recs[0].Success)
}

func TestRejectionFeedbackIncludesGoals(t *testing.T) {
	report := &leancheck.Report{Diagnostics: []leancheck.Diagnostic{
		{Data: "type mismatch", Severity: leancheck.SeverityError},
		{Data: "unsolved goals\n⊢ x = x", Severity: leancheck.SeverityError, Goal: "⊢ x = x"},
	}}
	fb := rejectionFeedback(report, "structure A")
	assert.Contains(t, fb, "type mismatch")
	assert.Contains(t, fb, "⊢ x = x")
}
