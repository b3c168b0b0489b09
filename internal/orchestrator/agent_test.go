package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yuchenw/deepresearch/internal/conflict"
	"github.com/yuchenw/deepresearch/internal/domain"
	"github.com/yuchenw/deepresearch/internal/ledger"
	"github.com/yuchenw/deepresearch/internal/llm"
	"github.com/yuchenw/deepresearch/internal/monitor"
	"github.com/yuchenw/deepresearch/internal/retrieval"
	"go.uber.org/zap"
)

// scriptedLLM overrides individual calls on top of the deterministic mock.
type scriptedLLM struct {
	*llm.MockClient

	planFn     func(ctx context.Context, query string) ([]domain.PlanStep, error)
	evaluateFn func(ctx context.Context, in domain.EvaluateInput) (*domain.EvaluateSnapshot, error)
	decideFn   func(ctx context.Context, in domain.DecideInput) (*domain.Decision, error)
	answerFn   func(ctx context.Context, query string, claims []domain.Claim, urls map[string]string) (string, error)
}

func (s *scriptedLLM) GeneratePlan(ctx context.Context, query string) ([]domain.PlanStep, error) {
	if s.planFn != nil {
		return s.planFn(ctx, query)
	}
	return s.MockClient.GeneratePlan(ctx, query)
}

func (s *scriptedLLM) Evaluate(ctx context.Context, in domain.EvaluateInput) (*domain.EvaluateSnapshot, error) {
	if s.evaluateFn != nil {
		return s.evaluateFn(ctx, in)
	}
	return s.MockClient.Evaluate(ctx, in)
}

func (s *scriptedLLM) Decide(ctx context.Context, in domain.DecideInput) (*domain.Decision, error) {
	if s.decideFn != nil {
		return s.decideFn(ctx, in)
	}
	return s.MockClient.Decide(ctx, in)
}

func (s *scriptedLLM) GenerateAnswer(ctx context.Context, query string, claims []domain.Claim, urls map[string]string) (string, error) {
	if s.answerFn != nil {
		return s.answerFn(ctx, query, claims, urls)
	}
	return s.MockClient.GenerateAnswer(ctx, query, claims, urls)
}

func newOrchestrator(client domain.LLMClient, maxLoops int) (*Orchestrator, *ledger.Ledger) {
	logger := zap.NewNop()
	l := ledger.New(nil, logger)
	r := retrieval.New(client, nil, nil, logger)
	pipeline := conflict.New(l, client, r, monitor.NopSink{}, logger)
	return New(l, client, r, pipeline, monitor.NopSink{}, maxLoops, logger), l
}

func TestRunTurn_HappyPath(t *testing.T) {
	o, l := newOrchestrator(llm.NewMockClient(), 0)

	res := o.RunTurn(context.Background(), "sess_1", "solar capacity trends", TurnOptions{})
	if res.Failed {
		t.Fatal("turn reported failure")
	}
	if res.Answer == "" {
		t.Error("empty answer")
	}
	if len(res.Claims) == 0 {
		t.Error("no claims produced")
	}

	for _, step := range l.PlanList("sess_1", res.TurnID) {
		if step.Status != domain.StepFinished {
			t.Errorf("step %s status = %q, want FINISHED", step.StepID, step.Status)
		}
	}
	if l.SessionArchive("sess_1") == "" {
		t.Error("rollup did not populate the session archive")
	}
	if len(l.ActionLogs("sess_1", res.TurnID)) == 0 {
		t.Error("no actions recorded")
	}
}

func TestRunTurn_PlannerFailureUsesSingleStep(t *testing.T) {
	client := &scriptedLLM{
		MockClient: llm.NewMockClient(),
		planFn: func(ctx context.Context, query string) ([]domain.PlanStep, error) {
			return nil, errors.New("model unavailable")
		},
	}
	o, l := newOrchestrator(client, 0)

	res := o.RunTurn(context.Background(), "sess_1", "some question", TurnOptions{})
	plan := l.PlanList("sess_1", res.TurnID)
	if len(plan) != 1 || plan[0].StepID != "s1" {
		t.Fatalf("plan = %+v, want single s1 fallback", plan)
	}
	if plan[0].Goal != "some question" {
		t.Errorf("fallback goal = %q", plan[0].Goal)
	}
}

func TestRunTurn_StepLoopCapForcesFinish(t *testing.T) {
	evalCalls := 0
	client := &scriptedLLM{
		MockClient: llm.NewMockClient(),
		planFn: func(ctx context.Context, query string) ([]domain.PlanStep, error) {
			return []domain.PlanStep{{StepID: "s1", Goal: query, Status: domain.StepNotStart}}, nil
		},
		evaluateFn: func(ctx context.Context, in domain.EvaluateInput) (*domain.EvaluateSnapshot, error) {
			evalCalls++
			return &domain.EvaluateSnapshot{
				Issues: []domain.Issue{{Type: domain.IssueGap, Severity: domain.SeverityMed, Blocking: true, Desc: "never enough", Aspect: "depth"}},
			}, nil
		},
		decideFn: func(ctx context.Context, in domain.DecideInput) (*domain.Decision, error) {
			return &domain.Decision{Action: domain.ActionRAG, Rationale: "keep digging"}, nil
		},
	}
	o, l := newOrchestrator(client, 100)

	res := o.RunTurn(context.Background(), "sess_1", "q", TurnOptions{})
	if evalCalls != maxStepLoops {
		t.Errorf("evaluate calls = %d, want %d (per-step cap)", evalCalls, maxStepLoops)
	}
	if got := l.PlanList("sess_1", res.TurnID)[0].Status; got != domain.StepFinished {
		t.Errorf("step status = %q, want forced FINISHED", got)
	}
}

func TestRunTurn_BudgetExhaustionLeavesStepUnfinished(t *testing.T) {
	client := &scriptedLLM{
		MockClient: llm.NewMockClient(),
		planFn: func(ctx context.Context, query string) ([]domain.PlanStep, error) {
			return []domain.PlanStep{{StepID: "s1", Goal: query, Status: domain.StepNotStart}}, nil
		},
		evaluateFn: func(ctx context.Context, in domain.EvaluateInput) (*domain.EvaluateSnapshot, error) {
			return &domain.EvaluateSnapshot{
				Issues: []domain.Issue{{Type: domain.IssueGap, Severity: domain.SeverityMed, Blocking: true, Desc: "gap"}},
			}, nil
		},
		decideFn: func(ctx context.Context, in domain.DecideInput) (*domain.Decision, error) {
			return &domain.Decision{Action: domain.ActionRAG}, nil
		},
	}
	o, l := newOrchestrator(client, 2)

	res := o.RunTurn(context.Background(), "sess_1", "q", TurnOptions{})
	// Only the per-step cap of 5 forces completion; running out of turn
	// budget leaves the step as it was.
	if got := l.PlanList("sess_1", res.TurnID)[0].Status; got != domain.StepRunning {
		t.Errorf("step status = %q, want RUNNING after budget exhaustion", got)
	}
	if res.Answer == "" {
		t.Error("budget exhaustion must still produce an answer")
	}
}

func TestRunTurn_TotalBudgetStopsTurn(t *testing.T) {
	evalCalls := 0
	client := &scriptedLLM{
		MockClient: llm.NewMockClient(),
		evaluateFn: func(ctx context.Context, in domain.EvaluateInput) (*domain.EvaluateSnapshot, error) {
			evalCalls++
			return &domain.EvaluateSnapshot{
				Issues: []domain.Issue{{Type: domain.IssueGap, Severity: domain.SeverityMed, Blocking: true, Desc: "gap"}},
			}, nil
		},
		decideFn: func(ctx context.Context, in domain.DecideInput) (*domain.Decision, error) {
			return &domain.Decision{Action: domain.ActionRAG}, nil
		},
	}
	o, _ := newOrchestrator(client, 3)

	res := o.RunTurn(context.Background(), "sess_1", "q", TurnOptions{})
	if evalCalls > 3 {
		t.Errorf("evaluate calls = %d, want at most 3", evalCalls)
	}
	if res.Answer == "" {
		t.Error("budget exhaustion must still produce an answer")
	}
}

func TestRunTurn_IncludeContextEnrichesPlanOnly(t *testing.T) {
	var planQuery, answerQuery string
	client := &scriptedLLM{
		MockClient: llm.NewMockClient(),
		planFn: func(ctx context.Context, query string) ([]domain.PlanStep, error) {
			planQuery = query
			return llm.NewMockClient().GeneratePlan(ctx, query)
		},
		answerFn: func(ctx context.Context, query string, claims []domain.Claim, urls map[string]string) (string, error) {
			answerQuery = query
			return "answer", nil
		},
	}
	o, _ := newOrchestrator(client, 0)

	// First turn builds the archive.
	o.RunTurn(context.Background(), "sess_1", "first question", TurnOptions{})

	o.RunTurn(context.Background(), "sess_1", "second question", TurnOptions{IncludeContext: true})
	if !strings.Contains(planQuery, "second question") || !strings.Contains(planQuery, "first question") {
		t.Errorf("planning query missing context: %q", planQuery)
	}
	if answerQuery != "second question" {
		t.Errorf("answer query = %q, want the original question", answerQuery)
	}
}

func TestRunTurn_PanicYieldsGenericFailure(t *testing.T) {
	client := &scriptedLLM{
		MockClient: llm.NewMockClient(),
		evaluateFn: func(ctx context.Context, in domain.EvaluateInput) (*domain.EvaluateSnapshot, error) {
			panic("boom")
		},
	}
	o, _ := newOrchestrator(client, 0)

	res := o.RunTurn(context.Background(), "sess_1", "q", TurnOptions{})
	if !res.Failed {
		t.Fatal("want Failed = true")
	}
	if res.Answer != failureMessage {
		t.Errorf("answer = %q, want generic failure message", res.Answer)
	}
}

func TestRunTurn_ConflictBranchRetracts(t *testing.T) {
	conflictOnce := true
	client := &scriptedLLM{
		MockClient: llm.NewMockClient(),
		planFn: func(ctx context.Context, query string) ([]domain.PlanStep, error) {
			return []domain.PlanStep{{StepID: "s1", Goal: query, Status: domain.StepNotStart}}, nil
		},
		evaluateFn: func(ctx context.Context, in domain.EvaluateInput) (*domain.EvaluateSnapshot, error) {
			if len(in.Claims) == 0 {
				return &domain.EvaluateSnapshot{
					Issues: []domain.Issue{{Type: domain.IssueGap, Severity: domain.SeverityHigh, Blocking: true, Desc: "empty"}},
				}, nil
			}
			if conflictOnce {
				conflictOnce = false
				return &domain.EvaluateSnapshot{
					Issues: []domain.Issue{{
						Type: domain.IssueConflict, Severity: domain.SeverityHigh, Blocking: true,
						Desc: "claims disagree", Claims: []string{"c1", "c2"},
					}},
				}, nil
			}
			return &domain.EvaluateSnapshot{Metrics: domain.Metrics{Sufficiency: 0.9, Reliability: 0.9, Consistency: 0.9, Recency: 0.9, Diversity: 0.9}, Passed: true}, nil
		},
		decideFn: func(ctx context.Context, in domain.DecideInput) (*domain.Decision, error) {
			// Force the deterministic fallback path.
			return nil, errors.New("undecided")
		},
	}
	o, l := newOrchestrator(client, 0)

	res := o.RunTurn(context.Background(), "sess_1", "q", TurnOptions{})
	if res.Failed {
		t.Fatal("turn failed")
	}
	// The mock adjudicator upholds everything at 0.8.
	for _, c := range l.Claims("sess_1", res.TurnID) {
		if c.ID == "c1" && c.Confidence != 0.8 {
			t.Errorf("c1 confidence = %v, want 0.8 after adjudication", c.Confidence)
		}
	}
	if got := l.PlanList("sess_1", res.TurnID)[0].Status; got != domain.StepFinished {
		t.Errorf("step status = %q, want FINISHED", got)
	}
}

func TestFallbackDecision_Precedence(t *testing.T) {
	cases := []struct {
		name string
		snap *domain.EvaluateSnapshot
		want string
	}{
		{"nil snapshot", nil, domain.ActionRAG},
		{"passed clean", &domain.EvaluateSnapshot{Passed: true}, domain.ActionFinish},
		{
			"blocking high conflict wins",
			&domain.EvaluateSnapshot{Issues: []domain.Issue{
				{Type: domain.IssueFreshness, Blocking: true},
				{Type: domain.IssueConflict, Severity: domain.SeverityHigh, Blocking: true},
			}},
			domain.ActionResolveConflict,
		},
		{
			"blocking freshness before gap",
			&domain.EvaluateSnapshot{Issues: []domain.Issue{
				{Type: domain.IssueGap},
				{Type: domain.IssueFreshness, Blocking: true},
			}},
			domain.ActionWebSearch,
		},
		{
			"gap",
			&domain.EvaluateSnapshot{Issues: []domain.Issue{{Type: domain.IssueGap}}},
			domain.ActionRAG,
		},
		{
			"nothing matches",
			&domain.EvaluateSnapshot{Issues: []domain.Issue{{Type: domain.IssueQuality}}},
			domain.ActionRAG,
		},
		{
			"passed but blocked is not finish",
			&domain.EvaluateSnapshot{Passed: true, Issues: []domain.Issue{{Type: domain.IssueGap, Blocking: true}}},
			domain.ActionRAG,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := fallbackDecision(tc.snap).Action; got != tc.want {
				t.Errorf("action = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClaimsSummary_CountAndTopByConfidence(t *testing.T) {
	if got := claimsSummary(nil); got != "(no claims yet)" {
		t.Errorf("empty summary = %q", got)
	}

	claims := []domain.Claim{
		{ID: "c1", Text: "weak one", Confidence: 0.10},
		{ID: "c2", Text: "weak two", Confidence: 0.10},
		{ID: "c3", Text: "weak three", Confidence: 0.10},
		{ID: "c4", Text: "weak four", Confidence: 0.10},
		{ID: "c5", Text: "weak five", Confidence: 0.10},
		{ID: "c6", Text: "the strong finding", Confidence: 0.95},
	}
	got := claimsSummary(claims)
	if !strings.HasPrefix(got, "6 claims;") {
		t.Errorf("summary missing count: %q", got)
	}
	if !strings.Contains(got, "c6: the strong finding (0.95)") {
		t.Errorf("summary missing strongest claim: %q", got)
	}
	if strings.Contains(got, "c5") {
		t.Errorf("summary should keep only the top five: %q", got)
	}
	if !strings.HasPrefix(got, "6 claims; top: c6:") {
		t.Errorf("strongest claim not first: %q", got)
	}
}

func TestBuildTurnContext(t *testing.T) {
	if got := BuildTurnContext("", nil); got != "" {
		t.Errorf("empty inputs yield %q, want \"\"", got)
	}

	out := BuildTurnContext("Key findings: a; b", []domain.TurnSummary{
		{TurnID: "t1", Query: "q1", TopFindings: []domain.Claim{{Text: "finding", Confidence: 0.9}}},
	})
	if !strings.Contains(out, "Key findings: a; b") {
		t.Errorf("archive missing: %q", out)
	}
	if !strings.Contains(out, "q1") || !strings.Contains(out, "finding") {
		t.Errorf("prior turn missing: %q", out)
	}
}

func TestFallbackQueryText(t *testing.T) {
	ref := domain.StepRef{Goal: "estimate global solar installation growth for the coming decade"}

	withAspect := fallbackQueryText(ref, &domain.EvaluateSnapshot{
		Issues: []domain.Issue{{Type: domain.IssueGap, Aspect: "pricing"}},
	})
	if !strings.Contains(withAspect, "pricing") {
		t.Errorf("aspect not used: %q", withAspect)
	}

	noAspect := fallbackQueryText(ref, nil)
	if got := len(strings.Fields(noAspect)); got != 5 {
		t.Errorf("word count = %d, want 5: %q", got, noAspect)
	}
}
