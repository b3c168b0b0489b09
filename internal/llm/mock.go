package llm

import (
	"context"
	"fmt"

	"github.com/yuchenw/deepresearch/internal/domain"
)

// MockClient is a deterministic offline stand-in for a real model. It
// produces plausible structured output so full turns can run without
// network access or API keys.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) GeneratePlan(ctx context.Context, query string) ([]domain.PlanStep, error) {
	return []domain.PlanStep{
		{
			StepID: "s1",
			Goal:   "Gather background on: " + query,
			Way:    "search internal docs first",
			ActionSeed: []domain.NextAction{
				{Action: "RAG", Query: query},
			},
			DoneCriteria: "core facts established",
			Priority:     1,
			Status:       domain.StepNotStart,
		},
		{
			StepID: "s2",
			Goal:   "Verify with external sources: " + query,
			Way:    "cross-check recent public material",
			ActionSeed: []domain.NextAction{
				{Action: "WEB", Query: query + " latest"},
			},
			DoneCriteria: "claims corroborated",
			Priority:     2,
			Status:       domain.StepNotStart,
		},
	}, nil
}

func (m *MockClient) Evaluate(ctx context.Context, in domain.EvaluateInput) (*domain.EvaluateSnapshot, error) {
	if len(in.Claims) == 0 {
		return &domain.EvaluateSnapshot{
			Metrics: domain.Metrics{Sufficiency: 0.2, Reliability: 0.5, Consistency: 0.5, Recency: 0.5, Diversity: 0.3},
			Issues: []domain.Issue{{
				Type:     domain.IssueGap,
				Severity: domain.SeverityHigh,
				Blocking: true,
				Desc:     "no claims yet",
				Aspect:   "general",
			}},
			Passed: false,
		}, nil
	}
	return &domain.EvaluateSnapshot{
		Metrics: domain.Metrics{Sufficiency: 0.85, Reliability: 0.8, Consistency: 0.8, Recency: 0.75, Diversity: 0.7},
		Passed:  true,
	}, nil
}

func (m *MockClient) Decide(ctx context.Context, in domain.DecideInput) (*domain.Decision, error) {
	if in.LastEvaluate != nil && in.LastEvaluate.Passed {
		return &domain.Decision{Action: domain.ActionFinish, Rationale: "evaluation passed"}, nil
	}
	return &domain.Decision{Action: domain.ActionRAG, Rationale: "fill the gap from internal docs"}, nil
}

func (m *MockClient) GenerateRAGQuery(ctx context.Context, in domain.QueryGenInput) (*domain.RAGQuery, error) {
	return &domain.RAGQuery{Query: in.Step.Goal, TopK: 3}, nil
}

func (m *MockClient) GenerateWebQuery(ctx context.Context, in domain.QueryGenInput) (*domain.WebSearchQuery, error) {
	return &domain.WebSearchQuery{Query: in.Step.Goal, NumResults: 3}, nil
}

func (m *MockClient) SynthesizeClaims(ctx context.Context, in domain.SynthesizeInput) ([]domain.Claim, error) {
	base := len(in.PreviousClaims)
	salience := 0.6

	var claims []domain.Claim
	for i, ev := range in.Evidences {
		if i == 3 {
			break
		}
		c := domain.Claim{
			ID:         fmt.Sprintf("c%d", base+i+1),
			Text:       truncate(ev.Text, 120),
			SupportIDs: []string{ev.ID},
			Aspects:    []string{"general"},
			Confidence: 0.75,
			Salience:   &salience,
		}
		if in.StanceEnabled {
			c.Stance = domain.StanceNeutral
		}
		claims = append(claims, c)
	}
	return claims, nil
}

func (m *MockClient) PlanConflictSearch(ctx context.Context, in domain.ConflictPlanInput) (*domain.SearchPlan, error) {
	return &domain.SearchPlan{
		RAGQueries: []domain.RAGQuery{{Query: "authoritative data on " + in.Step.Goal, TopK: 3}},
		WebQueries: []domain.WebSearchQuery{{Query: "official statement " + in.Step.Goal, NumResults: 3}},
		Rubric: domain.Rubric{
			Normalization:  []string{"unify units", "align time windows"},
			Precedence:     []string{"official/academic > standards/regulatory > vendor > media"},
			ComparisonKeys: []string{"value", "date"},
		},
	}, nil
}

func (m *MockClient) AdjudicateConflicts(ctx context.Context, in domain.AdjudicateInput) ([]domain.UpdatedClaim, *domain.ResolutionSummary, error) {
	updates := make([]domain.UpdatedClaim, 0, len(in.Claims))
	for _, c := range in.Claims {
		updates = append(updates, domain.UpdatedClaim{
			ClaimID:       c.ID,
			Action:        domain.VerdictUpheld,
			NewConfidence: 0.8,
			Rationale:     "no decisive counter-evidence",
		})
	}
	return updates, &domain.ResolutionSummary{
		GroupsTotal:    len(in.Conflicts),
		GroupsResolved: len(in.Conflicts),
	}, nil
}

func (m *MockClient) GenerateAnswer(ctx context.Context, query string, claims []domain.Claim, evidenceURLs map[string]string) (string, error) {
	out := "## " + query + "\n\n"
	for _, c := range claims {
		out += fmt.Sprintf("- %s (confidence %.2f)\n", c.Text, c.Confidence)
	}
	return out, nil
}

func (m *MockClient) SimulateRAGResults(ctx context.Context, q domain.RAGQuery) ([]domain.EvidenceItem, error) {
	n := q.TopK
	if n <= 0 || n > 5 {
		n = 3
	}
	out := make([]domain.EvidenceItem, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.EvidenceItem{
			Source: domain.Source{
				URL:    fmt.Sprintf("kb://docs/%s/%d", slug(q.Query), i+1),
				Domain: "internal",
				Type:   "internal",
			},
			Time: "2025-11",
			Text: fmt.Sprintf("Internal note %d on %s.", i+1, q.Query),
		})
	}
	return out, nil
}

func (m *MockClient) SimulateWebResults(ctx context.Context, q domain.WebSearchQuery) ([]domain.EvidenceItem, error) {
	n := q.NumResults
	if n <= 0 || n > 5 {
		n = 3
	}
	types := []string{"official", "media", "forum"}
	out := make([]domain.EvidenceItem, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.EvidenceItem{
			Source: domain.Source{
				URL:    fmt.Sprintf("https://example.org/%s/%d", slug(q.Query), i+1),
				Domain: "example.org",
				Type:   types[i%len(types)],
			},
			Time: "2026-01",
			Text: fmt.Sprintf("Public report %d on %s.", i+1, q.Query),
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func slug(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ':
			out = append(out, '-')
		}
	}
	if len(out) > 40 {
		out = out[:40]
	}
	return string(out)
}
