package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuchenw/deepresearch/internal/domain"
)

// completer is the transport seam: one prompt in, raw model text out.
// Provider files implement it; Client turns it into typed calls.
type completer interface {
	complete(ctx context.Context, prompt string, temperature float32) (string, error)
}

// Client implements domain.LLMClient on top of any completer.
type Client struct {
	c completer
}

func newClient(c completer) *Client {
	return &Client{c: c}
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (cl *Client) GeneratePlan(ctx context.Context, query string) ([]domain.PlanStep, error) {
	raw, err := cl.c.complete(ctx, fmt.Sprintf(planPrompt, query), 0.3)
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	var steps []domain.PlanStep
	if err := json.Unmarshal([]byte(stripFences(raw)), &steps); err != nil {
		return nil, fmt.Errorf("parse plan: %w (raw: %s)", err, raw)
	}
	for i := range steps {
		steps[i].Status = domain.StepNotStart
	}
	return steps, nil
}

func (cl *Client) Evaluate(ctx context.Context, in domain.EvaluateInput) (*domain.EvaluateSnapshot, error) {
	prompt := fmt.Sprintf(evaluatePrompt,
		in.Step.Goal,
		mustJSON(in.Thresholds),
		mustJSON(in.Claims),
		mustJSON(in.EvidenceMeta))

	raw, err := cl.c.complete(ctx, prompt, 0.1)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	var snap domain.EvaluateSnapshot
	if err := json.Unmarshal([]byte(stripFences(raw)), &snap); err != nil {
		return nil, fmt.Errorf("parse evaluation: %w (raw: %s)", err, raw)
	}
	return &snap, nil
}

func (cl *Client) Decide(ctx context.Context, in domain.DecideInput) (*domain.Decision, error) {
	prompt := fmt.Sprintf(decidePrompt,
		in.Step.Goal,
		in.ClaimsSummary,
		mustJSON(in.LastEvaluate),
		mustJSON(in.Catalog))

	raw, err := cl.c.complete(ctx, prompt, 0.1)
	if err != nil {
		return nil, fmt.Errorf("decide: %w", err)
	}

	var d domain.Decision
	if err := json.Unmarshal([]byte(stripFences(raw)), &d); err != nil {
		return nil, fmt.Errorf("parse decision: %w (raw: %s)", err, raw)
	}
	return &d, nil
}

func (cl *Client) GenerateRAGQuery(ctx context.Context, in domain.QueryGenInput) (*domain.RAGQuery, error) {
	prompt := fmt.Sprintf(ragQueryPrompt,
		in.Step.Goal,
		mustJSON(in.Claims),
		evaluateIssuesJSON(in.LastEvaluate))

	raw, err := cl.c.complete(ctx, prompt, 0.2)
	if err != nil {
		return nil, fmt.Errorf("generate rag query: %w", err)
	}

	var q domain.RAGQuery
	if err := json.Unmarshal([]byte(stripFences(raw)), &q); err != nil {
		return nil, fmt.Errorf("parse rag query: %w (raw: %s)", err, raw)
	}
	if q.TopK <= 0 {
		q.TopK = 5
	}
	return &q, nil
}

func (cl *Client) GenerateWebQuery(ctx context.Context, in domain.QueryGenInput) (*domain.WebSearchQuery, error) {
	prompt := fmt.Sprintf(webQueryPrompt,
		in.Step.Goal,
		mustJSON(in.Claims),
		evaluateIssuesJSON(in.LastEvaluate))

	raw, err := cl.c.complete(ctx, prompt, 0.2)
	if err != nil {
		return nil, fmt.Errorf("generate web query: %w", err)
	}

	var q domain.WebSearchQuery
	if err := json.Unmarshal([]byte(stripFences(raw)), &q); err != nil {
		return nil, fmt.Errorf("parse web query: %w (raw: %s)", err, raw)
	}
	if q.NumResults <= 0 {
		q.NumResults = 5
	}
	return &q, nil
}

func (cl *Client) SynthesizeClaims(ctx context.Context, in domain.SynthesizeInput) ([]domain.Claim, error) {
	stanceRule, stanceField := "", ""
	if in.StanceEnabled {
		stanceRule, stanceField = synthesizeStanceRule, synthesizeStanceField
	}

	prompt := fmt.Sprintf(synthesizePrompt,
		in.UserQuery,
		mustJSON(in.Evidences),
		mustJSON(in.PreviousClaims),
		stanceRule,
		stanceField)

	raw, err := cl.c.complete(ctx, prompt, 0.2)
	if err != nil {
		return nil, fmt.Errorf("synthesize claims: %w", err)
	}

	var claims []domain.Claim
	if err := json.Unmarshal([]byte(stripFences(raw)), &claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w (raw: %s)", err, raw)
	}
	return claims, nil
}

func (cl *Client) PlanConflictSearch(ctx context.Context, in domain.ConflictPlanInput) (*domain.SearchPlan, error) {
	prompt := fmt.Sprintf(conflictPlanPrompt,
		in.Step.Goal,
		mustJSON(in.Conflicts),
		mustJSON(in.Claims),
		mustJSON(in.Catalog))

	raw, err := cl.c.complete(ctx, prompt, 0.2)
	if err != nil {
		return nil, fmt.Errorf("plan conflict search: %w", err)
	}

	var plan domain.SearchPlan
	if err := json.Unmarshal([]byte(stripFences(raw)), &plan); err != nil {
		return nil, fmt.Errorf("parse conflict search plan: %w (raw: %s)", err, raw)
	}
	return &plan, nil
}

// adjudicateResponse matches the adjudication JSON envelope.
type adjudicateResponse struct {
	UpdatedClaims []domain.UpdatedClaim     `json:"updated_claims"`
	Summary       *domain.ResolutionSummary `json:"summary"`
}

func (cl *Client) AdjudicateConflicts(ctx context.Context, in domain.AdjudicateInput) ([]domain.UpdatedClaim, *domain.ResolutionSummary, error) {
	prompt := fmt.Sprintf(adjudicatePrompt,
		in.Step.Goal,
		mustJSON(in.Rubric),
		mustJSON(in.Conflicts),
		mustJSON(in.Claims),
		mustJSON(in.Evidence))

	raw, err := cl.c.complete(ctx, prompt, 0.1)
	if err != nil {
		return nil, nil, fmt.Errorf("adjudicate conflicts: %w", err)
	}

	var resp adjudicateResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		return nil, nil, fmt.Errorf("parse adjudication: %w (raw: %s)", err, raw)
	}
	return resp.UpdatedClaims, resp.Summary, nil
}

func (cl *Client) GenerateAnswer(ctx context.Context, query string, claims []domain.Claim, evidenceURLs map[string]string) (string, error) {
	var sb strings.Builder
	for _, c := range claims {
		sb.WriteString(fmt.Sprintf("- %s (confidence %.2f)", c.Text, c.Confidence))
		for _, id := range c.SupportIDs {
			if url, ok := evidenceURLs[id]; ok {
				sb.WriteString(" " + url)
			}
		}
		sb.WriteString("\n")
	}

	raw, err := cl.c.complete(ctx, fmt.Sprintf(answerPrompt, query, sb.String()), 0.4)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return raw, nil
}

// rawResult is the simulated retrieval shape before ids are assigned.
type rawResult struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Type   string `json:"type"`
	Time   string `json:"time"`
	Text   string `json:"text"`
}

func toEvidence(results []rawResult) []domain.EvidenceItem {
	out := make([]domain.EvidenceItem, 0, len(results))
	for _, r := range results {
		out = append(out, domain.EvidenceItem{
			Source: domain.Source{URL: r.URL, Domain: r.Domain, Type: r.Type},
			Time:   r.Time,
			Text:   r.Text,
		})
	}
	return out
}

func (cl *Client) SimulateRAGResults(ctx context.Context, q domain.RAGQuery) ([]domain.EvidenceItem, error) {
	raw, err := cl.c.complete(ctx, fmt.Sprintf(simulateRAGPrompt, q.TopK, q.Query), 0.7)
	if err != nil {
		return nil, fmt.Errorf("simulate rag results: %w", err)
	}

	var results []rawResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &results); err != nil {
		return nil, fmt.Errorf("parse rag results: %w (raw: %s)", err, raw)
	}
	return toEvidence(results), nil
}

func (cl *Client) SimulateWebResults(ctx context.Context, q domain.WebSearchQuery) ([]domain.EvidenceItem, error) {
	raw, err := cl.c.complete(ctx, fmt.Sprintf(simulateWebPrompt, q.NumResults, mustJSON(q.Params), q.Query), 0.7)
	if err != nil {
		return nil, fmt.Errorf("simulate web results: %w", err)
	}

	var results []rawResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &results); err != nil {
		return nil, fmt.Errorf("parse web results: %w (raw: %s)", err, raw)
	}
	return toEvidence(results), nil
}

func evaluateIssuesJSON(snap *domain.EvaluateSnapshot) string {
	if snap == nil {
		return "[]"
	}
	return mustJSON(snap.Issues)
}
