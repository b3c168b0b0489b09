package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/yuchenw/deepresearch/internal/domain"
)

// fakeCompleter returns a fixed response regardless of prompt.
type fakeCompleter struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeCompleter) complete(ctx context.Context, prompt string, temperature float32) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n[1,2]\n```", "[1,2]"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, c := range cases {
		if got := stripFences(c.in); got != c.want {
			t.Errorf("stripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestGeneratePlan_ParsesFencedJSON(t *testing.T) {
	fc := &fakeCompleter{response: "```json\n[{\"step_id\": \"s1\", \"goal\": \"g\", \"priority\": 1}]\n```"}
	cl := newClient(fc)

	steps, err := cl.GeneratePlan(context.Background(), "q")
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if len(steps) != 1 || steps[0].StepID != "s1" {
		t.Fatalf("steps = %+v", steps)
	}
	if steps[0].Status != domain.StepNotStart {
		t.Errorf("status = %q, want NOT_START", steps[0].Status)
	}
}

func TestGeneratePlan_BadJSONFails(t *testing.T) {
	cl := newClient(&fakeCompleter{response: "I cannot answer that."})
	if _, err := cl.GeneratePlan(context.Background(), "q"); err == nil {
		t.Fatal("want parse error")
	}
}

func TestEvaluate_ParsesSnapshot(t *testing.T) {
	cl := newClient(&fakeCompleter{response: `{"metrics": {"sufficiency": 0.9, "reliability": 0.8, "consistency": 0.8, "recency": 0.7, "diversity": 0.6}, "issues": [], "passed": true}`})

	snap, err := cl.Evaluate(context.Background(), domain.EvaluateInput{Step: domain.StepRef{Goal: "g"}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !snap.Passed || snap.Metrics.Sufficiency != 0.9 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestAdjudicateConflicts_ParsesEnvelope(t *testing.T) {
	cl := newClient(&fakeCompleter{response: `{"updated_claims": [{"claim_id": "c1", "action": "retracted"}], "summary": {"conflict_groups_total": 1, "groups_resolved": 1, "remaining_conflicts": []}}`})

	updates, summary, err := cl.AdjudicateConflicts(context.Background(), domain.AdjudicateInput{})
	if err != nil {
		t.Fatalf("AdjudicateConflicts: %v", err)
	}
	if len(updates) != 1 || updates[0].Action != domain.VerdictRetracted {
		t.Errorf("updates = %+v", updates)
	}
	if summary == nil || summary.GroupsResolved != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestGenerateRAGQuery_DefaultsTopK(t *testing.T) {
	cl := newClient(&fakeCompleter{response: `{"query": "find things"}`})

	q, err := cl.GenerateRAGQuery(context.Background(), domain.QueryGenInput{Step: domain.StepRef{Goal: "g"}})
	if err != nil {
		t.Fatalf("GenerateRAGQuery: %v", err)
	}
	if q.TopK != 5 {
		t.Errorf("top_k = %d, want default 5", q.TopK)
	}
}

func TestMockClient_RoundTrip(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	steps, err := m.GeneratePlan(ctx, "solar capacity trends")
	if err != nil || len(steps) == 0 {
		t.Fatalf("plan = %v, err = %v", steps, err)
	}

	evs, err := m.SimulateRAGResults(ctx, domain.RAGQuery{Query: "solar", TopK: 2})
	if err != nil || len(evs) != 2 {
		t.Fatalf("rag results = %v, err = %v", evs, err)
	}

	for i := range evs {
		evs[i].ID = fmt.Sprintf("RAG_%d", i+1)
	}
	claims, err := m.SynthesizeClaims(ctx, domain.SynthesizeInput{UserQuery: "q", Evidences: evs})
	if err != nil || len(claims) == 0 {
		t.Fatalf("claims = %v, err = %v", claims, err)
	}
	if claims[0].ID != "c1" {
		t.Errorf("first claim id = %q, want c1", claims[0].ID)
	}

	snap, err := m.Evaluate(ctx, domain.EvaluateInput{Claims: claims})
	if err != nil || !snap.Passed {
		t.Fatalf("snapshot = %+v, err = %v", snap, err)
	}
}
