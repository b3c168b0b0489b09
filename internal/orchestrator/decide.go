package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yuchenw/deepresearch/internal/domain"
	"go.uber.org/zap"
)

// decideNext is the single place that picks the next action. The order of
// authority: a passed evaluation with no high-severity blocking issue
// forces FINISH without consulting the model; otherwise the model decides;
// a failed or invalid model decision falls back to a deterministic
// precedence over the evaluation issues.
func (o *Orchestrator) decideNext(ctx context.Context, step domain.StepRef, snap *domain.EvaluateSnapshot, claimsSummary string) domain.Decision {
	if snap != nil && snap.Passed && !hasBlockingHigh(snap) {
		return domain.Decision{Action: domain.ActionFinish, Rationale: "evaluation passed with nothing blocking"}
	}

	d, err := o.llm.Decide(ctx, domain.DecideInput{
		Step:          step,
		ClaimsSummary: claimsSummary,
		LastEvaluate:  snap,
		Catalog:       o.retriever.Catalog(ctx),
	})
	if err != nil {
		o.logger.Warn("decision call failed, using deterministic fallback", zap.Error(err))
		return fallbackDecision(snap)
	}
	if !validAction(d.Action) {
		o.logger.Warn("model chose unknown action, using deterministic fallback",
			zap.String("action", d.Action))
		return fallbackDecision(snap)
	}
	return *d
}

func validAction(a string) bool {
	switch a {
	case domain.ActionFinish, domain.ActionRAG, domain.ActionWebSearch, domain.ActionResolveConflict:
		return true
	}
	return false
}

func hasBlockingConflict(snap *domain.EvaluateSnapshot) bool {
	for _, issue := range snap.Issues {
		if issue.Type == domain.IssueConflict && issue.Blocking {
			return true
		}
	}
	return false
}

func hasBlockingHigh(snap *domain.EvaluateSnapshot) bool {
	for _, issue := range snap.Issues {
		if issue.Blocking && issue.Severity == domain.SeverityHigh {
			return true
		}
	}
	return false
}

// fallbackDecision maps the evaluation to an action without the model:
// pass cleanly and finish; otherwise resolve a high-severity blocking
// conflict, then chase blocking freshness on the web, then fill gaps from
// the knowledge base. RAG is the default probe when nothing matches.
func fallbackDecision(snap *domain.EvaluateSnapshot) domain.Decision {
	if snap == nil {
		return domain.Decision{Action: domain.ActionRAG, Rationale: "no evaluation yet"}
	}
	if snap.Passed && !snap.HasBlockingIssue("") {
		return domain.Decision{Action: domain.ActionFinish, Rationale: "evaluation passed"}
	}

	for _, issue := range snap.Issues {
		if issue.Type == domain.IssueConflict && issue.Blocking && issue.Severity == domain.SeverityHigh {
			return domain.Decision{Action: domain.ActionResolveConflict, Rationale: "blocking conflict: " + issue.Desc}
		}
	}
	for _, issue := range snap.Issues {
		if issue.Type == domain.IssueFreshness && issue.Blocking {
			return domain.Decision{Action: domain.ActionWebSearch, Rationale: "stale evidence: " + issue.Desc}
		}
	}
	for _, issue := range snap.Issues {
		if issue.Type == domain.IssueGap {
			return domain.Decision{Action: domain.ActionRAG, Rationale: "gap: " + issue.Desc}
		}
	}
	return domain.Decision{Action: domain.ActionRAG, Rationale: "default probe"}
}

// claimsSummary renders the claim count and the five strongest claims by
// confidence for the decision prompt.
func claimsSummary(claims []domain.Claim) string {
	if len(claims) == 0 {
		return "(no claims yet)"
	}

	sorted := make([]domain.Claim, len(claims))
	copy(sorted, claims)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	n := len(sorted)
	if n > 5 {
		n = 5
	}
	parts := make([]string, 0, n)
	for _, c := range sorted[:n] {
		parts = append(parts, fmt.Sprintf("%s: %s (%.2f)", c.ID, c.Text, c.Confidence))
	}
	return fmt.Sprintf("%d claims; top: %s", len(claims), strings.Join(parts, "; "))
}
