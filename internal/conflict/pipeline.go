package conflict

import (
	"context"
	"time"

	"github.com/yuchenw/deepresearch/internal/domain"
	"github.com/yuchenw/deepresearch/internal/ids"
	"github.com/yuchenw/deepresearch/internal/ledger"
	"go.uber.org/zap"
)

// defaultPrecedence orders source classes when the planner supplies no
// rubric of its own.
const defaultPrecedence = "official/academic > standards/regulatory > vendor > media"

// Pipeline runs the four-phase conflict resolution flow: plan targeted
// searches, execute them, adjudicate with the full evidence set, apply the
// verdicts. Failures degrade per phase; the pipeline never leaves the
// ledger in a partial state worse than "conflicts still open".
type Pipeline struct {
	ledger    *ledger.Ledger
	llm       domain.LLMClient
	retriever domain.Retriever
	sink      domain.EventSink
	logger    *zap.Logger
}

func New(l *ledger.Ledger, llm domain.LLMClient, retriever domain.Retriever, sink domain.EventSink, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		ledger:    l,
		llm:       llm,
		retriever: retriever,
		sink:      sink,
		logger:    logger,
	}
}

// ConflictsFromIssues extracts conflict groups from an evaluation snapshot.
func ConflictsFromIssues(snap *domain.EvaluateSnapshot) []domain.ConflictInfo {
	if snap == nil {
		return nil
	}
	var out []domain.ConflictInfo
	for _, issue := range snap.Issues {
		if issue.Type != domain.IssueConflict {
			continue
		}
		out = append(out, domain.ConflictInfo{
			Claims:   issue.Claims,
			Severity: issue.Severity,
			Desc:     issue.Desc,
		})
	}
	return out
}

// Resolve runs the pipeline for the current step. When the last evaluation
// carries no conflict issues it is a logged no-op.
func (p *Pipeline) Resolve(ctx context.Context, sessionID, turnID, planID string, step domain.StepRef) (*domain.ResolutionSummary, error) {
	conflicts := ConflictsFromIssues(p.ledger.LastEvaluate(sessionID, turnID))
	if len(conflicts) == 0 {
		p.logger.Info("no conflict issues to resolve",
			zap.String("session_id", sessionID),
			zap.String("turn_id", turnID))
		return &domain.ResolutionSummary{}, nil
	}

	claims := p.ledger.Claims(sessionID, turnID)
	involved := involvedClaims(claims, conflicts)

	// Phase 1: plan targeted searches. A failed planner degrades to
	// adjudicating with the evidence already on hand.
	searchPlan, err := p.llm.PlanConflictSearch(ctx, domain.ConflictPlanInput{
		Step:         step,
		Claims:       involved,
		Conflicts:    conflicts,
		LastEvaluate: p.ledger.LastEvaluate(sessionID, turnID),
		Catalog:      p.retriever.Catalog(ctx),
	})
	if err != nil {
		p.logger.Warn("conflict search planning failed, adjudicating with existing evidence", zap.Error(err))
		searchPlan = &domain.SearchPlan{}
	}
	searchPlan.Rubric = fillRubric(searchPlan.Rubric)

	// Phase 2: execute the searches.
	p.executeSearches(ctx, sessionID, turnID, planID, searchPlan)

	// Phase 3: adjudicate with everything gathered so far.
	updates, summary, err := p.llm.AdjudicateConflicts(ctx, domain.AdjudicateInput{
		Step:      step,
		Claims:    involved,
		Conflicts: conflicts,
		Evidence:  p.ledger.Evidences(sessionID, turnID),
		Rubric:    searchPlan.Rubric,
	})
	if err != nil {
		p.logger.Warn("adjudication failed, upholding all claims unchanged", zap.Error(err))
		updates, summary = upholdAll(involved, conflicts)
	}
	if summary == nil {
		summary = &domain.ResolutionSummary{GroupsTotal: len(conflicts)}
	}

	// Phase 4: apply the verdicts.
	p.ledger.ApplyClaimUpdates(sessionID, turnID, updates)

	p.sink.Publish(domain.Event{
		SessionID: sessionID,
		TurnID:    turnID,
		Kind:      domain.EventClaims,
		Payload:   p.ledger.Claims(sessionID, turnID),
	})

	p.logger.Info("conflict resolution finished",
		zap.Int("groups_total", summary.GroupsTotal),
		zap.Int("groups_resolved", summary.GroupsResolved),
		zap.Int("updates", len(updates)))
	return summary, nil
}

func (p *Pipeline) executeSearches(ctx context.Context, sessionID, turnID, planID string, plan *domain.SearchPlan) {
	for _, q := range plan.RAGQueries {
		items, err := p.retriever.ExecuteRAGQuery(ctx, q)
		p.recordSearch(ctx, sessionID, turnID, planID, domain.ActionTypeRAG, q.Query, items, err)
	}
	for _, q := range plan.WebQueries {
		items, err := p.retriever.ExecuteWebQuery(ctx, q)
		p.recordSearch(ctx, sessionID, turnID, planID, domain.ActionTypeWeb, q.Query, items, err)
	}
}

func (p *Pipeline) recordSearch(ctx context.Context, sessionID, turnID, planID, actionType, query string, items []domain.EvidenceItem, err error) {
	log := domain.ActionLog{
		ActionID:  ids.Action(),
		Type:      actionType,
		Query:     query,
		Cost:      1,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    "ok",
	}
	if err != nil {
		p.logger.Warn("conflict search failed",
			zap.String("type", actionType),
			zap.String("query", query),
			zap.Error(err))
		log.Status = "fail"
	} else {
		log.OutEvidenceIDs = p.ledger.AddEvidences(ctx, sessionID, turnID, planID, items)
	}
	p.ledger.RecordAction(ctx, sessionID, turnID, log)
}

func involvedClaims(claims []domain.Claim, conflicts []domain.ConflictInfo) []domain.Claim {
	inConflict := make(map[string]bool)
	for _, c := range conflicts {
		for _, id := range c.Claims {
			inConflict[id] = true
		}
	}

	var out []domain.Claim
	for _, c := range claims {
		if inConflict[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// fillRubric supplies defaults for any rubric field the planner left empty.
func fillRubric(r domain.Rubric) domain.Rubric {
	if len(r.Normalization) == 0 {
		r.Normalization = []string{"unify units", "align time windows"}
	}
	if len(r.Precedence) == 0 {
		r.Precedence = []string{defaultPrecedence}
	}
	if len(r.ComparisonKeys) == 0 {
		r.ComparisonKeys = []string{"value", "date", "scope"}
	}
	return r
}

// upholdAll is the adjudication fallback: every involved claim stands at
// its current confidence and no group counts as resolved.
func upholdAll(involved []domain.Claim, conflicts []domain.ConflictInfo) ([]domain.UpdatedClaim, *domain.ResolutionSummary) {
	updates := make([]domain.UpdatedClaim, 0, len(involved))
	for _, c := range involved {
		updates = append(updates, domain.UpdatedClaim{
			ClaimID:       c.ID,
			Action:        domain.VerdictUpheld,
			NewConfidence: c.Confidence,
			Rationale:     "adjudication unavailable",
		})
	}

	remaining := make([][]string, 0, len(conflicts))
	for _, c := range conflicts {
		remaining = append(remaining, c.Claims)
	}
	return updates, &domain.ResolutionSummary{
		GroupsTotal:        len(conflicts),
		GroupsResolved:     0,
		RemainingConflicts: remaining,
	}
}
