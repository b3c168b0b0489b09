package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yuchenw/deepresearch/internal/conflict"
	"github.com/yuchenw/deepresearch/internal/domain"
	"github.com/yuchenw/deepresearch/internal/ids"
	"github.com/yuchenw/deepresearch/internal/ledger"
	"go.uber.org/zap"
)

const (
	// maxStepLoops caps think/act iterations per plan step; exceeding it
	// forces the step FINISHED regardless of evaluation state.
	maxStepLoops = 5

	defaultMaxLoops = 10

	failureMessage = "Research could not be completed due to an internal error. Partial findings, if any, remain available for the next question."
)

// Orchestrator drives one research turn at a time: plan, then per step a
// bounded evaluate/decide/act loop, then the final answer and rollup. All
// state lives in the ledger; the orchestrator itself is stateless between
// turns.
type Orchestrator struct {
	ledger    *ledger.Ledger
	llm       domain.LLMClient
	retriever domain.Retriever
	conflicts *conflict.Pipeline
	sink      domain.EventSink
	logger    *zap.Logger
	maxLoops  int
}

func New(l *ledger.Ledger, llmClient domain.LLMClient, retriever domain.Retriever, conflicts *conflict.Pipeline, sink domain.EventSink, maxLoops int, logger *zap.Logger) *Orchestrator {
	if maxLoops <= 0 {
		maxLoops = defaultMaxLoops
	}
	return &Orchestrator{
		ledger:    l,
		llm:       llmClient,
		retriever: retriever,
		conflicts: conflicts,
		sink:      sink,
		logger:    logger,
		maxLoops:  maxLoops,
	}
}

// TurnOptions tune a single turn.
type TurnOptions struct {
	// IncludeContext prefixes the planning query with the session archive
	// and prior turn digests. The final answer always uses the original
	// query either way.
	IncludeContext bool
	// Config replaces the session config when set on the first turn.
	Config *domain.SessionConfig
}

// TurnResult is what a completed turn hands back to the caller.
type TurnResult struct {
	TurnID string
	Answer string
	Claims []domain.Claim
	Failed bool
}

// RunTurn executes one full research turn. Any panic surfaces as a generic
// failure result; ledger state up to that point is kept, not rolled back.
func (o *Orchestrator) RunTurn(ctx context.Context, sessionID, query string, opts TurnOptions) (result TurnResult) {
	turnID := ids.New("turn")
	result.TurnID = turnID

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("turn failed",
				zap.String("session_id", sessionID),
				zap.String("turn_id", turnID),
				zap.Any("panic", r))
			result.Answer = failureMessage
			result.Failed = true
		}
	}()

	// 1. Open the turn scope; inheritance from prior turns happens here.
	o.ledger.BeginTurn(sessionID, turnID, query)
	if o.ledger.SessionConfig(sessionID) == nil {
		cfg := opts.Config
		if cfg == nil {
			cfg = domain.DefaultSessionConfig()
		}
		o.ledger.SetSessionConfig(sessionID, cfg)
	}
	cfg := o.ledger.SessionConfig(sessionID)

	// 2. Plan against the context-enriched query when asked to.
	planningQuery := query
	if opts.IncludeContext {
		turnCtx := BuildTurnContext(
			o.ledger.SessionArchive(sessionID),
			o.ledger.PreviousTurnsContext(sessionID, turnID, ledger.ContextTurnLimit))
		if turnCtx != "" {
			planningQuery = turnCtx + "\n\nCurrent question: " + query
		}
	}

	steps, err := o.llm.GeneratePlan(ctx, planningQuery)
	if err != nil || len(steps) == 0 {
		if err != nil {
			o.logger.Warn("planning failed, using single-step fallback", zap.Error(err))
		}
		steps = fallbackPlan(query)
	}

	planID := ids.New("plan")
	o.ledger.BeginPlan(sessionID, turnID, planID,
		evidenceIDs(o.ledger.Evidences(sessionID, turnID)),
		claimIDs(o.ledger.Claims(sessionID, turnID)))
	o.ledger.SetPlanList(sessionID, turnID, steps)

	o.publish(sessionID, turnID, domain.EventPlan, steps)

	// 3. Walk the plan with a bounded think/act loop per step.
	totalLoops := 0
	for {
		step := o.ledger.NextUnfinishedStep(sessionID, turnID)
		if step == nil {
			break
		}
		if totalLoops >= o.maxLoops {
			o.logger.Warn("turn loop budget exhausted",
				zap.String("turn_id", turnID),
				zap.Int("max_loops", o.maxLoops))
			break
		}

		o.ledger.SetCurrentStep(sessionID, turnID, step.StepID)
		o.ledger.SetStepStatus(sessionID, turnID, step.StepID, domain.StepRunning)
		o.publish(sessionID, turnID, domain.EventStep, map[string]any{
			"step_id": step.StepID,
			"goal":    step.Goal,
			"status":  domain.StepRunning,
		})

		totalLoops += o.runStep(ctx, sessionID, turnID, planID, *step, cfg, o.maxLoops-totalLoops)

		o.publish(sessionID, turnID, domain.EventStep, map[string]any{
			"step_id": step.StepID,
			"status":  o.stepStatus(sessionID, turnID, step.StepID),
		})
	}
	o.ledger.ClearCurrentStep(sessionID, turnID)

	// 4. Produce the answer from the original query, never the enriched one.
	answer := o.produceAnswer(ctx, sessionID, turnID, query)

	// 5. Fold the turn into the session archive.
	o.ledger.RollupToSessionArchive(ctx, sessionID, turnID)
	o.publish(sessionID, turnID, domain.EventArchive, o.ledger.SessionArchive(sessionID))

	result.Answer = answer
	result.Claims = o.ledger.Claims(sessionID, turnID)
	return result
}

// runStep loops evaluate/decide/act for one step and returns how many
// loops it consumed. budget caps consumption at the turn's remainder.
func (o *Orchestrator) runStep(ctx context.Context, sessionID, turnID, planID string, step domain.PlanStep, cfg *domain.SessionConfig, budget int) int {
	ref := domain.StepRef{Goal: step.Goal, Way: step.Way}
	loops := 0

	for {
		if loops >= maxStepLoops {
			o.logger.Info("step loop cap reached, forcing finish",
				zap.String("step_id", step.StepID),
				zap.Int("loops", loops))
			o.ledger.SetStepStatus(sessionID, turnID, step.StepID, domain.StepFinished)
			return loops
		}
		// Turn budget exhaustion leaves the step as-is: only the per-step
		// cap forces completion.
		if loops >= budget {
			o.logger.Info("turn budget exhausted mid-step",
				zap.String("step_id", step.StepID),
				zap.Int("loops", loops))
			return loops
		}
		loops++

		snap := o.evaluateStep(ctx, sessionID, turnID, planID, ref, cfg)
		decision := o.decideNext(ctx, ref, snap, claimsSummary(o.ledger.Claims(sessionID, turnID)))

		o.logger.Debug("decision",
			zap.String("step_id", step.StepID),
			zap.String("action", decision.Action),
			zap.String("rationale", decision.Rationale))

		switch decision.Action {
		case domain.ActionFinish:
			o.ledger.SetStepStatus(sessionID, turnID, step.StepID, domain.StepFinished)
			return loops

		case domain.ActionRAG:
			o.runRAG(ctx, sessionID, turnID, planID, ref, snap)

		case domain.ActionWebSearch:
			o.runWebSearch(ctx, sessionID, turnID, planID, ref, snap)

		case domain.ActionResolveConflict:
			if _, err := o.conflicts.Resolve(ctx, sessionID, turnID, planID, ref); err != nil {
				o.logger.Warn("conflict resolution failed", zap.Error(err))
				break
			}
			// Re-evaluate over the updated claim set; the step finishes
			// here only if the pass holds with no blocking conflict left.
			post := o.evaluateStep(ctx, sessionID, turnID, planID, ref, cfg)
			if post.Passed && !hasBlockingConflict(post) {
				o.ledger.SetStepStatus(sessionID, turnID, step.StepID, domain.StepFinished)
				return loops
			}
		}
	}
}

// evaluateStep runs the evaluator and stores the snapshot. A failed call
// degrades to neutral metrics with a single non-blocking gap so the loop
// keeps moving instead of wedging.
func (o *Orchestrator) evaluateStep(ctx context.Context, sessionID, turnID, planID string, ref domain.StepRef, cfg *domain.SessionConfig) *domain.EvaluateSnapshot {
	snap, err := o.llm.Evaluate(ctx, domain.EvaluateInput{
		Step:         ref,
		Claims:       o.ledger.Claims(sessionID, turnID),
		EvidenceMeta: o.ledger.EvidenceMeta(sessionID, turnID),
		Thresholds:   cfg.Thresholds,
		Prefs:        cfg.Prefs,
		BudgetState:  cfg.BudgetState,
	})
	if err != nil {
		o.logger.Warn("evaluation failed, using neutral fallback", zap.Error(err))
		snap = fallbackEvaluate()
	}

	o.ledger.SetEvaluate(sessionID, turnID, planID, snap)
	o.publish(sessionID, turnID, domain.EventEvaluation, snap)
	return snap
}

func (o *Orchestrator) runRAG(ctx context.Context, sessionID, turnID, planID string, ref domain.StepRef, snap *domain.EvaluateSnapshot) {
	q, err := o.llm.GenerateRAGQuery(ctx, domain.QueryGenInput{
		Step:         ref,
		Claims:       o.ledger.Claims(sessionID, turnID),
		LastEvaluate: snap,
	})
	if err != nil {
		o.logger.Warn("rag query generation failed, using fallback", zap.Error(err))
		q = &domain.RAGQuery{Query: fallbackQueryText(ref, snap), TopK: 5}
	}

	items, err := o.retriever.ExecuteRAGQuery(ctx, *q)
	o.processRetrieval(ctx, sessionID, turnID, planID, domain.ActionTypeRAG, q.Query, items, err)
}

func (o *Orchestrator) runWebSearch(ctx context.Context, sessionID, turnID, planID string, ref domain.StepRef, snap *domain.EvaluateSnapshot) {
	q, err := o.llm.GenerateWebQuery(ctx, domain.QueryGenInput{
		Step:         ref,
		Claims:       o.ledger.Claims(sessionID, turnID),
		LastEvaluate: snap,
	})
	if err != nil {
		o.logger.Warn("web query generation failed, using fallback", zap.Error(err))
		q = &domain.WebSearchQuery{
			Query:      fallbackQueryText(ref, snap) + " latest",
			NumResults: 5,
			Params:     map[string]any{"time_range": "year", "sort": "date"},
		}
	}

	items, err := o.retriever.ExecuteWebQuery(ctx, *q)
	o.processRetrieval(ctx, sessionID, turnID, planID, domain.ActionTypeWeb, q.Query, items, err)
}

// processRetrieval records the action, admits evidence, and synthesizes
// claims over the turn's evidence set.
func (o *Orchestrator) processRetrieval(ctx context.Context, sessionID, turnID, planID, actionType, query string, items []domain.EvidenceItem, retrievalErr error) {
	log := domain.ActionLog{
		ActionID:  ids.Action(),
		Type:      actionType,
		Query:     query,
		Cost:      1,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    "ok",
	}

	if retrievalErr != nil {
		o.logger.Warn("retrieval failed",
			zap.String("type", actionType),
			zap.String("query", query),
			zap.Error(retrievalErr))
		log.Status = "fail"
		o.ledger.RecordAction(ctx, sessionID, turnID, log)
		o.publish(sessionID, turnID, domain.EventAction, log)
		return
	}

	newIDs := o.ledger.AddEvidences(ctx, sessionID, turnID, planID, items)
	log.OutEvidenceIDs = newIDs
	o.ledger.RecordAction(ctx, sessionID, turnID, log)
	o.publish(sessionID, turnID, domain.EventAction, log)

	if len(newIDs) == 0 {
		return
	}
	o.publish(sessionID, turnID, domain.EventEvidence, o.ledger.Evidences(sessionID, turnID))

	o.synthesize(ctx, sessionID, turnID, planID, newIDs)
}

func (o *Orchestrator) synthesize(ctx context.Context, sessionID, turnID, planID string, newIDs []string) {
	cfg := o.ledger.SessionConfig(sessionID)
	prev := o.ledger.Claims(sessionID, turnID)

	claims, err := o.llm.SynthesizeClaims(ctx, domain.SynthesizeInput{
		UserQuery:      o.ledger.UserQuery(sessionID, turnID),
		Evidences:      o.ledger.Evidences(sessionID, turnID),
		PreviousClaims: prev,
		StanceEnabled:  cfg != nil && cfg.StanceEnabled,
	})
	if err != nil {
		o.logger.Warn("synthesis failed, using single-claim fallback", zap.Error(err))
		claims = fallbackClaims(newIDs, len(prev))
	}

	o.ledger.MergeClaims(sessionID, turnID, planID, claims)
	o.publish(sessionID, turnID, domain.EventClaims, o.ledger.Claims(sessionID, turnID))
}

func (o *Orchestrator) produceAnswer(ctx context.Context, sessionID, turnID, query string) string {
	claims := o.ledger.Claims(sessionID, turnID)
	urls := o.ledger.EvidenceURLMap(sessionID, turnID)

	answer, err := o.llm.GenerateAnswer(ctx, query, claims, urls)
	if err != nil {
		o.logger.Warn("answer generation failed, assembling from claims", zap.Error(err))
		answer = assembleAnswer(query, claims)
	}

	o.ledger.RecordAction(ctx, sessionID, turnID, domain.ActionLog{
		ActionID:  ids.Action(),
		Type:      domain.ActionTypeOutput,
		Query:     query,
		Cost:      1,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    "ok",
	})
	return answer
}

func (o *Orchestrator) stepStatus(sessionID, turnID, stepID string) string {
	for _, st := range o.ledger.PlanList(sessionID, turnID) {
		if st.StepID == stepID {
			return st.Status
		}
	}
	return ""
}

func (o *Orchestrator) publish(sessionID, turnID, kind string, payload any) {
	o.sink.Publish(domain.Event{
		SessionID: sessionID,
		TurnID:    turnID,
		Kind:      kind,
		Payload:   payload,
		Time:      time.Now(),
	})
}

// fallbackPlan is the single-step plan used when the planner fails.
func fallbackPlan(query string) []domain.PlanStep {
	return []domain.PlanStep{{
		StepID: "s1",
		Goal:   query,
		Way:    "direct retrieval",
		ActionSeed: []domain.NextAction{
			{Action: domain.ActionTypeRAG, Query: query},
		},
		DoneCriteria: "question answered to the extent possible",
		Priority:     1,
		Status:       domain.StepNotStart,
	}}
}

// fallbackEvaluate is the neutral snapshot used when the evaluator fails:
// every metric at 0.50 and one non-blocking gap, never a pass.
func fallbackEvaluate() *domain.EvaluateSnapshot {
	return &domain.EvaluateSnapshot{
		Metrics: domain.Metrics{
			Sufficiency: 0.5,
			Reliability: 0.5,
			Consistency: 0.5,
			Recency:     0.5,
			Diversity:   0.5,
		},
		Issues: []domain.Issue{{
			Type:     domain.IssueGap,
			Severity: domain.SeverityMed,
			Blocking: false,
			Desc:     "evaluation unavailable",
			Aspect:   "general",
		}},
		Passed: false,
	}
}

// fallbackQueryText builds a query from the evaluation's gap aspects, or
// the first few goal words when no aspect is named.
func fallbackQueryText(ref domain.StepRef, snap *domain.EvaluateSnapshot) string {
	if snap != nil {
		var aspects []string
		for _, issue := range snap.Issues {
			if issue.Type == domain.IssueGap && issue.Aspect != "" && issue.Aspect != "general" {
				aspects = append(aspects, issue.Aspect)
			}
		}
		if len(aspects) > 0 {
			return ref.Goal + " " + strings.Join(aspects, " ")
		}
	}

	words := strings.Fields(ref.Goal)
	if len(words) > 5 {
		words = words[:5]
	}
	return strings.Join(words, " ")
}

// fallbackClaims turns the first freshly admitted evidence item into one
// low-confidence claim so a failed synthesis still leaves a trace.
func fallbackClaims(newIDs []string, existing int) []domain.Claim {
	if len(newIDs) == 0 {
		return nil
	}
	return []domain.Claim{{
		ID:         ids.Claim(existing + 1),
		Text:       "Unverified finding from " + newIDs[0],
		SupportIDs: []string{newIDs[0]},
		Aspects:    []string{"general"},
		Confidence: 0.5,
	}}
}

// assembleAnswer is the deterministic answer used when generation fails.
func assembleAnswer(query string, claims []domain.Claim) string {
	if len(claims) == 0 {
		return fmt.Sprintf("No findings could be established for: %s", query)
	}

	var sb strings.Builder
	sb.WriteString("## ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	for _, c := range claims {
		sb.WriteString(fmt.Sprintf("- %s (confidence %.2f)\n", c.Text, c.Confidence))
	}
	return sb.String()
}

func evidenceIDs(items []domain.EvidenceItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func claimIDs(claims []domain.Claim) []string {
	out := make([]string, 0, len(claims))
	for _, c := range claims {
		out = append(out, c.ID)
	}
	return out
}
