package ledger

import (
	"context"
	"strings"

	"github.com/yuchenw/deepresearch/internal/domain"
	"github.com/yuchenw/deepresearch/internal/ids"
	"go.uber.org/zap"
)

// Inheritance and rollup thresholds.
const (
	InheritMinConfidence = 0.8
	InheritMinSalience   = 0.6
	InheritTurnWindow    = 2

	RollupMinConfidence   = 0.7
	RollupMinSalience     = 0.5
	RollupDefaultSalience = 0.5
	RollupMaxClaims       = 5

	ContextTurnLimit   = 3
	ContextTopFindings = 3
)

var stepRank = map[string]int{
	domain.StepNotStart: 0,
	domain.StepRunning:  1,
	domain.StepFinished: 2,
}

type planState struct {
	start   domain.PlanSnapshot
	patches []domain.PlanPatch
	gates   map[string]bool
}

type turnState struct {
	userQuery     string
	planList      []domain.PlanStep
	currentStepID string
	evidences     []domain.EvidenceItem
	claims        []*domain.Claim
	lastEvaluate  *domain.EvaluateSnapshot
	plans         map[string]*planState
	actionLogs    []domain.ActionLog
}

type sessionState struct {
	config    *domain.SessionConfig
	archive   string
	turnOrder []string
	turns     map[string]*turnState
}

// Ledger is the sole owner of all session/turn/plan state. It is an
// explicit arena keyed by (session, turn, plan), created once per process
// and torn down with it. The Ledger is not safe for concurrent mutation;
// a single active turn must serialize all access.
type Ledger struct {
	sessions map[string]*sessionState

	// Process-wide evidence fingerprint index: dedup is global, not
	// per turn.
	evidenceIndex map[string]struct{}

	archiveStore domain.ArchiveStore // optional, best-effort
	logger       *zap.Logger
}

// New creates an empty ledger. archiveStore may be nil; when set, session
// archives and action logs are persisted best-effort.
func New(archiveStore domain.ArchiveStore, logger *zap.Logger) *Ledger {
	return &Ledger{
		sessions:      make(map[string]*sessionState),
		evidenceIndex: make(map[string]struct{}),
		archiveStore:  archiveStore,
		logger:        logger,
	}
}

func (l *Ledger) session(sessionID string) *sessionState {
	s, ok := l.sessions[sessionID]
	if !ok {
		s = &sessionState{turns: make(map[string]*turnState)}
		l.sessions[sessionID] = s
	}
	return s
}

// turn returns the turn state, or nil when it was never begun.
func (l *Ledger) turn(sessionID, turnID string) *turnState {
	s, ok := l.sessions[sessionID]
	if !ok {
		return nil
	}
	return s.turns[turnID]
}

// BeginTurn creates the turn scope and applies cross-turn inheritance: a
// prior claim carries over iff confidence ≥ 0.8 and it has an explicit
// salience ≥ 0.6, looking back at most two turns. Each inherited claim
// pulls along at most one supporting evidence item, the first in the prior
// turn's active set whose id appears in the claim's support set.
func (l *Ledger) BeginTurn(sessionID, turnID, userQuery string) {
	s := l.session(sessionID)

	t := &turnState{
		userQuery: userQuery,
		plans:     make(map[string]*planState),
	}

	prior := s.turnOrder
	if len(prior) > InheritTurnWindow {
		prior = prior[len(prior)-InheritTurnWindow:]
	}

	seenEvidence := make(map[string]bool)
	for _, prevID := range prior {
		prev := s.turns[prevID]
		if prev == nil {
			continue
		}
		for _, c := range prev.claims {
			if c.Confidence < InheritMinConfidence {
				continue
			}
			if c.Salience == nil || *c.Salience < InheritMinSalience {
				continue
			}
			inherited := *c
			t.claims = append(t.claims, &inherited)

			for _, ev := range prev.evidences {
				if !containsString(c.SupportIDs, ev.ID) {
					continue
				}
				if !seenEvidence[ev.ID] {
					t.evidences = append(t.evidences, ev)
					seenEvidence[ev.ID] = true
				}
				break
			}
		}
	}

	s.turns[turnID] = t
	s.turnOrder = append(s.turnOrder, turnID)

	l.logger.Debug("turn begun",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.Int("inherited_claims", len(t.claims)),
		zap.Int("inherited_evidence", len(t.evidences)))
}

// BeginPlan records the plan's baseline snapshot.
func (l *Ledger) BeginPlan(sessionID, turnID, planID string, baseEvidenceIDs, baseClaimIDs []string) {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return
	}
	t.plans[planID] = &planState{
		start: domain.PlanSnapshot{
			EvidenceBaseIDs: baseEvidenceIDs,
			ClaimBaseIDs:    baseClaimIDs,
		},
		gates: make(map[string]bool),
	}
}

// SetSessionConfig stores the session configuration.
func (l *Ledger) SetSessionConfig(sessionID string, cfg *domain.SessionConfig) {
	l.session(sessionID).config = cfg
}

// SessionConfig returns the stored config, or nil.
func (l *Ledger) SessionConfig(sessionID string) *domain.SessionConfig {
	if s, ok := l.sessions[sessionID]; ok {
		return s.config
	}
	return nil
}

// SetPlanList stores the turn's plan and points the current step at the
// first one.
func (l *Ledger) SetPlanList(sessionID, turnID string, steps []domain.PlanStep) {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return
	}
	t.planList = steps
	if len(steps) > 0 {
		t.currentStepID = steps[0].StepID
	}
}

// PlanList returns a copy of the turn's plan.
func (l *Ledger) PlanList(sessionID, turnID string) []domain.PlanStep {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return nil
	}
	out := make([]domain.PlanStep, len(t.planList))
	copy(out, t.planList)
	return out
}

// CurrentStep returns the current step, or nil when none is set.
func (l *Ledger) CurrentStep(sessionID, turnID string) *domain.PlanStep {
	t := l.turn(sessionID, turnID)
	if t == nil || t.currentStepID == "" {
		return nil
	}
	for i := range t.planList {
		if t.planList[i].StepID == t.currentStepID {
			step := t.planList[i]
			return &step
		}
	}
	return nil
}

// SetCurrentStep points the turn at the given step.
func (l *Ledger) SetCurrentStep(sessionID, turnID, stepID string) {
	if t := l.turn(sessionID, turnID); t != nil {
		t.currentStepID = stepID
	}
}

// ClearCurrentStep unsets the current step, ending the loop normally.
func (l *Ledger) ClearCurrentStep(sessionID, turnID string) {
	if t := l.turn(sessionID, turnID); t != nil {
		t.currentStepID = ""
	}
}

// SetStepStatus advances a step's status. Statuses only move forward
// (NOT_START → RUNNING → FINISHED); regressions are ignored.
func (l *Ledger) SetStepStatus(sessionID, turnID, stepID, status string) {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return
	}
	for i := range t.planList {
		if t.planList[i].StepID != stepID {
			continue
		}
		if stepRank[status] < stepRank[t.planList[i].Status] {
			l.logger.Warn("ignoring step status regression",
				zap.String("step_id", stepID),
				zap.String("from", t.planList[i].Status),
				zap.String("to", status))
			return
		}
		t.planList[i].Status = status
		return
	}
}

// NextUnfinishedStep returns the first step not yet FINISHED, or nil.
func (l *Ledger) NextUnfinishedStep(sessionID, turnID string) *domain.PlanStep {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return nil
	}
	for i := range t.planList {
		if t.planList[i].Status != domain.StepFinished {
			step := t.planList[i]
			return &step
		}
	}
	return nil
}

// AddEvidences admits items whose (url, text) fingerprint has never been
// seen anywhere in the process, returns the admitted ids, and silently
// drops duplicates. Admissions are recorded as an additive plan patch
// tagged with the active step.
func (l *Ledger) AddEvidences(ctx context.Context, sessionID, turnID, planID string, items []domain.EvidenceItem) []string {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return nil
	}

	var newIDs []string
	for _, item := range items {
		fp := ids.Fingerprint(item.Source.URL, item.Text)
		if _, dup := l.evidenceIndex[fp]; dup {
			continue
		}
		l.evidenceIndex[fp] = struct{}{}
		t.evidences = append(t.evidences, item)
		newIDs = append(newIDs, item.ID)
	}

	if len(newIDs) > 0 {
		if p, ok := t.plans[planID]; ok && t.currentStepID != "" {
			p.patches = append(p.patches, domain.PlanPatch{
				StepID:         t.currentStepID,
				AddEvidenceIDs: newIDs,
			})
		}
	}

	return newIDs
}

// MergeClaims merges incoming claims into the active set. Existing ids are
// merged monotonically: support ids unioned, confidence never decreases,
// stance overwritten when present, salience maxed, aspects unioned. Unseen
// ids are inserted as-is.
func (l *Ledger) MergeClaims(sessionID, turnID, planID string, claims []domain.Claim) {
	t := l.turn(sessionID, turnID)
	if t == nil || len(claims) == 0 {
		return
	}

	byID := make(map[string]*domain.Claim, len(t.claims))
	for _, c := range t.claims {
		byID[c.ID] = c
	}

	for i := range claims {
		nc := claims[i]
		nc.Confidence = clamp01(nc.Confidence)

		existing, ok := byID[nc.ID]
		if !ok {
			// A claim at confidence zero never enters the active set.
			if nc.Confidence <= 0 {
				continue
			}
			inserted := nc
			t.claims = append(t.claims, &inserted)
			byID[nc.ID] = &inserted
			continue
		}

		existing.SupportIDs = unionStrings(existing.SupportIDs, nc.SupportIDs)
		if nc.Confidence > existing.Confidence {
			existing.Confidence = nc.Confidence
		}
		if nc.Stance != "" {
			existing.Stance = nc.Stance
		}
		if nc.Salience != nil {
			s := existing.SalienceOr(0)
			if *nc.Salience > s {
				s = *nc.Salience
			}
			existing.Salience = &s
		}
		existing.Aspects = unionStrings(existing.Aspects, nc.Aspects)
	}

	if p, ok := t.plans[planID]; ok && t.currentStepID != "" {
		p.patches = append(p.patches, domain.PlanPatch{
			StepID:      t.currentStepID,
			MergeClaims: claims,
		})
	}
}

// ApplyClaimUpdates applies conflict-resolution verdicts: upheld resets
// confidence, revised replaces text and confidence and unions evidence,
// retracted drops confidence to zero. Claims left at zero confidence are
// purged from the active set, never kept as tombstones.
func (l *Ledger) ApplyClaimUpdates(sessionID, turnID string, updates []domain.UpdatedClaim) {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return
	}

	byID := make(map[string]*domain.Claim, len(t.claims))
	for _, c := range t.claims {
		byID[c.ID] = c
	}

	for _, u := range updates {
		c, ok := byID[u.ClaimID]
		if !ok {
			continue
		}
		switch u.Action {
		case domain.VerdictUpheld:
			c.Confidence = clamp01(u.NewConfidence)
		case domain.VerdictRevised:
			if u.NewText != "" {
				c.Text = u.NewText
			}
			c.Confidence = clamp01(u.NewConfidence)
			c.SupportIDs = unionStrings(c.SupportIDs, u.EvidenceIDs)
		case domain.VerdictRetracted:
			c.Confidence = 0
		}
	}

	kept := t.claims[:0]
	for _, c := range t.claims {
		if c.Confidence > 0 {
			kept = append(kept, c)
		}
	}
	t.claims = kept
}

// SetEvaluate stores the snapshot as the turn's last evaluation, records
// the step-level pass/fail gate and appends an evaluation patch.
func (l *Ledger) SetEvaluate(sessionID, turnID, planID string, snapshot *domain.EvaluateSnapshot) {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return
	}
	t.lastEvaluate = snapshot

	if p, ok := t.plans[planID]; ok && t.currentStepID != "" {
		p.patches = append(p.patches, domain.PlanPatch{
			StepID:      t.currentStepID,
			SetEvaluate: snapshot,
		})
		p.gates[t.currentStepID] = snapshot.Passed
	}
}

// LastEvaluate returns the most recent evaluation snapshot, or nil.
func (l *Ledger) LastEvaluate(sessionID, turnID string) *domain.EvaluateSnapshot {
	if t := l.turn(sessionID, turnID); t != nil {
		return t.lastEvaluate
	}
	return nil
}

// StepGate reports the recorded pass/fail gate for a step.
func (l *Ledger) StepGate(sessionID, turnID, planID, stepID string) (bool, bool) {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return false, false
	}
	p, ok := t.plans[planID]
	if !ok {
		return false, false
	}
	passed, ok := p.gates[stepID]
	return passed, ok
}

// Patches returns the append-only audit trail for a plan.
func (l *Ledger) Patches(sessionID, turnID, planID string) []domain.PlanPatch {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return nil
	}
	p, ok := t.plans[planID]
	if !ok {
		return nil
	}
	out := make([]domain.PlanPatch, len(p.patches))
	copy(out, p.patches)
	return out
}

// Claims returns copies of the turn's active claims in insertion order.
func (l *Ledger) Claims(sessionID, turnID string) []domain.Claim {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return nil
	}
	out := make([]domain.Claim, 0, len(t.claims))
	for _, c := range t.claims {
		out = append(out, *c)
	}
	return out
}

// Evidences returns copies of the turn's active evidence in insertion order.
func (l *Ledger) Evidences(sessionID, turnID string) []domain.EvidenceItem {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return nil
	}
	out := make([]domain.EvidenceItem, len(t.evidences))
	copy(out, t.evidences)
	return out
}

// EvidenceMeta returns the metadata-only evidence view for the evaluator.
func (l *Ledger) EvidenceMeta(sessionID, turnID string) []domain.EvidenceMeta {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return nil
	}
	out := make([]domain.EvidenceMeta, 0, len(t.evidences))
	for _, ev := range t.evidences {
		out = append(out, domain.EvidenceMeta{
			ID:     ev.ID,
			URL:    ev.Source.URL,
			Domain: ev.Source.Domain,
			Type:   ev.Source.Type,
			Time:   ev.Time,
		})
	}
	return out
}

// EvidenceURLMap maps active evidence ids to their source urls.
func (l *Ledger) EvidenceURLMap(sessionID, turnID string) map[string]string {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return nil
	}
	m := make(map[string]string, len(t.evidences))
	for _, ev := range t.evidences {
		m[ev.ID] = ev.Source.URL
	}
	return m
}

// UserQuery returns the query the turn was begun with.
func (l *Ledger) UserQuery(sessionID, turnID string) string {
	if t := l.turn(sessionID, turnID); t != nil {
		return t.userQuery
	}
	return ""
}

// RecordAction appends an action log entry and persists it best-effort.
func (l *Ledger) RecordAction(ctx context.Context, sessionID, turnID string, log domain.ActionLog) {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return
	}
	t.actionLogs = append(t.actionLogs, log)

	if l.archiveStore != nil {
		if err := l.archiveStore.SaveActionLog(ctx, sessionID, turnID, log); err != nil {
			l.logger.Warn("failed to persist action log", zap.Error(err))
		}
	}
}

// ActionLogs returns the turn's recorded actions.
func (l *Ledger) ActionLogs(sessionID, turnID string) []domain.ActionLog {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return nil
	}
	out := make([]domain.ActionLog, len(t.actionLogs))
	copy(out, t.actionLogs)
	return out
}

// RollupToSessionArchive summarizes the turn's qualifying claims
// (confidence ≥ 0.7 and salience-or-0.5 ≥ 0.5, first five in insertion
// order) into a single string that replaces any prior session archive.
func (l *Ledger) RollupToSessionArchive(ctx context.Context, sessionID, turnID string) {
	t := l.turn(sessionID, turnID)
	if t == nil {
		return
	}

	var texts []string
	for _, c := range t.claims {
		if c.Confidence < RollupMinConfidence {
			continue
		}
		if c.SalienceOr(RollupDefaultSalience) < RollupMinSalience {
			continue
		}
		texts = append(texts, c.Text)
		if len(texts) == RollupMaxClaims {
			break
		}
	}
	if len(texts) == 0 {
		return
	}

	archive := "Key findings: " + strings.Join(texts, "; ")
	l.session(sessionID).archive = archive

	if l.archiveStore != nil {
		if err := l.archiveStore.SaveArchive(ctx, sessionID, archive); err != nil {
			l.logger.Warn("failed to persist session archive", zap.Error(err))
		}
	}
}

// SessionArchive returns the session's rollup summary, or "".
func (l *Ledger) SessionArchive(sessionID string) string {
	if s, ok := l.sessions[sessionID]; ok {
		return s.archive
	}
	return ""
}

// RestoreSessionArchive seeds the in-memory archive from durable storage,
// e.g. when resuming a session after a restart. The next rollup replaces
// it as usual.
func (l *Ledger) RestoreSessionArchive(sessionID, summary string) {
	l.session(sessionID).archive = summary
}

// AllSessionClaims returns every active claim across the session's turns
// at or above the confidence floor.
func (l *Ledger) AllSessionClaims(sessionID string, minConfidence float64) []domain.Claim {
	s, ok := l.sessions[sessionID]
	if !ok {
		return nil
	}
	var out []domain.Claim
	for _, turnID := range s.turnOrder {
		for _, c := range s.turns[turnID].claims {
			if c.Confidence >= minConfidence {
				out = append(out, *c)
			}
		}
	}
	return out
}

// AllSessionEvidences returns every evidence item across the session's
// turns, deduplicated by id.
func (l *Ledger) AllSessionEvidences(sessionID string) []domain.EvidenceItem {
	s, ok := l.sessions[sessionID]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []domain.EvidenceItem
	for _, turnID := range s.turnOrder {
		for _, ev := range s.turns[turnID].evidences {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			out = append(out, ev)
		}
	}
	return out
}

// PreviousTurnsContext digests up to limit prior turns (queries plus the
// top findings ranked by confidence × salience-or-0.5) without mutating
// them, for cross-turn context assembly.
func (l *Ledger) PreviousTurnsContext(sessionID, currentTurnID string, limit int) []domain.TurnSummary {
	s, ok := l.sessions[sessionID]
	if !ok {
		return nil
	}

	var prior []string
	for _, turnID := range s.turnOrder {
		if turnID != currentTurnID {
			prior = append(prior, turnID)
		}
	}
	if len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}

	var out []domain.TurnSummary
	for _, turnID := range prior {
		t := s.turns[turnID]
		out = append(out, domain.TurnSummary{
			TurnID:      turnID,
			Query:       t.userQuery,
			TopFindings: topFindings(t.claims, ContextTopFindings),
		})
	}
	return out
}

func topFindings(claims []*domain.Claim, n int) []domain.Claim {
	ranked := make([]domain.Claim, 0, len(claims))
	for _, c := range claims {
		ranked = append(ranked, *c)
	}
	// Stable selection sort; claim counts are tiny.
	for i := 0; i < len(ranked) && i < n; i++ {
		best := i
		for j := i + 1; j < len(ranked); j++ {
			if score(ranked[j]) > score(ranked[best]) {
				best = j
			}
		}
		ranked[i], ranked[best] = ranked[best], ranked[i]
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func score(c domain.Claim) float64 {
	return c.Confidence * c.SalienceOr(0.5)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func unionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
