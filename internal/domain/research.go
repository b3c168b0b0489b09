package domain

// Source identifies where an evidence item came from.
type Source struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Type   string `json:"type"` // "official" | "academic" | "media" | "forum" | "internal" | ...
}

// EvidenceItem is the atomic unit claims cite: a retrieved snippet with
// source metadata and a year-month timestamp.
type EvidenceItem struct {
	ID     string `json:"id"`
	Source Source `json:"source"`
	Time   string `json:"time"` // "YYYY-MM"
	Text   string `json:"text"`
}

// Stance values for claims when stance tracking is enabled.
const (
	StancePro     = "pro"
	StanceNeutral = "neutral"
	StanceCon     = "con"
)

// Claim is a synthesized assertion fully backed by its supporting evidence.
// Salience is a pointer because "unset" and "zero" mean different things for
// cross-turn inheritance.
type Claim struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	SupportIDs []string `json:"support_ids"`
	Aspects    []string `json:"aspects"`
	Confidence float64  `json:"confidence"`         // 0..1
	Stance     string   `json:"stance,omitempty"`   // "pro" | "neutral" | "con"
	Salience   *float64 `json:"salience,omitempty"` // 0..1
}

// SalienceOr returns the claim's salience, or def when unset.
func (c *Claim) SalienceOr(def float64) float64 {
	if c.Salience == nil {
		return def
	}
	return *c.Salience
}

// Metrics scores the current research state across five dimensions, each 0..1.
type Metrics struct {
	Sufficiency float64 `json:"sufficiency"`
	Reliability float64 `json:"reliability"`
	Consistency float64 `json:"consistency"`
	Recency     float64 `json:"recency"`
	Diversity   float64 `json:"diversity"`
}

// Issue types.
const (
	IssueGap       = "gap"
	IssueConflict  = "conflict"
	IssueFreshness = "freshness"
	IssueQuality   = "quality"
	IssueDiversity = "diversity"
)

// Issue severities.
const (
	SeverityLow  = "low"
	SeverityMed  = "med"
	SeverityHigh = "high"
)

// Issue is a single actionable problem found by the evaluator. The optional
// fields are type-specific: Aspect for gap, Claims for conflict, TimeWindow
// for freshness, SourceHint for quality, Dimension for diversity.
type Issue struct {
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Blocking   bool     `json:"blocking"`
	Desc       string   `json:"desc"`
	Aspect     string   `json:"aspect,omitempty"`
	Claims     []string `json:"claims,omitempty"`
	TimeWindow string   `json:"time_window,omitempty"`
	SourceHint string   `json:"source_hint,omitempty"`
	Dimension  string   `json:"dimension,omitempty"` // "source" | "viewpoint" | "method"
}

// EvaluateSnapshot is one evaluator verdict over the active claims/evidence.
type EvaluateSnapshot struct {
	Metrics Metrics `json:"metrics"`
	Issues  []Issue `json:"issues"`
	Passed  bool    `json:"passed"`
}

// HasBlockingIssue reports whether any issue of the given type is blocking.
// An empty issueType matches all types.
func (s *EvaluateSnapshot) HasBlockingIssue(issueType string) bool {
	for _, issue := range s.Issues {
		if !issue.Blocking {
			continue
		}
		if issueType == "" || issue.Type == issueType {
			return true
		}
	}
	return false
}

// SessionConfig holds per-session preferences, evaluator thresholds and
// budget state. StanceEnabled turns on stance tagging during synthesis.
type SessionConfig struct {
	Prefs         map[string]any     `json:"prefs"`
	Thresholds    map[string]float64 `json:"thresholds"`
	BudgetState   map[string]any     `json:"budget_state"`
	StanceEnabled bool               `json:"stance_enabled"`
}

// DefaultSessionConfig mirrors the thresholds the agent assumes when the
// caller supplies no config.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Prefs: map[string]any{},
		Thresholds: map[string]float64{
			"sufficiency": 0.80,
			"reliability": 0.75,
			"consistency": 0.70,
			"recency":     0.70,
			"diversity":   0.60,
		},
		BudgetState:   map[string]any{"remaining_calls": 30},
		StanceEnabled: false,
	}
}

// Step statuses. Statuses only move forward; the ledger rejects regressions.
const (
	StepNotStart = "NOT_START"
	StepRunning  = "RUNNING"
	StepFinished = "FINISHED"
)

// NextAction is a candidate retrieval instruction attached to a plan step.
type NextAction struct {
	Action      string   `json:"action"` // "RAG" | "WEB"
	Query       string   `json:"query"`
	AspectsNeed []string `json:"aspects_need"`
	SourcePref  string   `json:"source_pref,omitempty"`
	TimeWindow  string   `json:"time_window,omitempty"`
}

// PlanStep is one sub-goal within a turn's plan. Priority is advisory:
// steps are traversed in generation order.
type PlanStep struct {
	StepID       string       `json:"step_id"`
	Goal         string       `json:"goal"`
	Way          string       `json:"way,omitempty"`
	ActionSeed   []NextAction `json:"action_seed"`
	DoneCriteria string       `json:"done_criteria"`
	Priority     int          `json:"priority"`
	Status       string       `json:"status"`
}

// PlanSnapshot records the evidence/claim baseline at plan start.
type PlanSnapshot struct {
	EvidenceBaseIDs []string `json:"evidence_base_ids"`
	ClaimBaseIDs    []string `json:"claim_base_ids"`
}

// PlanPatch is an append-only audit record of one incremental plan change.
// Exactly one of the three fields is populated; patches are never mutated.
type PlanPatch struct {
	StepID         string            `json:"step_id"`
	AddEvidenceIDs []string          `json:"add_evidence_ids,omitempty"`
	MergeClaims    []Claim           `json:"merge_claims,omitempty"`
	SetEvaluate    *EvaluateSnapshot `json:"set_evaluate,omitempty"`
}

// Action log types.
const (
	ActionTypeRAG    = "RAG"
	ActionTypeWeb    = "WEB"
	ActionTypeOutput = "final_output"
)

// ActionLog records one executed retrieval or output action.
type ActionLog struct {
	ActionID       string   `json:"action_id"`
	Type           string   `json:"type"`
	Query          string   `json:"query"`
	OutEvidenceIDs []string `json:"out_evidence_ids"`
	Cost           float64  `json:"cost"`
	Timestamp      string   `json:"ts"`
	Status         string   `json:"status"` // "ok" | "fail"
}

// RAGQuery targets the internal knowledge base.
type RAGQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// WebSearchQuery targets the external search capability.
type WebSearchQuery struct {
	Query      string         `json:"query"`
	NumResults int            `json:"num_results"`
	Params     map[string]any `json:"params,omitempty"`
}

// Decider actions.
const (
	ActionFinish          = "FINISH"
	ActionRAG             = "RAG"
	ActionWebSearch       = "WEB_SEARCH"
	ActionResolveConflict = "RESOLVE_CONFLICT"
)

// Decision is the decider's chosen action with its rationale.
type Decision struct {
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
}

// KBCatalog summarizes internal knowledge-base coverage for routing.
type KBCatalog struct {
	Topics   []string `json:"topics"`
	DocCount int      `json:"doc_count"`
	Examples []string `json:"examples"`
}

// DefaultKBCatalog is used when the caller provides no catalog summary.
func DefaultKBCatalog() *KBCatalog {
	return &KBCatalog{
		Topics:   []string{"internal docs", "technical specs", "process design"},
		DocCount: 100,
		Examples: []string{"system design docs", "API reference", "deployment guide"},
	}
}

// ConflictInfo groups claim ids in mutual contradiction, derived from
// conflict-type evaluation issues.
type ConflictInfo struct {
	Claims   []string `json:"claims"`
	Severity string   `json:"severity"`
	Desc     string   `json:"desc,omitempty"`
}

// Rubric holds the alignment and precedence rules used to adjudicate
// conflicting claims.
type Rubric struct {
	Normalization  []string `json:"normalization"`
	Precedence     []string `json:"precedence"`
	ComparisonKeys []string `json:"comparison_keys"`
}

// SearchPlan is the conflict pipeline's phase-1 result: targeted queries
// plus the rubric for adjudication.
type SearchPlan struct {
	RAGQueries []RAGQuery       `json:"queries_rag"`
	WebQueries []WebSearchQuery `json:"queries_web"`
	Rubric     Rubric           `json:"rubric"`
}

// Adjudication verdicts.
const (
	VerdictUpheld    = "upheld"
	VerdictRevised   = "revised"
	VerdictRetracted = "retracted"
)

// UpdatedClaim is one per-claim adjudication verdict.
type UpdatedClaim struct {
	ClaimID       string   `json:"claim_id"`
	Action        string   `json:"action"` // "upheld" | "revised" | "retracted"
	NewConfidence float64  `json:"new_confidence"`
	NewText       string   `json:"new_text,omitempty"`
	SupersedesID  string   `json:"supersedes_id,omitempty"`
	EvidenceIDs   []string `json:"evidence_ids,omitempty"`
	Rationale     string   `json:"rationale_md,omitempty"`
}

// ResolutionSummary counts conflict groups before and after adjudication.
type ResolutionSummary struct {
	GroupsTotal        int        `json:"conflict_groups_total"`
	GroupsResolved     int        `json:"groups_resolved"`
	RemainingConflicts [][]string `json:"remaining_conflicts"`
}

// TurnSummary is the read-only digest of a prior turn used to build
// planning context for the next one.
type TurnSummary struct {
	TurnID      string  `json:"turn_id"`
	Query       string  `json:"query"`
	TopFindings []Claim `json:"top_findings"`
}
