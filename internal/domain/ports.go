package domain

import (
	"context"
	"time"
)

// StepRef is the slim step view passed across the collaborator boundary.
type StepRef struct {
	Goal string `json:"goal"`
	Way  string `json:"way,omitempty"`
}

// EvidenceMeta is the metadata-only view of evidence given to the evaluator.
type EvidenceMeta struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Type   string `json:"type"`
	Time   string `json:"time"`
}

// EvaluateInput bundles everything the evaluator sees.
type EvaluateInput struct {
	Step         StepRef
	Claims       []Claim
	EvidenceMeta []EvidenceMeta
	Thresholds   map[string]float64
	Prefs        map[string]any
	BudgetState  map[string]any
}

// DecideInput bundles everything the decider sees.
type DecideInput struct {
	Step          StepRef
	ClaimsSummary string
	LastEvaluate  *EvaluateSnapshot
	Catalog       *KBCatalog
}

// QueryGenInput feeds the RAG and web query generators.
type QueryGenInput struct {
	Step         StepRef
	Claims       []Claim
	LastEvaluate *EvaluateSnapshot
}

// SynthesizeInput is the working set handed to the synthesizer.
type SynthesizeInput struct {
	UserQuery      string
	Evidences      []EvidenceItem
	PreviousClaims []Claim
	StanceEnabled  bool
}

// ConflictPlanInput feeds the conflict search planner.
type ConflictPlanInput struct {
	Step         StepRef
	Claims       []Claim
	Conflicts    []ConflictInfo
	LastEvaluate *EvaluateSnapshot
	Catalog      *KBCatalog
}

// AdjudicateInput feeds the conflict adjudicator.
type AdjudicateInput struct {
	Step      StepRef
	Claims    []Claim
	Conflicts []ConflictInfo
	Evidence  []EvidenceItem
	Rubric    Rubric
}

// LLMClient is the reasoning service behind every thinking step. All calls
// are synchronous and blocking; each returns a structured result or an
// error, and the orchestrator maps errors to the documented deterministic
// fallbacks rather than letting them propagate.
type LLMClient interface {
	GeneratePlan(ctx context.Context, query string) ([]PlanStep, error)
	Evaluate(ctx context.Context, in EvaluateInput) (*EvaluateSnapshot, error)
	Decide(ctx context.Context, in DecideInput) (*Decision, error)
	GenerateRAGQuery(ctx context.Context, in QueryGenInput) (*RAGQuery, error)
	GenerateWebQuery(ctx context.Context, in QueryGenInput) (*WebSearchQuery, error)
	SynthesizeClaims(ctx context.Context, in SynthesizeInput) ([]Claim, error)
	PlanConflictSearch(ctx context.Context, in ConflictPlanInput) (*SearchPlan, error)
	AdjudicateConflicts(ctx context.Context, in AdjudicateInput) ([]UpdatedClaim, *ResolutionSummary, error)
	GenerateAnswer(ctx context.Context, query string, claims []Claim, evidenceURLs map[string]string) (string, error)

	// Retrieval simulation, used by the capability layer when no real
	// backend is configured.
	SimulateRAGResults(ctx context.Context, q RAGQuery) ([]EvidenceItem, error)
	SimulateWebResults(ctx context.Context, q WebSearchQuery) ([]EvidenceItem, error)
}

// Retriever executes generated queries against the matching capability.
// Catalog summarizes knowledge-base coverage for action routing.
type Retriever interface {
	ExecuteRAGQuery(ctx context.Context, q RAGQuery) ([]EvidenceItem, error)
	ExecuteWebQuery(ctx context.Context, q WebSearchQuery) ([]EvidenceItem, error)
	Catalog(ctx context.Context) *KBCatalog
}

// EmbeddingClient produces vector embeddings for RAG recall.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Event kinds published to the monitor side channel.
const (
	EventPlan       = "plan"
	EventStep       = "step"
	EventEvaluation = "evaluation"
	EventAction     = "action"
	EventClaims     = "claims"
	EventEvidence   = "evidence"
	EventArchive    = "archive"
)

// Event is one monitor notification. Payload shape depends on Kind.
type Event struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id,omitempty"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	Time      time.Time `json:"time"`
}

// EventSink receives monitor events. Publish must never block the caller;
// sinks drop events when overloaded and the core never checks delivery.
type EventSink interface {
	Publish(ev Event)
	Close()
}

// Document is a knowledge-base entry searchable by the RAG capability.
type Document struct {
	URL       string
	Domain    string
	Type      string
	Time      string
	Text      string
	Embedding []float32
}

// DocumentStore is the pgvector-backed corpus behind real RAG retrieval.
type DocumentStore interface {
	Add(ctx context.Context, doc *Document) error
	Search(ctx context.Context, embedding []float32, topK int) ([]EvidenceItem, error)
	Count(ctx context.Context) (int, error)
}

// ArchiveStore optionally persists session archives and action logs. The
// ledger writes through it best-effort; failures are logged, never raised.
// LoadArchive restores a persisted archive when a session resumes.
type ArchiveStore interface {
	SaveArchive(ctx context.Context, sessionID, summary string) error
	SaveActionLog(ctx context.Context, sessionID, turnID string, log ActionLog) error
	LoadArchive(ctx context.Context, sessionID string) (string, error)
}
