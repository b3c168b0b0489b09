package retrieval

import (
	"context"
	"fmt"

	"github.com/yuchenw/deepresearch/internal/domain"
	"github.com/yuchenw/deepresearch/internal/ids"
	"go.uber.org/zap"
)

// Retriever executes generated queries against the matching capability.
// RAG goes to the vector-indexed document store when one is configured and
// falls back to model-simulated retrieval otherwise; web search is always
// model-simulated. Evidence ids are sequential per capability ("RAG_3",
// "WEB_1") and unique for the life of the process.
//
// Like the ledger, a Retriever is driven by one turn at a time and is not
// safe for concurrent use.
type Retriever struct {
	llm      domain.LLMClient
	docs     domain.DocumentStore
	embedder domain.EmbeddingClient
	logger   *zap.Logger

	ragSeq int
	webSeq int
}

// New builds a retriever. docs and embedder may both be nil, in which case
// every RAG query is simulated.
func New(llm domain.LLMClient, docs domain.DocumentStore, embedder domain.EmbeddingClient, logger *zap.Logger) *Retriever {
	return &Retriever{
		llm:      llm,
		docs:     docs,
		embedder: embedder,
		logger:   logger,
	}
}

func (r *Retriever) ExecuteRAGQuery(ctx context.Context, q domain.RAGQuery) ([]domain.EvidenceItem, error) {
	var (
		items []domain.EvidenceItem
		err   error
	)

	if r.docs != nil && r.embedder != nil {
		items, err = r.searchDocuments(ctx, q)
	} else {
		items, err = r.llm.SimulateRAGResults(ctx, q)
	}
	if err != nil {
		return nil, err
	}

	for i := range items {
		r.ragSeq++
		items[i].ID = ids.Evidence(domain.ActionTypeRAG, r.ragSeq)
	}

	r.logger.Debug("rag query executed",
		zap.String("query", q.Query),
		zap.Int("results", len(items)))
	return items, nil
}

func (r *Retriever) searchDocuments(ctx context.Context, q domain.RAGQuery) ([]domain.EvidenceItem, error) {
	vec, err := r.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("embed rag query: %w", err)
	}
	items, err := r.docs.Search(ctx, vec, q.TopK)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}
	return items, nil
}

// Catalog summarizes knowledge-base coverage for the decider and the
// conflict planner. With a real document store the doc count is live;
// without one, or when counting fails, the default summary stands in.
func (r *Retriever) Catalog(ctx context.Context) *domain.KBCatalog {
	cat := domain.DefaultKBCatalog()
	if r.docs == nil {
		return cat
	}

	n, err := r.docs.Count(ctx)
	if err != nil {
		r.logger.Warn("knowledge base count failed", zap.Error(err))
		return cat
	}
	cat.DocCount = n
	return cat
}

func (r *Retriever) ExecuteWebQuery(ctx context.Context, q domain.WebSearchQuery) ([]domain.EvidenceItem, error) {
	items, err := r.llm.SimulateWebResults(ctx, q)
	if err != nil {
		return nil, err
	}

	for i := range items {
		r.webSeq++
		items[i].ID = ids.Evidence(domain.ActionTypeWeb, r.webSeq)
	}

	r.logger.Debug("web query executed",
		zap.String("query", q.Query),
		zap.Int("results", len(items)))
	return items, nil
}
