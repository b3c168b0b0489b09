package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/yuchenw/deepresearch/internal/domain"
	"github.com/yuchenw/deepresearch/internal/llm"
	"go.uber.org/zap"
)

type fakeDocStore struct {
	results  []domain.EvidenceItem
	err      error
	lastK    int
	count    int
	countErr error
}

func (f *fakeDocStore) Add(ctx context.Context, doc *domain.Document) error { return nil }

func (f *fakeDocStore) Search(ctx context.Context, embedding []float32, topK int) ([]domain.EvidenceItem, error) {
	f.lastK = topK
	return f.results, f.err
}

func (f *fakeDocStore) Count(ctx context.Context) (int, error) {
	return f.count, f.countErr
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func TestExecuteRAGQuery_SimulatedIDsAreSequential(t *testing.T) {
	r := New(llm.NewMockClient(), nil, nil, zap.NewNop())

	first, err := r.ExecuteRAGQuery(context.Background(), domain.RAGQuery{Query: "q", TopK: 2})
	if err != nil {
		t.Fatalf("ExecuteRAGQuery: %v", err)
	}
	second, err := r.ExecuteRAGQuery(context.Background(), domain.RAGQuery{Query: "q2", TopK: 1})
	if err != nil {
		t.Fatalf("ExecuteRAGQuery: %v", err)
	}

	if first[0].ID != "RAG_1" || first[1].ID != "RAG_2" {
		t.Errorf("first batch ids = %q, %q", first[0].ID, first[1].ID)
	}
	if second[0].ID != "RAG_3" {
		t.Errorf("second batch id = %q, want RAG_3", second[0].ID)
	}
}

func TestExecuteRAGQuery_UsesDocumentStore(t *testing.T) {
	docs := &fakeDocStore{results: []domain.EvidenceItem{
		{Source: domain.Source{URL: "kb://a", Domain: "internal", Type: "internal"}, Text: "alpha"},
	}}
	r := New(llm.NewMockClient(), docs, fakeEmbedder{}, zap.NewNop())

	items, err := r.ExecuteRAGQuery(context.Background(), domain.RAGQuery{Query: "q", TopK: 4})
	if err != nil {
		t.Fatalf("ExecuteRAGQuery: %v", err)
	}
	if docs.lastK != 4 {
		t.Errorf("topK = %d, want 4", docs.lastK)
	}
	if len(items) != 1 || items[0].ID != "RAG_1" {
		t.Errorf("items = %+v", items)
	}
}

func TestExecuteRAGQuery_StoreErrorPropagates(t *testing.T) {
	docs := &fakeDocStore{err: errors.New("connection refused")}
	r := New(llm.NewMockClient(), docs, fakeEmbedder{}, zap.NewNop())

	if _, err := r.ExecuteRAGQuery(context.Background(), domain.RAGQuery{Query: "q"}); err == nil {
		t.Fatal("want error from document store")
	}
}

func TestCatalog_UsesLiveDocCount(t *testing.T) {
	docs := &fakeDocStore{count: 42}
	r := New(llm.NewMockClient(), docs, fakeEmbedder{}, zap.NewNop())

	if got := r.Catalog(context.Background()).DocCount; got != 42 {
		t.Errorf("doc count = %d, want 42 from the store", got)
	}
}

func TestCatalog_DefaultsWithoutStore(t *testing.T) {
	r := New(llm.NewMockClient(), nil, nil, zap.NewNop())
	want := domain.DefaultKBCatalog().DocCount

	if got := r.Catalog(context.Background()).DocCount; got != want {
		t.Errorf("doc count = %d, want default %d", got, want)
	}
}

func TestCatalog_CountErrorFallsBack(t *testing.T) {
	docs := &fakeDocStore{countErr: errors.New("connection refused")}
	r := New(llm.NewMockClient(), docs, fakeEmbedder{}, zap.NewNop())
	want := domain.DefaultKBCatalog().DocCount

	if got := r.Catalog(context.Background()).DocCount; got != want {
		t.Errorf("doc count = %d, want default %d on count failure", got, want)
	}
}

func TestExecuteWebQuery_IDsIndependentOfRAG(t *testing.T) {
	r := New(llm.NewMockClient(), nil, nil, zap.NewNop())

	if _, err := r.ExecuteRAGQuery(context.Background(), domain.RAGQuery{Query: "q", TopK: 2}); err != nil {
		t.Fatalf("ExecuteRAGQuery: %v", err)
	}
	web, err := r.ExecuteWebQuery(context.Background(), domain.WebSearchQuery{Query: "q", NumResults: 1})
	if err != nil {
		t.Fatalf("ExecuteWebQuery: %v", err)
	}
	if web[0].ID != "WEB_1" {
		t.Errorf("web id = %q, want WEB_1", web[0].ID)
	}
}
