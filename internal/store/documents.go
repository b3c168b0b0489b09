package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/yuchenw/deepresearch/internal/domain"
)

// DocumentStore is the pgvector-backed knowledge base behind real RAG
// retrieval. Rows are keyed by url; re-adding a url refreshes its content
// and embedding.
type DocumentStore struct {
	db *pgxpool.Pool
}

func NewDocumentStore(db *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Add(ctx context.Context, doc *domain.Document) error {
	var embedding *pgvector.Vector
	if len(doc.Embedding) > 0 {
		v := pgvector.NewVector(doc.Embedding)
		embedding = &v
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO documents (url, site_domain, source_type, published, body, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (url) DO UPDATE
		 SET site_domain = EXCLUDED.site_domain,
		     source_type = EXCLUDED.source_type,
		     published = EXCLUDED.published,
		     body = EXCLUDED.body,
		     embedding = EXCLUDED.embedding`,
		doc.URL, doc.Domain, doc.Type, doc.Time, doc.Text, embedding,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Search returns the topK documents nearest to the query embedding by
// cosine distance. Evidence ids are assigned by the caller.
func (s *DocumentStore) Search(ctx context.Context, embedding []float32, topK int) ([]domain.EvidenceItem, error) {
	if topK <= 0 {
		topK = 5
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.db.Query(ctx,
		`SELECT url, site_domain, source_type, published, body
		 FROM documents
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var out []domain.EvidenceItem
	for rows.Next() {
		var item domain.EvidenceItem
		if err := rows.Scan(&item.Source.URL, &item.Source.Domain, &item.Source.Type, &item.Time, &item.Text); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return out, nil
}

// Count reports how many documents are searchable, for catalog summaries.
func (s *DocumentStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE embedding IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
