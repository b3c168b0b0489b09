package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yuchenw/deepresearch/internal/domain"
)

// ArchiveStore persists session rollup summaries and action logs. The
// ledger treats writes as best-effort; callers decide what a failure means.
type ArchiveStore struct {
	db *pgxpool.Pool
}

func NewArchiveStore(db *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{db: db}
}

func (s *ArchiveStore) SaveArchive(ctx context.Context, sessionID, summary string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO session_archives (session_id, summary, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (session_id) DO UPDATE
		 SET summary = EXCLUDED.summary, updated_at = NOW()`,
		sessionID, summary,
	)
	if err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}

func (s *ArchiveStore) SaveActionLog(ctx context.Context, sessionID, turnID string, log domain.ActionLog) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO action_logs (action_id, session_id, turn_id, action_type, query, out_evidence_ids, cost, ts, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (action_id) DO NOTHING`,
		log.ActionID, sessionID, turnID, log.Type, log.Query, log.OutEvidenceIDs, log.Cost, log.Timestamp, log.Status,
	)
	if err != nil {
		return fmt.Errorf("save action log: %w", err)
	}
	return nil
}

// LoadArchive restores a session's rollup summary, e.g. after a restart.
func (s *ArchiveStore) LoadArchive(ctx context.Context, sessionID string) (string, error) {
	var summary string
	err := s.db.QueryRow(ctx,
		`SELECT summary FROM session_archives WHERE session_id = $1`,
		sessionID,
	).Scan(&summary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load archive: %w", err)
	}
	return summary, nil
}
