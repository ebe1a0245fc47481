package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	StatusIndexed = "INDEXED"
	StatusRemoved = "REMOVED"
	StatusFailed  = "FAILED"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS document_status (
		collection  TEXT        NOT NULL,
		document_id TEXT        NOT NULL,
		status      TEXT        NOT NULL,
		detail      TEXT        NOT NULL DEFAULT '',
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, document_id)
	)`,
	`CREATE INDEX IF NOT EXISTS document_status_failed
		ON document_status (collection) WHERE status = 'FAILED'`,
}

// StatusStore records per-document ingestion outcomes in document_status.
type StatusStore struct {
	client *Client
}

func NewStatusStore(client *Client) *StatusStore {
	return &StatusStore{client: client}
}

// EnsureSchema creates the status table when it does not exist.
func (s *StatusStore) EnsureSchema(ctx context.Context) error {
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating document_status schema: %w", err)
			}
		}
		return nil
	})
}

// RecordStatus upserts the latest outcome for one document.
func (s *StatusStore) RecordStatus(ctx context.Context, collection, docID, status, detail string) error {
	_, err := s.client.DB.ExecContext(ctx,
		`INSERT INTO document_status (collection, document_id, status, detail, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (collection, document_id)
		DO UPDATE SET status = EXCLUDED.status, detail = EXCLUDED.detail, updated_at = NOW()`,
		collection, docID, status, detail,
	)
	if err != nil {
		return fmt.Errorf("recording status for %s/%s: %w", collection, docID, err)
	}
	return nil
}
