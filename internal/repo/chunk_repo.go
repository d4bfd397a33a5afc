package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/magent/internal/model"
	"github.com/xxxsen/magent/internal/pkg/dbutil"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ReplaceForDocument swaps the whole chunk set of a document and merges tags
// into the document in one transaction, so a re-ingest never leaves a mix of
// old and new chunks behind.
func (r *ChunkRepo) ReplaceForDocument(ctx context.Context, doc *model.SourceDocument, chunks []model.DocumentChunk, tags []string, mtime int64) error {
	return dbutil.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, doc.ID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO document_chunks
			(id, document_id, company_id, agent_id, chunk_index, start_offset, end_offset, content, embedding, ctime)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range chunks {
			id := c.ID
			if id == "" {
				id = uuid.NewString()
			}
			if _, err := stmt.ExecContext(ctx, id, doc.ID, doc.CompanyID, dbutil.NullString(doc.AgentID),
				c.ChunkIndex, c.Start, c.End, c.Content, pgvector.NewVector(c.Embedding), mtime); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
			}
		}
		res, err := tx.ExecContext(ctx, `UPDATE source_documents
			SET tags = ARRAY(SELECT DISTINCT t FROM unnest(tags || $2::text[]) AS t ORDER BY t), mtime = $3
			WHERE id = $1`, doc.ID, pq.Array(tags), mtime)
		if err != nil {
			return fmt.Errorf("tag document: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return appErr.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ingest_failures WHERE document_id = $1`, doc.ID); err != nil {
			return fmt.Errorf("clear ingest failure: %w", err)
		}
		return nil
	})
}

// SearchAgent returns chunks owned by the agent, most similar first.
func (r *ChunkRepo) SearchAgent(ctx context.Context, companyID, agentID string, embedding []float32, threshold float64, limit int) ([]model.ScoredChunk, error) {
	return r.search(ctx, `c.company_id = $2 AND c.agent_id = $5`, embedding, threshold, limit, companyID, agentID)
}

// SearchShared returns company-wide chunks that are not bound to any agent.
func (r *ChunkRepo) SearchShared(ctx context.Context, companyID string, embedding []float32, threshold float64, limit int) ([]model.ScoredChunk, error) {
	return r.search(ctx, `c.company_id = $2 AND c.agent_id IS NULL`, embedding, threshold, limit, companyID)
}

func (r *ChunkRepo) search(ctx context.Context, scope string, embedding []float32, threshold float64, limit int, scopeArgs ...interface{}) ([]model.ScoredChunk, error) {
	query := `SELECT c.id, c.document_id, c.company_id, COALESCE(c.agent_id, ''), c.chunk_index,
			c.start_offset, c.end_offset, c.content, c.ctime, d.name, 1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		JOIN source_documents d ON d.id = c.document_id
		WHERE ` + scope + ` AND 1 - (c.embedding <=> $1) >= $3
		ORDER BY c.embedding <=> $1
		LIMIT $4`
	args := []interface{}{pgvector.NewVector(embedding), scopeArgs[0], threshold, limit}
	args = append(args, scopeArgs[1:]...)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.ScoredChunk, 0)
	for rows.Next() {
		var item model.ScoredChunk
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.CompanyID, &item.AgentID, &item.ChunkIndex,
			&item.Start, &item.End, &item.Content, &item.Ctime, &item.DocumentName, &item.Similarity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListByDocument returns the chunks of a document in index order.
func (r *ChunkRepo) ListByDocument(ctx context.Context, companyID, documentID string) ([]model.DocumentChunk, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, document_id, company_id, COALESCE(agent_id, ''), chunk_index,
			start_offset, end_offset, content, ctime
		FROM document_chunks WHERE document_id = $1 AND company_id = $2 ORDER BY chunk_index`, documentID, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.DocumentChunk, 0)
	for rows.Next() {
		var item model.DocumentChunk
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.CompanyID, &item.AgentID, &item.ChunkIndex,
			&item.Start, &item.End, &item.Content, &item.Ctime); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
