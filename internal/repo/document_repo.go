package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"

	"github.com/xxxsen/magent/internal/model"
	"github.com/xxxsen/magent/internal/pkg/dbutil"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

const documentColumns = `id, company_id, COALESCE(agent_id, ''), name, mime_type, size, file_key, tags, ctime, mtime`

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.SourceDocument) error {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	data := map[string]interface{}{
		"id":         doc.ID,
		"company_id": doc.CompanyID,
		"agent_id":   dbutil.NullString(doc.AgentID),
		"name":       doc.Name,
		"mime_type":  doc.MimeType,
		"size":       doc.Size,
		"file_key":   doc.FileKey,
		"tags":       pq.Array(tags),
		"ctime":      doc.Ctime,
		"mtime":      doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("source_documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, companyID, id string) (*model.SourceDocument, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM source_documents WHERE id = $1 AND company_id = $2`,
		id, companyID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	return doc, err
}

// ListPending returns documents that have not been embedded yet, oldest first.
// Documents with a recorded permanent failure are left out until a successful
// re-ingest clears them.
func (r *DocumentRepo) ListPending(ctx context.Context, limit int) ([]model.SourceDocument, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM source_documents d
		 WHERE NOT ($1 = ANY(d.tags))
		   AND NOT EXISTS (SELECT 1 FROM ingest_failures f WHERE f.document_id = d.id)
		 ORDER BY d.mtime ASC LIMIT $2`,
		model.DocumentTagEmbedded, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.SourceDocument, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *doc)
	}
	return items, rows.Err()
}

// RecordFailure marks a document as failing for a reason retrying cannot fix.
func (r *DocumentRepo) RecordFailure(ctx context.Context, documentID, reason string, at int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO ingest_failures (document_id, reason, attempts, mtime)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (document_id) DO UPDATE
		SET reason = EXCLUDED.reason, attempts = ingest_failures.attempts + 1, mtime = EXCLUDED.mtime`,
		documentID, reason, at)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*model.SourceDocument, error) {
	var doc model.SourceDocument
	var tags pq.StringArray
	if err := row.Scan(&doc.ID, &doc.CompanyID, &doc.AgentID, &doc.Name, &doc.MimeType,
		&doc.Size, &doc.FileKey, &tags, &doc.Ctime, &doc.Mtime); err != nil {
		return nil, err
	}
	doc.Tags = []string(tags)
	return &doc, nil
}
