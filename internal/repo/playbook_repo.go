package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/magent/internal/model"
	"github.com/xxxsen/magent/internal/pkg/dbutil"
)

type PlaybookRepo struct {
	db *sql.DB
}

func NewPlaybookRepo(db *sql.DB) *PlaybookRepo {
	return &PlaybookRepo{db: db}
}

func (r *PlaybookRepo) Create(ctx context.Context, p *model.Playbook) error {
	data := map[string]interface{}{
		"id":         p.ID,
		"company_id": p.CompanyID,
		"agent_id":   dbutil.NullString(p.AgentID),
		"title":      p.Title,
		"content":    p.Content,
		"priority":   p.Priority,
		"mtime":      p.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("playbooks", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ListForAgent returns company-wide playbooks plus those bound to the agent,
// highest priority first.
func (r *PlaybookRepo) ListForAgent(ctx context.Context, companyID, agentID string, limit int) ([]model.Playbook, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, company_id, COALESCE(agent_id, ''), title, content, priority, mtime
		FROM playbooks
		WHERE company_id = $1 AND (agent_id IS NULL OR agent_id = $2)
		ORDER BY priority DESC, mtime DESC
		LIMIT $3`, companyID, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.Playbook, 0)
	for rows.Next() {
		var item model.Playbook
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.AgentID, &item.Title, &item.Content, &item.Priority, &item.Mtime); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
