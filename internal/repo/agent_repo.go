package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/magent/internal/model"
	"github.com/xxxsen/magent/internal/pkg/dbutil"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

type AgentRepo struct {
	db *sql.DB
}

func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

func (r *AgentRepo) Create(ctx context.Context, agent *model.Agent) error {
	retrieval, err := json.Marshal(agent.Retrieval)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":           agent.ID,
		"company_id":   agent.CompanyID,
		"name":         agent.Name,
		"instructions": agent.Instructions,
		"model":        agent.Model,
		"retrieval":    string(retrieval),
		"ctime":        agent.Ctime,
		"mtime":        agent.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("agents", []map[string]interface{}{data})
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

// GetByID loads an agent of the company together with its enabled tool ids.
func (r *AgentRepo) GetByID(ctx context.Context, companyID, id string) (*model.Agent, error) {
	where := map[string]interface{}{
		"id":         id,
		"company_id": companyID,
	}
	sqlStr, args, err := builder.BuildSelect("agents", where, []string{
		"id", "company_id", "name", "instructions", "model", "retrieval", "ctime", "mtime",
	})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var agent model.Agent
	var retrieval []byte
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&agent.ID, &agent.CompanyID, &agent.Name,
		&agent.Instructions, &agent.Model, &retrieval, &agent.Ctime, &agent.Mtime)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(retrieval) > 0 {
		if err := json.Unmarshal(retrieval, &agent.Retrieval); err != nil {
			return nil, err
		}
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT tool_id FROM agent_tools WHERE agent_id = $1 AND enabled ORDER BY tool_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	agent.ToolIDs = make([]string, 0)
	for rows.Next() {
		var toolID string
		if err := rows.Scan(&toolID); err != nil {
			return nil, err
		}
		agent.ToolIDs = append(agent.ToolIDs, toolID)
	}
	return &agent, rows.Err()
}

func (r *AgentRepo) SetToolEnabled(ctx context.Context, agentID, toolID string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO agent_tools (agent_id, tool_id, enabled) VALUES ($1, $2, $3)
		ON CONFLICT (agent_id, tool_id) DO UPDATE SET enabled = EXCLUDED.enabled`, agentID, toolID, enabled)
	return err
}
