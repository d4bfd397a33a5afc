package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/xxxsen/magent/internal/model"
)

type ToolRepo struct {
	db *sql.DB
}

func NewToolRepo(db *sql.DB) *ToolRepo {
	return &ToolRepo{db: db}
}

// Upsert registers a tool by its stable id. Name collisions with another id
// are reported as a unique violation by postgres.
func (r *ToolRepo) Upsert(ctx context.Context, tool *model.ToolDescriptor) error {
	schema, err := json.Marshal(tool.ParameterSchema)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO tools (id, name, kind, description, parameter_schema, provider, remote_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			description = EXCLUDED.description,
			parameter_schema = EXCLUDED.parameter_schema,
			provider = EXCLUDED.provider,
			remote_name = EXCLUDED.remote_name`,
		tool.ID, tool.Name, tool.Kind, tool.Description, string(schema), tool.Provider, tool.RemoteName)
	return err
}

func (r *ToolRepo) ListEnabledForAgent(ctx context.Context, agentID string) ([]model.ToolDescriptor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT t.id, t.name, t.kind, t.description, t.parameter_schema, t.provider, t.remote_name
		FROM tools t JOIN agent_tools a ON a.tool_id = t.id
		WHERE a.agent_id = $1 AND a.enabled
		ORDER BY t.name`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.ToolDescriptor, 0)
	for rows.Next() {
		var item model.ToolDescriptor
		var schema []byte
		if err := rows.Scan(&item.ID, &item.Name, &item.Kind, &item.Description, &schema, &item.Provider, &item.RemoteName); err != nil {
			return nil, err
		}
		if len(schema) > 0 {
			if err := json.Unmarshal(schema, &item.ParameterSchema); err != nil {
				return nil, err
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
