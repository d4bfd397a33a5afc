package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/xxxsen/magent/internal/model"
	"github.com/xxxsen/magent/internal/pkg/dbutil"
)

const messageColumns = `id, conversation_id, agent_id, company_id, user_id, role, content, tool_results, citations, ctime`

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// SaveExchange stores the user message and the assistant reply atomically,
// user first, so history never shows a reply without its question.
func (r *MessageRepo) SaveExchange(ctx context.Context, user *model.Message, assistant *model.Message) error {
	return dbutil.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, m := range []*model.Message{user, assistant} {
			if err := insertMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertMessage(ctx context.Context, tx *sql.Tx, m *model.Message) error {
	toolResults := m.ToolResults
	if toolResults == nil {
		toolResults = []model.ToolInvocationResult{}
	}
	citations := m.Citations
	if citations == nil {
		citations = []model.ContextSource{}
	}
	toolRaw, err := json.Marshal(toolResults)
	if err != nil {
		return err
	}
	citeRaw, err := json.Marshal(citations)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.ConversationID, m.AgentID, m.CompanyID, m.UserID, m.Role, m.Content,
		string(toolRaw), string(citeRaw), m.Ctime)
	return err
}

// ListRecent returns the last limit messages of a conversation in
// chronological order.
func (r *MessageRepo) ListRecent(ctx context.Context, companyID, conversationID string, limit int) ([]model.Message, error) {
	return r.query(ctx, `SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`, seq FROM messages
			WHERE conversation_id = $1 AND company_id = $2
			ORDER BY seq DESC LIMIT $3
		) recent ORDER BY seq ASC`, conversationID, companyID, limit)
}

func (r *MessageRepo) ListByConversation(ctx context.Context, companyID, conversationID string, limit, offset int) ([]model.Message, error) {
	return r.query(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND company_id = $2
		ORDER BY seq ASC LIMIT $3 OFFSET $4`, conversationID, companyID, limit, offset)
}

func (r *MessageRepo) query(ctx context.Context, query string, args ...interface{}) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		var toolRaw, citeRaw []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.AgentID, &m.CompanyID, &m.UserID, &m.Role,
			&m.Content, &toolRaw, &citeRaw, &m.Ctime); err != nil {
			return nil, err
		}
		if len(toolRaw) > 0 {
			if err := json.Unmarshal(toolRaw, &m.ToolResults); err != nil {
				return nil, err
			}
		}
		if len(citeRaw) > 0 {
			if err := json.Unmarshal(citeRaw, &m.Citations); err != nil {
				return nil, err
			}
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
