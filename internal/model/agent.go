package model

type Agent struct {
	ID           string          `json:"id"`
	CompanyID    string          `json:"company_id"`
	Name         string          `json:"name"`
	Instructions string          `json:"instructions"`
	Model        string          `json:"model"`
	ToolIDs      []string        `json:"tool_ids"`
	Retrieval    RetrievalConfig `json:"retrieval"`
	Ctime        int64           `json:"ctime"`
	Mtime        int64           `json:"mtime"`
}

type CompanyProfile struct {
	CompanyID   string            `json:"company_id"`
	Name        string            `json:"name"`
	Industry    string            `json:"industry"`
	Description string            `json:"description"`
	Facts       map[string]string `json:"facts"`
	Mtime       int64             `json:"mtime"`
}

type Playbook struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Priority  int    `json:"priority"`
	Mtime     int64  `json:"mtime"`
}
