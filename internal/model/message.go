package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	AgentID        string                 `json:"agent_id"`
	CompanyID      string                 `json:"company_id"`
	UserID         string                 `json:"user_id"`
	Role           string                 `json:"role"`
	Content        string                 `json:"content"`
	ToolResults    []ToolInvocationResult `json:"tool_results,omitempty"`
	Citations      []ContextSource        `json:"citations,omitempty"`
	Ctime          int64                  `json:"ctime"`
}

// Attachment is a file sent along with a chat message. Either Data carries
// the raw bytes (base64 on the wire) or DocumentID points to an ingested
// document.
type Attachment struct {
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
	Data       []byte `json:"data,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
}
