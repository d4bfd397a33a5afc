package model

// DocumentChunk is a slice of extracted document text with its embedding.
// An empty AgentID means the chunk is visible to every agent of the company.
type DocumentChunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	CompanyID  string    `json:"company_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	ChunkIndex int       `json:"chunk_index"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	Ctime      int64     `json:"ctime"`
}

type ScoredChunk struct {
	DocumentChunk
	DocumentName string  `json:"document_name"`
	Similarity   float64 `json:"similarity"`
}
