package model

const (
	DocumentTagProcessed = "processed"
	DocumentTagEmbedded  = "embedded"
)

type SourceDocument struct {
	ID        string   `json:"id"`
	CompanyID string   `json:"company_id"`
	AgentID   string   `json:"agent_id,omitempty"`
	Name      string   `json:"name"`
	MimeType  string   `json:"mime_type"`
	Size      int64    `json:"size"`
	FileKey   string   `json:"file_key"`
	Tags      []string `json:"tags"`
	Ctime     int64    `json:"ctime"`
	Mtime     int64    `json:"mtime"`
}

func (d *SourceDocument) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
