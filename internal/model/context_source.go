package model

type TierName string

const (
	TierCompanyProfile TierName = "company_profile"
	TierAgentDocuments TierName = "agent_documents"
	TierSharedDocs     TierName = "shared_documents"
	TierPlaybooks      TierName = "playbooks"
)

// ContextSource is one retrieved piece of context. Score is nil for
// flat-inclusion tiers.
type ContextSource struct {
	Tier     TierName `json:"tier"`
	Content  string   `json:"content"`
	Score    *float64 `json:"score,omitempty"`
	Title    string   `json:"title"`
	SourceID string   `json:"source_id"`
}

type RetrievalConfig struct {
	EnableCompanyProfile bool    `json:"enable_company_profile"`
	EnableAgentDocs      bool    `json:"enable_agent_docs"`
	EnableSharedDocs     bool    `json:"enable_shared_docs"`
	EnablePlaybooks      bool    `json:"enable_playbooks"`
	SimilarityThreshold  float64 `json:"similarity_threshold"`
	MaxChunksPerSource   int     `json:"max_chunks_per_source"`
	TotalMaxChunks       int     `json:"total_max_chunks"`
	MaxContextTokens     int     `json:"max_context_tokens"`
}

const (
	DefaultSimilarityThreshold = 0.7
	DefaultMaxChunksPerSource  = 5
	DefaultTotalMaxChunks      = 15
)

func (c RetrievalConfig) WithDefaults() RetrievalConfig {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.MaxChunksPerSource <= 0 {
		c.MaxChunksPerSource = DefaultMaxChunksPerSource
	}
	if c.TotalMaxChunks <= 0 {
		c.TotalMaxChunks = DefaultTotalMaxChunks
	}
	return c
}

// Inherit fills the unset numeric limits from base. Tier switches are owned
// by the agent and never inherited.
func (c RetrievalConfig) Inherit(base RetrievalConfig) RetrievalConfig {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = base.SimilarityThreshold
	}
	if c.MaxChunksPerSource <= 0 {
		c.MaxChunksPerSource = base.MaxChunksPerSource
	}
	if c.TotalMaxChunks <= 0 {
		c.TotalMaxChunks = base.TotalMaxChunks
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = base.MaxContextTokens
	}
	return c.WithDefaults()
}

func (c RetrievalConfig) AnyEnabled() bool {
	return c.EnableCompanyProfile || c.EnableAgentDocs || c.EnableSharedDocs || c.EnablePlaybooks
}
