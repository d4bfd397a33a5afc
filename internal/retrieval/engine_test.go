package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/magent/internal/model"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

type fakeChunks struct {
	agent     []model.ScoredChunk
	shared    []model.ScoredChunk
	agentErr  error
	calls     int
	lastLimit int
}

func (f *fakeChunks) SearchAgent(ctx context.Context, companyID, agentID string, embedding []float32, threshold float64, limit int) ([]model.ScoredChunk, error) {
	f.calls++
	f.lastLimit = limit
	if f.agentErr != nil {
		return nil, f.agentErr
	}
	return f.agent, nil
}

func (f *fakeChunks) SearchShared(ctx context.Context, companyID string, embedding []float32, threshold float64, limit int) ([]model.ScoredChunk, error) {
	f.calls++
	return f.shared, nil
}

type fakeProfiles struct {
	profile *model.CompanyProfile
}

func (f *fakeProfiles) Get(ctx context.Context, companyID string) (*model.CompanyProfile, error) {
	if f.profile == nil {
		return nil, appErr.ErrNotFound
	}
	return f.profile, nil
}

type fakePlaybooks struct {
	items []model.Playbook
	err   error
}

func (f *fakePlaybooks) ListForAgent(ctx context.Context, companyID, agentID string, limit int) ([]model.Playbook, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func scored(doc string, sims ...float64) []model.ScoredChunk {
	out := make([]model.ScoredChunk, 0, len(sims))
	for i, s := range sims {
		out = append(out, model.ScoredChunk{
			DocumentChunk: model.DocumentChunk{DocumentID: doc, Content: fmt.Sprintf("%s chunk %d", doc, i)},
			DocumentName:  doc + ".pdf",
			Similarity:    s,
		})
	}
	return out
}

func playbooks(n int) []model.Playbook {
	out := make([]model.Playbook, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Playbook{ID: fmt.Sprintf("pb-%d", i), Title: "pb", Content: "playbook step"})
	}
	return out
}

func allEnabled() model.RetrievalConfig {
	return model.RetrievalConfig{EnableCompanyProfile: true, EnableAgentDocs: true, EnableSharedDocs: true, EnablePlaybooks: true}
}

func TestRetrieveTierOrder(t *testing.T) {
	chunks := &fakeChunks{agent: scored("agent", 0.9, 0.8), shared: scored("shared", 0.75)}
	e := NewEngine(chunks, &fakeProfiles{profile: &model.CompanyProfile{CompanyID: "c", Name: "Acme"}}, &fakePlaybooks{items: playbooks(1)})

	out := e.Retrieve(context.Background(), "q", []float32{1}, allEnabled(), "c", "a")
	require.Len(t, out, 5)
	require.Equal(t, model.TierCompanyProfile, out[0].Tier)
	require.Nil(t, out[0].Score)
	require.Equal(t, model.TierAgentDocuments, out[1].Tier)
	require.Equal(t, model.TierAgentDocuments, out[2].Tier)
	require.Equal(t, model.TierSharedDocs, out[3].Tier)
	require.Equal(t, model.TierPlaybooks, out[4].Tier)
	require.Equal(t, 0.9, *out[1].Score)
}

func TestRetrieveDropsBelowThreshold(t *testing.T) {
	chunks := &fakeChunks{agent: scored("agent", 0.95, 0.65)}
	cfg := model.RetrievalConfig{EnableAgentDocs: true}
	out := NewEngine(chunks, &fakeProfiles{}, &fakePlaybooks{}).Retrieve(context.Background(), "q", []float32{1}, cfg, "c", "a")
	require.Len(t, out, 1)
	require.GreaterOrEqual(t, *out[0].Score, 0.7)
	require.Equal(t, 5, chunks.lastLimit)
}

func TestRetrieveTotalCapTruncatesTail(t *testing.T) {
	sims := make([]float64, 5)
	for i := range sims {
		sims[i] = 0.9
	}
	chunks := &fakeChunks{agent: scored("agent", sims...), shared: scored("shared", sims...)}
	cfg := allEnabled()
	cfg.TotalMaxChunks = 7
	out := NewEngine(chunks, &fakeProfiles{profile: &model.CompanyProfile{Name: "Acme"}}, &fakePlaybooks{items: playbooks(5)}).
		Retrieve(context.Background(), "q", []float32{1}, cfg, "c", "a")
	require.Len(t, out, 7)
	require.Equal(t, model.TierCompanyProfile, out[0].Tier)
	for _, s := range out {
		require.NotEqual(t, model.TierPlaybooks, s.Tier)
	}
}

func TestRetrieveNilEmbeddingSkipsVectorTiers(t *testing.T) {
	chunks := &fakeChunks{agent: scored("agent", 0.9)}
	out := NewEngine(chunks, &fakeProfiles{profile: &model.CompanyProfile{Name: "Acme"}}, &fakePlaybooks{items: playbooks(2)}).
		Retrieve(context.Background(), "q", nil, allEnabled(), "c", "a")
	require.Zero(t, chunks.calls)
	require.Len(t, out, 3)
	require.Equal(t, model.TierCompanyProfile, out[0].Tier)
	require.Equal(t, model.TierPlaybooks, out[2].Tier)
}

func TestRetrieveFailingTierIsSkipped(t *testing.T) {
	chunks := &fakeChunks{agentErr: errors.New("vector index offline"), shared: scored("shared", 0.8)}
	out := NewEngine(chunks, &fakeProfiles{}, &fakePlaybooks{err: errors.New("boom")}).
		Retrieve(context.Background(), "q", []float32{1}, allEnabled(), "c", "a")
	require.Len(t, out, 1)
	require.Equal(t, model.TierSharedDocs, out[0].Tier)
}

func TestRetrieveNothingEnabled(t *testing.T) {
	chunks := &fakeChunks{}
	out := NewEngine(chunks, &fakeProfiles{}, &fakePlaybooks{}).Retrieve(context.Background(), "q", []float32{1}, model.RetrievalConfig{}, "c", "a")
	require.NotNil(t, out)
	require.Empty(t, out)
	require.Zero(t, chunks.calls)
}

func TestRetrieveTokenBudget(t *testing.T) {
	chunks := &fakeChunks{agent: []model.ScoredChunk{
		{DocumentChunk: model.DocumentChunk{Content: strings.Repeat("word ", 30)}, Similarity: 0.9},
		{DocumentChunk: model.DocumentChunk{Content: strings.Repeat("word ", 30)}, Similarity: 0.8},
	}}
	cfg := model.RetrievalConfig{EnableAgentDocs: true, MaxContextTokens: 50}
	out := NewEngine(chunks, &fakeProfiles{}, &fakePlaybooks{}).Retrieve(context.Background(), "q", []float32{1}, cfg, "c", "a")
	require.Len(t, out, 1)
}

func TestFormatContextLabelsTiers(t *testing.T) {
	score := 0.82
	block := FormatContext([]model.ContextSource{
		{Tier: model.TierCompanyProfile, Content: "Company: Acme", Title: "Acme"},
		{Tier: model.TierAgentDocuments, Content: "Refunds take 5 days.", Title: "policy.pdf", Score: &score},
	})
	require.Contains(t, block, "## Company profile")
	require.Contains(t, block, "## Agent documents")
	require.Contains(t, block, "[2] policy.pdf (relevance 0.82)")
	require.Empty(t, FormatContext(nil))
}

func TestHeuristicCounter(t *testing.T) {
	require.Equal(t, 3, heuristicCounter{}.Count("one two three"))
	require.Equal(t, 1, heuristicCounter{}.Count("   "))
}

func TestRetrieveInheritsBaseLimits(t *testing.T) {
	chunks := &fakeChunks{agent: scored("agent", 0.95, 0.85, 0.8)}
	e := NewEngine(chunks, &fakeProfiles{}, &fakePlaybooks{},
		WithBaseConfig(model.RetrievalConfig{SimilarityThreshold: 0.9, MaxChunksPerSource: 2}))
	out := e.Retrieve(context.Background(), "q", []float32{1}, model.RetrievalConfig{EnableAgentDocs: true}, "c", "a")
	require.Len(t, out, 1)
	require.Equal(t, 2, chunks.lastLimit)

	cfg := model.RetrievalConfig{EnableAgentDocs: true, SimilarityThreshold: 0.8}
	out = e.Retrieve(context.Background(), "q", []float32{1}, cfg, "c", "a")
	require.Len(t, out, 2)
}
