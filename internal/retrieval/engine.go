package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/magent/internal/metrics"
	"github.com/xxxsen/magent/internal/model"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

type ChunkSearcher interface {
	SearchAgent(ctx context.Context, companyID, agentID string, embedding []float32, threshold float64, limit int) ([]model.ScoredChunk, error)
	SearchShared(ctx context.Context, companyID string, embedding []float32, threshold float64, limit int) ([]model.ScoredChunk, error)
}

type ProfileSource interface {
	Get(ctx context.Context, companyID string) (*model.CompanyProfile, error)
}

type PlaybookSource interface {
	ListForAgent(ctx context.Context, companyID, agentID string, limit int) ([]model.Playbook, error)
}

type request struct {
	embedding []float32
	cfg       model.RetrievalConfig
	companyID string
	agentID   string
}

type tier struct {
	name    model.TierName
	vector  bool
	enabled func(cfg model.RetrievalConfig) bool
	fetch   func(ctx context.Context, req *request) ([]model.ContextSource, error)
}

type Engine struct {
	tiers   []tier
	counter TokenCounter
	base    model.RetrievalConfig
}

type EngineOption func(*Engine)

func WithTokenCounter(c TokenCounter) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.counter = c
		}
	}
}

// WithBaseConfig sets the limits used when an agent leaves them unset.
func WithBaseConfig(base model.RetrievalConfig) EngineOption {
	return func(e *Engine) {
		e.base = base
	}
}

func NewEngine(chunks ChunkSearcher, profiles ProfileSource, playbooks PlaybookSource, opts ...EngineOption) *Engine {
	e := &Engine{counter: heuristicCounter{}}
	e.tiers = []tier{
		{
			name:    model.TierCompanyProfile,
			enabled: func(cfg model.RetrievalConfig) bool { return cfg.EnableCompanyProfile },
			fetch: func(ctx context.Context, req *request) ([]model.ContextSource, error) {
				return fetchProfile(ctx, profiles, req)
			},
		},
		{
			name:    model.TierAgentDocuments,
			vector:  true,
			enabled: func(cfg model.RetrievalConfig) bool { return cfg.EnableAgentDocs },
			fetch: func(ctx context.Context, req *request) ([]model.ContextSource, error) {
				if req.agentID == "" {
					return nil, nil
				}
				hits, err := chunks.SearchAgent(ctx, req.companyID, req.agentID, req.embedding, req.cfg.SimilarityThreshold, req.cfg.MaxChunksPerSource)
				return scoredToSources(model.TierAgentDocuments, hits, req.cfg), err
			},
		},
		{
			name:    model.TierSharedDocs,
			vector:  true,
			enabled: func(cfg model.RetrievalConfig) bool { return cfg.EnableSharedDocs },
			fetch: func(ctx context.Context, req *request) ([]model.ContextSource, error) {
				hits, err := chunks.SearchShared(ctx, req.companyID, req.embedding, req.cfg.SimilarityThreshold, req.cfg.MaxChunksPerSource)
				return scoredToSources(model.TierSharedDocs, hits, req.cfg), err
			},
		},
		{
			name:    model.TierPlaybooks,
			enabled: func(cfg model.RetrievalConfig) bool { return cfg.EnablePlaybooks },
			fetch: func(ctx context.Context, req *request) ([]model.ContextSource, error) {
				return fetchPlaybooks(ctx, playbooks, req)
			},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve gathers context from every enabled tier in declaration order.
// It never fails: a broken tier is logged and skipped, and a nil embedding
// only disables the vector tiers.
func (e *Engine) Retrieve(ctx context.Context, query string, embedding []float32, cfg model.RetrievalConfig, companyID, agentID string) []model.ContextSource {
	logger := logutil.GetLogger(ctx).With(zap.String("company_id", companyID), zap.String("agent_id", agentID))
	cfg = cfg.Inherit(e.base)
	out := make([]model.ContextSource, 0)
	if !cfg.AnyEnabled() {
		return out
	}
	req := &request{embedding: embedding, cfg: cfg, companyID: companyID, agentID: agentID}
	if len(embedding) == 0 && (cfg.EnableAgentDocs || cfg.EnableSharedDocs) {
		logger.Warn("query embedding unavailable, vector tiers skipped", zap.Error(appErr.ErrRetrievalDegraded))
	}
	counts := make(map[model.TierName]int, len(e.tiers))
	for _, t := range e.tiers {
		if !t.enabled(cfg) {
			continue
		}
		if t.vector && len(embedding) == 0 {
			continue
		}
		items, err := t.fetch(ctx, req)
		if err != nil {
			metrics.RetrievalTierErrors.WithLabelValues(string(t.name)).Inc()
			logger.Warn("retrieval tier failed", zap.String("tier", string(t.name)), zap.Error(err))
			continue
		}
		if len(items) > cfg.MaxChunksPerSource {
			items = items[:cfg.MaxChunksPerSource]
		}
		out = append(out, items...)
	}
	if len(out) > cfg.TotalMaxChunks {
		out = out[:cfg.TotalMaxChunks]
	}
	if cfg.MaxContextTokens > 0 {
		out = e.applyTokenBudget(out, cfg.MaxContextTokens)
	}
	for _, s := range out {
		counts[s.Tier]++
	}
	fields := []zap.Field{zap.Int("query_len", len(query)), zap.Int("total", len(out))}
	for _, t := range e.tiers {
		if n := counts[t.name]; n > 0 {
			metrics.RetrievedSources.WithLabelValues(string(t.name)).Add(float64(n))
			fields = append(fields, zap.Int(string(t.name), n))
		}
	}
	logger.Info("context retrieved", fields...)
	return out
}

func (e *Engine) applyTokenBudget(sources []model.ContextSource, budget int) []model.ContextSource {
	used := 0
	for i, s := range sources {
		used += e.counter.Count(s.Content)
		if used > budget {
			return sources[:i]
		}
	}
	return sources
}

func scoredToSources(name model.TierName, hits []model.ScoredChunk, cfg model.RetrievalConfig) []model.ContextSource {
	out := make([]model.ContextSource, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < cfg.SimilarityThreshold {
			continue
		}
		score := h.Similarity
		out = append(out, model.ContextSource{
			Tier:     name,
			Content:  h.Content,
			Score:    &score,
			Title:    h.DocumentName,
			SourceID: h.DocumentID,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Score > *out[j].Score })
	return out
}

func fetchProfile(ctx context.Context, profiles ProfileSource, req *request) ([]model.ContextSource, error) {
	p, err := profiles.Get(ctx, req.companyID)
	if appErr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&sb, "Company: %s\n", p.Name)
	}
	if p.Industry != "" {
		fmt.Fprintf(&sb, "Industry: %s\n", p.Industry)
	}
	if p.Description != "" {
		sb.WriteString(p.Description)
		sb.WriteString("\n")
	}
	keys := make([]string, 0, len(p.Facts))
	for k := range p.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, p.Facts[k])
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, nil
	}
	return []model.ContextSource{{
		Tier:     model.TierCompanyProfile,
		Content:  content,
		Title:    p.Name,
		SourceID: p.CompanyID,
	}}, nil
}

func fetchPlaybooks(ctx context.Context, playbooks PlaybookSource, req *request) ([]model.ContextSource, error) {
	items, err := playbooks.ListForAgent(ctx, req.companyID, req.agentID, req.cfg.MaxChunksPerSource)
	if err != nil {
		return nil, err
	}
	out := make([]model.ContextSource, 0, len(items))
	for _, p := range items {
		out = append(out, model.ContextSource{
			Tier:     model.TierPlaybooks,
			Content:  p.Content,
			Title:    p.Title,
			SourceID: p.ID,
		})
	}
	return out, nil
}
