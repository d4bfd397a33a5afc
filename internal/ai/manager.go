package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/magent/internal/config"
)

type ManagerConfig struct {
	Timeout int
}

// Manager hands out the configured model chains. Every call made through
// them is bounded by the configured timeout.
type Manager struct {
	chat       IChatter
	classifier IChatter
	embedder   IEmbedder
	cfg        ManagerConfig

	providers map[string]IProvider
	opts      GroupOptions
	mu        sync.Mutex
	preferred map[string]IChatter
}

func NewManager(chat IChatter, classifier IChatter, embedder IEmbedder, cfg ManagerConfig) *Manager {
	if classifier == nil {
		classifier = chat
	}
	return &Manager{
		chat:       chat,
		classifier: classifier,
		embedder:   embedder,
		cfg:        cfg,
		preferred:  make(map[string]IChatter),
	}
}

// Build wires providers and model chains from configuration.
func Build(cfg config.AIConfig) (*Manager, error) {
	providers := make(map[string]IProvider, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc.Type, pc.Name, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init ai provider %s: %w", pc.Name, err)
		}
		providers[pc.Name] = p
	}
	opts := GroupOptions{
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
	}
	buildChat := func(refs []config.ModelRef) (IChatter, error) {
		entries := make([]ChatterEntry, 0, len(refs))
		for _, ref := range refs {
			p, ok := providers[ref.Provider]
			if !ok {
				return nil, fmt.Errorf("unknown ai provider: %s", ref.Provider)
			}
			entries = append(entries, ChatterEntry{Name: ref.Provider + ":" + ref.Model, Chatter: NewChatter(p, ref.Model)})
		}
		return NewGroupChatter(entries, opts), nil
	}
	chat, err := buildChat(cfg.Chat)
	if err != nil {
		return nil, err
	}
	classifier, err := buildChat(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	embedEntries := make([]EmbedderEntry, 0, len(cfg.Embed))
	for _, ref := range cfg.Embed {
		p, ok := providers[ref.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown ai provider: %s", ref.Provider)
		}
		embedEntries = append(embedEntries, EmbedderEntry{Name: ref.Model, Embedder: NewEmbedder(p, ref.Model)})
	}
	m := NewManager(chat, classifier, NewGroupEmbedder(embedEntries, opts), ManagerConfig{Timeout: cfg.Timeout})
	m.providers = providers
	m.opts = opts
	return m, nil
}

func (m *Manager) ChatModel() IChatter {
	return &timeoutChatter{next: m.chat, timeout: m.timeout()}
}

// ChatModelFor returns the chat chain with model tried first and the rest of
// the chain kept as fallback. model is a configured entry ("provider:model"),
// the bare model of one, or "provider:model" on any configured provider. The
// second result is false when model is unknown and the default chain is
// returned.
func (m *Manager) ChatModelFor(model string) (IChatter, bool) {
	model = strings.TrimSpace(model)
	if model == "" {
		return m.ChatModel(), true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	chain, ok := m.preferred[model]
	if !ok {
		chain = m.preferredChain(model)
		if chain == nil {
			return m.ChatModel(), false
		}
		m.preferred[model] = chain
	}
	return &timeoutChatter{next: chain, timeout: m.timeout()}, true
}

func (m *Manager) preferredChain(model string) IChatter {
	group, ok := m.chat.(*groupChatter)
	if !ok {
		return nil
	}
	if g, ok := group.prefer(model); ok {
		return g
	}
	providerName, modelName, ok := strings.Cut(model, ":")
	if !ok || modelName == "" {
		return nil
	}
	p, ok := m.providers[providerName]
	if !ok {
		return nil
	}
	return group.prepend(ChatterEntry{Name: model, Chatter: NewChatter(p, modelName)}, m.opts)
}

func (m *Manager) ClassifierModel() IChatter {
	return &timeoutChatter{next: m.classifier, timeout: m.timeout()}
}

func (m *Manager) Embedder() IEmbedder {
	return &timeoutEmbedder{next: m.embedder, timeout: m.timeout()}
}

func (m *Manager) timeout() time.Duration {
	return time.Duration(m.cfg.Timeout) * time.Second
}

type timeoutChatter struct {
	next    IChatter
	timeout time.Duration
}

func (t *timeoutChatter) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if t.next == nil {
		return nil, fmt.Errorf("chatter not configured")
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	resp, err := t.next.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if isEmptyResponse(resp) {
		return nil, errEmptyResponse
	}
	return resp, nil
}

func (t *timeoutChatter) ModelName() string {
	if t.next == nil {
		return ""
	}
	return t.next.ModelName()
}

type timeoutEmbedder struct {
	next    IEmbedder
	timeout time.Duration
}

func (t *timeoutEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if t.next == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	vec, err := t.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	return vec, nil
}

func (t *timeoutEmbedder) ModelName() string {
	if t.next == nil {
		return ""
	}
	return t.next.ModelName()
}
