package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/magent/internal/model"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
)

// Provider is an external tool backend such as an MCP server. Tools are
// addressed by the name the backend itself uses.
type Provider interface {
	Name() string
	ListTools(ctx context.Context) ([]model.ToolDescriptor, error)
	Call(ctx context.Context, remoteName string, args map[string]interface{}) (string, error)
}

type ToolStore interface {
	Upsert(ctx context.Context, tool *model.ToolDescriptor) error
}

// Registry routes invocations to the provider that owns a tool.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Invoke calls tool with args. Every failure is returned as a
// *ToolInvocationError carrying the tool identifier.
func (r *Registry) Invoke(ctx context.Context, tool model.ToolDescriptor, args map[string]interface{}) (string, error) {
	p, ok := r.provider(tool.Provider)
	if !ok {
		return "", &appErr.ToolInvocationError{ToolID: tool.ID, Err: fmt.Errorf("provider %q not registered", tool.Provider)}
	}
	remote := tool.RemoteName
	if remote == "" {
		remote = tool.Name
	}
	out, err := p.Call(ctx, remote, args)
	if err != nil {
		return "", &appErr.ToolInvocationError{ToolID: tool.ID, Err: err}
	}
	return out, nil
}

// Sync lists the tools of every provider and stores them under stable
// identifiers derived from provider and remote name. A provider that fails
// to list is logged and skipped.
func (r *Registry) Sync(ctx context.Context, store ToolStore) (int, error) {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	total := 0
	for _, p := range providers {
		logger := logutil.GetLogger(ctx).With(zap.String("provider", p.Name()))
		items, err := p.ListTools(ctx)
		if err != nil {
			logger.Error("list tools failed", zap.Error(err))
			continue
		}
		for i := range items {
			item := &items[i]
			item.Provider = p.Name()
			if item.RemoteName == "" {
				item.RemoteName = item.Name
			}
			if item.ID == "" {
				item.ID = ToolID(p.Name(), item.RemoteName)
			}
			if err := store.Upsert(ctx, item); err != nil {
				return total, fmt.Errorf("store tool %s: %w", item.Name, err)
			}
			total++
		}
		logger.Info("tools synced", zap.Int("count", len(items)))
	}
	return total, nil
}

// ToolID is the stable identifier of a provider tool.
func ToolID(provider, remoteName string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("magent-tool://"+provider+"/"+remoteName)).String()
}
