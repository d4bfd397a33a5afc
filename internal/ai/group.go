package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type ChatterEntry struct {
	Name    string
	Chatter IChatter
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

type GroupOptions struct {
	MaxRetries  int
	RetryDelay  time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

type guard struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	opts    GroupOptions
}

func newGuard(name string, opts GroupOptions) *guard {
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return &guard{
		name: name,
		opts: opts,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     opts.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		}),
	}
}

var errEmptyResponse = errors.New("empty ai response")

func isEmptyResponse(resp *ChatResponse) bool {
	return resp == nil || (resp.Content == "" && len(resp.ToolCalls) == 0)
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// do runs fn through the breaker, retrying with backoff. Unconfigured
// providers and open breakers are not retried.
func (g *guard) do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt <= g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, calculateBackoff(g.opts.RetryDelay, attempt)); err != nil {
				return nil, err
			}
		}
		res, err := g.breaker.Execute(fn)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if isBreakerRejection(err) || errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
			break
		}
		logutil.GetLogger(ctx).Debug("ai call attempt failed",
			zap.String("name", g.name), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, lastErr
}

type groupChatter struct {
	items  []ChatterEntry
	guards []*guard
}

// NewGroupChatter tries each entry in order until one succeeds.
func NewGroupChatter(items []ChatterEntry, opts GroupOptions) IChatter {
	if len(items) == 0 {
		return nil
	}
	guards := make([]*guard, len(items))
	for i, item := range items {
		guards[i] = newGuard("chat:"+item.Name, opts)
	}
	return &groupChatter{items: items, guards: guards}
}

func (g *groupChatter) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Chatter == nil {
			continue
		}
		res, err := g.guards[i].do(ctx, func() (interface{}, error) {
			resp, err := item.Chatter.Chat(ctx, req)
			if err != nil {
				return nil, err
			}
			if isEmptyResponse(resp) {
				return nil, errEmptyResponse
			}
			return resp, nil
		})
		if err == nil {
			return res.(*ChatResponse), nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("chatter failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("chatter not configured")
	}
	return nil, lastErr
}

func (g *groupChatter) ModelName() string {
	return joinNames(len(g.items), func(i int) string { return g.items[i].Name })
}

// prefer returns a view of the group that tries the entry named model first.
// model matches an entry name or the model part of "provider:model". Breaker
// state is shared with the original group.
func (g *groupChatter) prefer(model string) (*groupChatter, bool) {
	for i, item := range g.items {
		if item.Name != model && !strings.HasSuffix(item.Name, ":"+model) {
			continue
		}
		if i == 0 {
			return g, true
		}
		items := make([]ChatterEntry, 0, len(g.items))
		guards := make([]*guard, 0, len(g.guards))
		items = append(items, g.items[i])
		guards = append(guards, g.guards[i])
		for j := range g.items {
			if j != i {
				items = append(items, g.items[j])
				guards = append(guards, g.guards[j])
			}
		}
		return &groupChatter{items: items, guards: guards}, true
	}
	return nil, false
}

// prepend returns a view of the group with entry tried before every
// configured one.
func (g *groupChatter) prepend(entry ChatterEntry, opts GroupOptions) *groupChatter {
	items := append([]ChatterEntry{entry}, g.items...)
	guards := append([]*guard{newGuard("chat:"+entry.Name, opts)}, g.guards...)
	return &groupChatter{items: items, guards: guards}
}

type groupEmbedder struct {
	items  []EmbedderEntry
	guards []*guard
}

func NewGroupEmbedder(items []EmbedderEntry, opts GroupOptions) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	guards := make([]*guard, len(items))
	for i, item := range items {
		guards[i] = newGuard("embed:"+item.Name, opts)
	}
	return &groupEmbedder{items: items, guards: guards}
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := g.guards[i].do(ctx, func() (interface{}, error) {
			return item.Embedder.Embed(ctx, text, taskType)
		})
		if err == nil {
			return res.([]float32), nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	return nil, lastErr
}

func (g *groupEmbedder) ModelName() string {
	return joinNames(len(g.items), func(i int) string { return g.items[i].Name })
}

func joinNames(n int, at func(int) string) string {
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if name := at(i); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}
