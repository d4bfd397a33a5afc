package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/magent/internal/ai"
	"github.com/xxxsen/magent/internal/metrics"
	"github.com/xxxsen/magent/internal/model"
)

const maxResultChars = 16000

type Invoker interface {
	Invoke(ctx context.Context, tool model.ToolDescriptor, args map[string]interface{}) (string, error)
}

type Executor struct {
	invoker  Invoker
	parallel bool
	maxCalls int
}

type ExecutorOption func(*Executor)

func WithParallel(v bool) ExecutorOption {
	return func(e *Executor) {
		e.parallel = v
	}
}

// WithMaxCalls caps how many calls of one turn are executed. Zero means no cap.
func WithMaxCalls(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxCalls = n
		}
	}
}

func NewExecutor(invoker Invoker, opts ...ExecutorOption) *Executor {
	e := &Executor{invoker: invoker}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every requested call and returns one result per call in
// request order. A failing call yields an error result and never affects its
// siblings.
func (e *Executor) Execute(ctx context.Context, table *Table, calls []ai.ToolCall) []model.ToolInvocationResult {
	results := make([]model.ToolInvocationResult, len(calls))
	runnable := len(calls)
	if e.maxCalls > 0 && runnable > e.maxCalls {
		runnable = e.maxCalls
	}
	for i := runnable; i < len(calls); i++ {
		results[i] = e.reject(table, calls[i], fmt.Sprintf("tool call limit of %d reached for this turn", e.maxCalls))
	}
	if !e.parallel || runnable <= 1 {
		for i := 0; i < runnable; i++ {
			results[i] = e.run(ctx, table, calls[i])
		}
		return results
	}
	var g errgroup.Group
	for i := 0; i < runnable; i++ {
		i := i
		g.Go(func() error {
			results[i] = e.run(ctx, table, calls[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) reject(table *Table, call ai.ToolCall, reason string) model.ToolInvocationResult {
	res := model.ToolInvocationResult{CallID: call.ID, ToolName: call.Name, Error: reason}
	if tool, ok := table.Resolve(call.Name); ok {
		res.ToolID = tool.ID
		res.ToolName = tool.Name
	}
	metrics.ToolInvocations.WithLabelValues(res.ToolName, "rejected").Inc()
	return res
}

func (e *Executor) run(ctx context.Context, table *Table, call ai.ToolCall) model.ToolInvocationResult {
	logger := logutil.GetLogger(ctx).With(zap.String("call_id", call.ID), zap.String("function", call.Name))
	tool, ok := table.Resolve(call.Name)
	if !ok {
		logger.Warn("model requested unknown tool")
		return e.reject(table, call, fmt.Sprintf("unknown tool %q", call.Name))
	}
	res := model.ToolInvocationResult{CallID: call.ID, ToolID: tool.ID, ToolName: tool.Name}
	args, err := parseArguments(call.Arguments)
	if err != nil {
		res.Error = err.Error()
		metrics.ToolInvocations.WithLabelValues(tool.Name, "bad_arguments").Inc()
		return res
	}
	start := time.Now()
	out, err := e.invoker.Invoke(ctx, tool, args)
	elapsed := time.Since(start)
	res.DurationMs = elapsed.Milliseconds()
	metrics.ToolLatency.WithLabelValues(tool.Name).Observe(elapsed.Seconds())
	if err != nil {
		logger.Warn("tool invocation failed", zap.String("tool_id", tool.ID), zap.Error(err))
		res.Error = err.Error()
		metrics.ToolInvocations.WithLabelValues(tool.Name, "error").Inc()
		return res
	}
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	res.Content = truncate(out, maxResultChars)
	metrics.ToolInvocations.WithLabelValues(tool.Name, "ok").Inc()
	logger.Debug("tool invoked", zap.String("tool_id", tool.ID), zap.Int64("duration_ms", res.DurationMs))
	return res
}

func parseArguments(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "\n[truncated]"
}

// ResultMessages renders results as tool-role messages paired with calls.
// calls and results share the same order.
func ResultMessages(calls []ai.ToolCall, results []model.ToolInvocationResult) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(results))
	for i, r := range results {
		content := r.Content
		if r.Failed() {
			content = "Error: " + r.Error
		}
		name := r.ToolName
		if i < len(calls) {
			name = calls[i].Name
		}
		out = append(out, ai.ChatMessage{
			Role:       ai.RoleTool,
			Content:    content,
			ToolCallID: r.CallID,
			Name:       name,
		})
	}
	return out
}
