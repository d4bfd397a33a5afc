package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/magent/internal/ai"
	"github.com/xxxsen/magent/internal/metrics"
	"github.com/xxxsen/magent/internal/model"
)

const historyWindow = 6

type Input struct {
	Message      string
	History      []model.Message
	Attachments  []model.Attachment
	EnabledTools []model.ToolDescriptor
	Lookup       ToolLookup
}

type Classifier struct {
	chatter ai.IChatter
	now     func() time.Time
	rules   []Rule
}

type Option func(*Classifier)

func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

func WithRules(rules ...Rule) Option {
	return func(c *Classifier) {
		c.rules = rules
	}
}

func NewClassifier(chatter ai.IChatter, opts ...Option) *Classifier {
	c := &Classifier{chatter: chatter, now: time.Now, rules: DefaultRules()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify never fails. A model error degrades to an assistant_only plan with
// zero confidence and the override rules still run on it.
func (c *Classifier) Classify(ctx context.Context, in Input) model.IntentPlan {
	logger := logutil.GetLogger(ctx)
	if in.Lookup == nil {
		in.Lookup = NewMapLookup(in.EnabledTools)
	}
	decidedBy := "model"
	plan, err := c.askModel(ctx, &in)
	if err != nil {
		logger.Warn("intent classification failed, using base plan", zap.Error(err))
		decidedBy = "fallback"
		plan = basePlan("classifier unavailable")
	}
	plan = sanitize(plan, &in)
	for _, r := range c.rules {
		if next, ok := r.Apply(&in, plan); ok {
			plan = sanitize(next, &in)
			decidedBy = r.Name
			break
		}
	}
	metrics.IntentDecisions.WithLabelValues(string(plan.ActionType), decidedBy).Inc()
	logger.Debug("intent classified",
		zap.String("action_type", string(plan.ActionType)),
		zap.String("decided_by", decidedBy),
		zap.Int("tools", len(plan.ToolRequired)),
		zap.Float64("confidence", plan.Confidence))
	return plan
}

func (c *Classifier) askModel(ctx context.Context, in *Input) (model.IntentPlan, error) {
	if c.chatter == nil {
		return model.IntentPlan{}, fmt.Errorf("classifier not configured")
	}
	temperature := float32(0)
	messages := []ai.ChatMessage{{Role: ai.RoleSystem, Content: buildSystemPrompt(in.EnabledTools, c.now())}}
	history := in.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	user := in.Message
	if len(in.Attachments) > 0 {
		names := make([]string, 0, len(in.Attachments))
		for _, a := range in.Attachments {
			names = append(names, a.Name)
		}
		user = fmt.Sprintf("%s\n\n[attachments: %s]", user, strings.Join(names, ", "))
	}
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: user})
	resp, err := c.chatter.Chat(ctx, &ai.ChatRequest{Messages: messages, Temperature: &temperature, JSONMode: true})
	if err != nil {
		return model.IntentPlan{}, err
	}
	return parsePlan(resp.Content)
}

func basePlan(reason string) model.IntentPlan {
	return model.IntentPlan{ActionType: model.ActionAssistantOnly, Confidence: 0, Reasoning: reason}
}

func parsePlan(output string) (model.IntentPlan, error) {
	clean := strings.TrimSpace(output)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	var plan model.IntentPlan
	if err := json.Unmarshal([]byte(clean), &plan); err != nil {
		return model.IntentPlan{}, fmt.Errorf("parse intent plan: %w", err)
	}
	plan.ActionType = model.ActionType(strings.ToLower(strings.TrimSpace(string(plan.ActionType))))
	return plan, nil
}

// sanitize keeps only tools that resolve to an enabled tool, rewrites their
// identifiers to the stable ones and downgrades plans left without tools.
func sanitize(plan model.IntentPlan, in *Input) model.IntentPlan {
	if !plan.ActionType.Valid() {
		plan.ActionType = model.ActionAssistantOnly
	}
	if plan.Confidence < 0 {
		plan.Confidence = 0
	}
	if plan.Confidence > 1 {
		plan.Confidence = 1
	}
	if !plan.ActionType.IncludesTool() {
		plan.ToolRequired = nil
	}
	kept := make([]model.ToolInvocation, 0, len(plan.ToolRequired))
	for _, inv := range plan.ToolRequired {
		t, ok := in.Lookup.Resolve(inv.ToolID)
		if !ok {
			continue
		}
		inv.ToolID = t.ID
		if inv.Parameters == nil {
			inv.Parameters = map[string]interface{}{}
		}
		kept = append(kept, inv)
	}
	if plan.ActionType.IncludesTool() {
		plan.ToolRequired = kept
		if len(kept) == 0 {
			if plan.ActionType == model.ActionBoth {
				plan.ActionType = model.ActionDocumentSearch
			} else {
				plan.ActionType = model.ActionAssistantOnly
			}
			plan.ToolRequired = nil
		}
	}
	if plan.ActionType.IncludesRetrieval() && strings.TrimSpace(plan.DocumentQuery) == "" {
		plan.DocumentQuery = in.Message
	}
	return plan
}
