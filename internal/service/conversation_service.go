package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/magent/internal/ai"
	"github.com/xxxsen/magent/internal/extract"
	"github.com/xxxsen/magent/internal/intent"
	"github.com/xxxsen/magent/internal/metrics"
	"github.com/xxxsen/magent/internal/model"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
	"github.com/xxxsen/magent/internal/retrieval"
	"github.com/xxxsen/magent/internal/tools"
)

const (
	maxMessageChars    = 32000
	maxAttachments     = 10
	maxAttachmentChars = 60000
	defaultInstruction = "You are a helpful business assistant. Answer accurately and concisely."
)

type AgentStore interface {
	GetByID(ctx context.Context, companyID, id string) (*model.Agent, error)
}

type ToolLister interface {
	ListEnabledForAgent(ctx context.Context, agentID string) ([]model.ToolDescriptor, error)
}

type MessageStore interface {
	SaveExchange(ctx context.Context, user *model.Message, assistant *model.Message) error
	ListRecent(ctx context.Context, companyID, conversationID string, limit int) ([]model.Message, error)
	ListByConversation(ctx context.Context, companyID, conversationID string, limit, offset int) ([]model.Message, error)
}

type ChunkLister interface {
	ListByDocument(ctx context.Context, companyID, documentID string) ([]model.DocumentChunk, error)
}

type IntentClassifier interface {
	Classify(ctx context.Context, in intent.Input) model.IntentPlan
}

type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, embedding []float32, cfg model.RetrievalConfig, companyID, agentID string) []model.ContextSource
}

// ChatSelector resolves the chat chain for an agent's configured model.
type ChatSelector interface {
	ChatModelFor(model string) (ai.IChatter, bool)
}

type ToolRunner interface {
	Execute(ctx context.Context, table *tools.Table, calls []ai.ToolCall) []model.ToolInvocationResult
}

type ConverseRequest struct {
	Message        string
	AgentID        string
	ConversationID string
	UserID         string
	CompanyID      string
	Attachments    []model.Attachment
}

type Citation struct {
	Tier           model.TierName `json:"tier"`
	Content        string         `json:"content"`
	RelevanceScore *float64       `json:"relevanceScore,omitempty"`
	Source         string         `json:"source"`
}

type ContextMetadata struct {
	UsedContext bool       `json:"usedContext"`
	Citations   []Citation `json:"citations"`
}

type AssistantReply struct {
	Reply           string                       `json:"reply"`
	ConversationID  string                       `json:"conversationId"`
	MessageID       string                       `json:"messageId"`
	ContextMetadata ContextMetadata              `json:"contextMetadata"`
	ToolResults     []model.ToolInvocationResult `json:"toolResults"`
	Plan            model.IntentPlan             `json:"plan"`
}

type ConversationDeps struct {
	Agents     AgentStore
	Tools      ToolLister
	Messages   MessageStore
	Chunks     ChunkLister
	Classifier IntentClassifier
	Retriever  ContextRetriever
	Runner     ToolRunner
	Chat       ai.IChatter
	ChatModels ChatSelector
	Embedder   ai.IEmbedder
}

type ConversationService struct {
	deps         ConversationDeps
	historyLimit int
	now          func() time.Time
}

type ConversationOption func(*ConversationService)

func WithHistoryLimit(n int) ConversationOption {
	return func(s *ConversationService) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func WithNow(now func() time.Time) ConversationOption {
	return func(s *ConversationService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewConversationService(deps ConversationDeps, opts ...ConversationOption) *ConversationService {
	s := &ConversationService{deps: deps, historyLimit: 20, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// turn carries the state of one exchange through its stages.
type turn struct {
	req       ConverseRequest
	agent     *model.Agent
	table     *tools.Table
	history   []model.Message
	plan      model.IntentPlan
	sources   []model.ContextSource
	documents string
	results   []model.ToolInvocationResult
}

// Converse runs one exchange: classify, optionally retrieve, call the model,
// run requested tools and call the model again with their results. Messages
// are persisted only after a reply exists.
func (s *ConversationService) Converse(ctx context.Context, req ConverseRequest) (*AssistantReply, error) {
	if err := validateConverse(&req); err != nil {
		return nil, err
	}
	isNew := req.ConversationID == ""
	if isNew {
		req.ConversationID = newID()
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("company_id", req.CompanyID),
		zap.String("agent_id", req.AgentID),
		zap.String("conversation_id", req.ConversationID),
	)
	agent, err := s.deps.Agents.GetByID(ctx, req.CompanyID, req.AgentID)
	if err != nil {
		return nil, err
	}
	enabled, err := s.deps.Tools.ListEnabledForAgent(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("list agent tools: %w", err)
	}
	t := &turn{req: req, agent: agent, table: tools.NewTable(enabled)}
	if !isNew {
		t.history, err = s.deps.Messages.ListRecent(ctx, req.CompanyID, req.ConversationID, s.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	t.plan = s.deps.Classifier.Classify(ctx, intent.Input{
		Message:      req.Message,
		History:      t.history,
		Attachments:  req.Attachments,
		EnabledTools: enabled,
		Lookup:       t.table,
	})
	if t.plan.ActionType.IncludesRetrieval() {
		t.sources = s.retrieve(ctx, t)
	}
	if len(req.Attachments) > 0 {
		t.documents = s.attachmentText(ctx, t)
	}

	reply, err := s.callModel(ctx, t)
	if err != nil {
		metrics.ConversationTurns.WithLabelValues("model_error").Inc()
		logger.Error("conversation turn failed", zap.Error(err))
		return nil, err
	}

	now := s.now().UnixMilli()
	userMsg := &model.Message{
		ID:             newID(),
		ConversationID: req.ConversationID,
		AgentID:        agent.ID,
		CompanyID:      req.CompanyID,
		UserID:         req.UserID,
		Role:           model.RoleUser,
		Content:        req.Message,
		Ctime:          now,
	}
	assistantMsg := &model.Message{
		ID:             newID(),
		ConversationID: req.ConversationID,
		AgentID:        agent.ID,
		CompanyID:      req.CompanyID,
		UserID:         req.UserID,
		Role:           model.RoleAssistant,
		Content:        reply,
		ToolResults:    t.results,
		Citations:      t.sources,
		Ctime:          now,
	}
	if err := s.deps.Messages.SaveExchange(ctx, userMsg, assistantMsg); err != nil {
		metrics.ConversationTurns.WithLabelValues("persist_error").Inc()
		return nil, fmt.Errorf("save exchange: %w", err)
	}
	metrics.ConversationTurns.WithLabelValues("ok").Inc()
	logger.Info("conversation turn completed",
		zap.String("action_type", string(t.plan.ActionType)),
		zap.Int("sources", len(t.sources)),
		zap.Int("tool_calls", len(t.results)),
	)
	results := t.results
	if results == nil {
		results = []model.ToolInvocationResult{}
	}
	return &AssistantReply{
		Reply:           reply,
		ConversationID:  req.ConversationID,
		MessageID:       assistantMsg.ID,
		ContextMetadata: buildContextMetadata(t.sources),
		ToolResults:     results,
		Plan:            t.plan,
	}, nil
}

// History returns the persisted messages of a conversation, oldest first.
func (s *ConversationService) History(ctx context.Context, companyID, conversationID string, limit, offset int) ([]model.Message, error) {
	if strings.TrimSpace(conversationID) == "" || companyID == "" {
		return nil, appErr.Invalid("conversation id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.deps.Messages.ListByConversation(ctx, companyID, conversationID, limit, offset)
}

func validateConverse(req *ConverseRequest) error {
	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.Message == "":
		return appErr.Invalid("message is required")
	case utf8.RuneCountInString(req.Message) > maxMessageChars:
		return appErr.Invalid(fmt.Sprintf("message exceeds %d characters", maxMessageChars))
	case req.AgentID == "":
		return appErr.Invalid("agentId is required")
	case req.UserID == "" || req.CompanyID == "":
		return appErr.Invalid("userId and companyId are required")
	case len(req.Attachments) > maxAttachments:
		return appErr.Invalid(fmt.Sprintf("at most %d attachments are allowed", maxAttachments))
	}
	for _, a := range req.Attachments {
		if len(a.Data) == 0 && a.DocumentID == "" {
			return appErr.Invalid("attachment needs data or documentId")
		}
	}
	return nil
}

func (s *ConversationService) retrieve(ctx context.Context, t *turn) []model.ContextSource {
	query := strings.TrimSpace(t.plan.DocumentQuery)
	if query == "" {
		query = t.req.Message
	}
	var embedding []float32
	if s.deps.Embedder != nil {
		vec, err := s.deps.Embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
		if err != nil {
			logutil.GetLogger(ctx).Warn("query embedding failed", zap.Error(err))
		} else {
			embedding = vec
		}
	}
	return s.deps.Retriever.Retrieve(ctx, query, embedding, t.agent.Retrieval, t.req.CompanyID, t.agent.ID)
}

// attachmentText extracts inline attachments and loads referenced documents.
// A document that cannot be read contributes its notice instead of text.
func (s *ConversationService) attachmentText(ctx context.Context, t *turn) string {
	var sb strings.Builder
	budget := maxAttachmentChars
	for _, a := range t.req.Attachments {
		if budget <= 0 {
			break
		}
		text := s.readAttachment(ctx, t.req.CompanyID, a)
		r := []rune(text)
		if len(r) > budget {
			text = string(r[:budget]) + "\n[truncated]"
			r = r[:budget]
		}
		budget -= len(r)
		fmt.Fprintf(&sb, "### %s\n%s\n\n", a.Name, text)
	}
	return strings.TrimSpace(sb.String())
}

func (s *ConversationService) readAttachment(ctx context.Context, companyID string, a model.Attachment) string {
	logger := logutil.GetLogger(ctx).With(zap.String("attachment", a.Name))
	if len(a.Data) > 0 {
		res, err := extract.Extract(ctx, a.Data, a.MimeType, a.Name)
		if err != nil {
			logger.Warn("attachment extraction failed", zap.Error(err))
			return extractionNotice(err)
		}
		return res.Text
	}
	if s.deps.Chunks == nil {
		return ""
	}
	chunks, err := s.deps.Chunks.ListByDocument(ctx, companyID, a.DocumentID)
	if err != nil || len(chunks) == 0 {
		logger.Warn("attached document unavailable", zap.String("document_id", a.DocumentID), zap.Error(err))
		return "[Document is not available yet.]"
	}
	return joinChunks(chunks)
}

// joinChunks rebuilds document text from overlapping chunks using their
// offsets.
func joinChunks(chunks []model.DocumentChunk) string {
	var sb strings.Builder
	covered := 0
	for _, c := range chunks {
		content := []rune(c.Content)
		skip := covered - c.Start
		if skip < 0 {
			skip = 0
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
		}
		if skip < len(content) {
			sb.WriteString(string(content[skip:]))
		}
		if c.End > covered {
			covered = c.End
		}
	}
	return sb.String()
}

func extractionNotice(err error) string {
	var ee *appErr.ExtractionError
	if errors.As(err, &ee) && ee.Notice != "" {
		return ee.Notice
	}
	return "[Document could not be read.]"
}

func (s *ConversationService) callModel(ctx context.Context, t *turn) (string, error) {
	messages := make([]ai.ChatMessage, 0, len(t.history)+2)
	messages = append(messages, ai.ChatMessage{Role: ai.RoleSystem, Content: s.systemPrompt(t)})
	for _, m := range t.history {
		messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: t.req.Message})

	first := &ai.ChatRequest{Messages: messages}
	if t.plan.ActionType.IncludesTool() && t.table.Len() > 0 {
		first.Tools = t.table.Specs()
	}
	chat := s.chatFor(ctx, t.agent)
	resp, err := chat.Chat(ctx, first)
	if err != nil {
		return "", &appErr.ModelProviderError{Stage: "first_call", Err: err}
	}
	if len(resp.ToolCalls) == 0 {
		return resp.Content, nil
	}

	t.results = s.deps.Runner.Execute(ctx, t.table, resp.ToolCalls)
	followUp := make([]ai.ChatMessage, 0, len(messages)+1+len(t.results))
	followUp = append(followUp, messages...)
	followUp = append(followUp, ai.ChatMessage{Role: ai.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
	followUp = append(followUp, tools.ResultMessages(resp.ToolCalls, t.results)...)
	final, err := chat.Chat(ctx, &ai.ChatRequest{Messages: followUp})
	if err != nil {
		return "", &appErr.ModelProviderError{Stage: "second_call", Err: err}
	}
	if strings.TrimSpace(final.Content) == "" {
		return "", &appErr.ModelProviderError{Stage: "second_call", Err: fmt.Errorf("empty reply")}
	}
	return final.Content, nil
}

// chatFor picks the agent's model when one is set, falling back to the
// default chain.
func (s *ConversationService) chatFor(ctx context.Context, agent *model.Agent) ai.IChatter {
	if s.deps.ChatModels == nil || strings.TrimSpace(agent.Model) == "" {
		return s.deps.Chat
	}
	chat, ok := s.deps.ChatModels.ChatModelFor(agent.Model)
	if !ok {
		logutil.GetLogger(ctx).Warn("agent model not configured, using default chain",
			zap.String("agent_id", agent.ID), zap.String("model", agent.Model))
	}
	return chat
}

func (s *ConversationService) systemPrompt(t *turn) string {
	var sb strings.Builder
	instructions := strings.TrimSpace(t.agent.Instructions)
	if instructions == "" {
		instructions = defaultInstruction
	}
	sb.WriteString(instructions)
	fmt.Fprintf(&sb, "\n\nCurrent date: %s", s.now().Format("2006-01-02 (Monday)"))
	if hint := toolHint(t); hint != "" {
		sb.WriteString("\n\n")
		sb.WriteString(hint)
	}
	if block := retrieval.FormatContext(t.sources); block != "" {
		sb.WriteString("\n\n")
		sb.WriteString(block)
	}
	if t.documents != "" {
		sb.WriteString("\n\nThe user attached the following documents. Base your answer on them.\n\n")
		sb.WriteString(t.documents)
	}
	return sb.String()
}

func toolHint(t *turn) string {
	if !t.plan.ActionType.IncludesTool() || len(t.plan.ToolRequired) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Suggested tool calls for this request:")
	for _, inv := range t.plan.ToolRequired {
		name := t.table.FunctionName(inv.ToolID)
		if name == "" {
			continue
		}
		params, _ := json.Marshal(inv.Parameters)
		fmt.Fprintf(&sb, "\n- %s %s", name, params)
	}
	return sb.String()
}

func buildContextMetadata(sources []model.ContextSource) ContextMetadata {
	citations := make([]Citation, 0, len(sources))
	for _, src := range sources {
		source := src.Title
		if source == "" {
			source = string(src.Tier)
		}
		citations = append(citations, Citation{
			Tier:           src.Tier,
			Content:        src.Content,
			RelevanceScore: src.Score,
			Source:         source,
		})
	}
	return ContextMetadata{UsedContext: len(citations) > 0, Citations: citations}
}
