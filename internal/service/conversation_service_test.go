package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/magent/internal/ai"
	"github.com/xxxsen/magent/internal/intent"
	"github.com/xxxsen/magent/internal/model"
	appErr "github.com/xxxsen/magent/internal/pkg/errors"
	"github.com/xxxsen/magent/internal/tools"
)

type fakeAgents struct {
	agent *model.Agent
}

func (f *fakeAgents) GetByID(ctx context.Context, companyID, id string) (*model.Agent, error) {
	if f.agent == nil || f.agent.ID != id || f.agent.CompanyID != companyID {
		return nil, appErr.ErrNotFound
	}
	a := *f.agent
	return &a, nil
}

type fakeToolLister struct {
	tools []model.ToolDescriptor
}

func (f *fakeToolLister) ListEnabledForAgent(ctx context.Context, agentID string) ([]model.ToolDescriptor, error) {
	return f.tools, nil
}

type fakeMessages struct {
	saved   [][2]*model.Message
	history []model.Message
	saveErr error
}

func (f *fakeMessages) SaveExchange(ctx context.Context, user *model.Message, assistant *model.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, [2]*model.Message{user, assistant})
	return nil
}

func (f *fakeMessages) ListRecent(ctx context.Context, companyID, conversationID string, limit int) ([]model.Message, error) {
	return f.history, nil
}

func (f *fakeMessages) ListByConversation(ctx context.Context, companyID, conversationID string, limit, offset int) ([]model.Message, error) {
	return f.history, nil
}

type fakeClassifier struct {
	plan  model.IntentPlan
	input intent.Input
}

func (f *fakeClassifier) Classify(ctx context.Context, in intent.Input) model.IntentPlan {
	f.input = in
	return f.plan
}

type fakeRetriever struct {
	sources   []model.ContextSource
	embedding []float32
	called    bool
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, embedding []float32, cfg model.RetrievalConfig, companyID, agentID string) []model.ContextSource {
	f.called = true
	f.embedding = embedding
	return f.sources
}

type scriptedChatter struct {
	responses []*ai.ChatResponse
	errs      []error
	requests  []*ai.ChatRequest
}

func (s *scriptedChatter) Chat(ctx context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error) {
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.responses[i], nil
}

func (s *scriptedChatter) ModelName() string { return "scripted" }

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

type failingInvoker struct {
	failID string
}

func (f *failingInvoker) Invoke(ctx context.Context, tool model.ToolDescriptor, args map[string]interface{}) (string, error) {
	if tool.ID == f.failID {
		return "", &appErr.ToolInvocationError{ToolID: tool.ID, Err: errors.New("calendar api timeout")}
	}
	return "3 open deals", nil
}

var (
	crmTool      = model.ToolDescriptor{ID: "tool-crm", Name: "CRM Lookup"}
	calendarTool = model.ToolDescriptor{ID: "tool-cal", Name: "Calendar"}
)

type convFixture struct {
	svc        *ConversationService
	messages   *fakeMessages
	classifier *fakeClassifier
	retriever  *fakeRetriever
	chat       *scriptedChatter
	embedder   *fakeEmbedder
}

func newConvFixture(plan model.IntentPlan, chat *scriptedChatter) *convFixture {
	f := &convFixture{
		messages:   &fakeMessages{},
		classifier: &fakeClassifier{plan: plan},
		retriever:  &fakeRetriever{},
		chat:       chat,
		embedder:   &fakeEmbedder{},
	}
	f.svc = NewConversationService(ConversationDeps{
		Agents:     &fakeAgents{agent: &model.Agent{ID: "agent-1", CompanyID: "co-1", Instructions: "You sell widgets."}},
		Tools:      &fakeToolLister{tools: []model.ToolDescriptor{crmTool, calendarTool}},
		Messages:   f.messages,
		Classifier: f.classifier,
		Retriever:  f.retriever,
		Runner:     tools.NewExecutor(&failingInvoker{failID: "tool-cal"}),
		Chat:       chat,
		Embedder:   f.embedder,
	}, WithNow(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }))
	return f
}

func baseRequest() ConverseRequest {
	return ConverseRequest{Message: "How is the Acme deal going?", AgentID: "agent-1", UserID: "u-1", CompanyID: "co-1"}
}

func TestConverseToolFailureIsolation(t *testing.T) {
	chat := &scriptedChatter{responses: []*ai.ChatResponse{
		{ToolCalls: []ai.ToolCall{
			{ID: "call-1", Name: "crm_lookup", Arguments: `{"account":"Acme"}`},
			{ID: "call-2", Name: "calendar", Arguments: `{}`},
		}},
		{Content: "Acme has 3 open deals; I could not reach the calendar."},
	}}
	f := newConvFixture(model.IntentPlan{ActionType: model.ActionTool}, chat)

	reply, err := f.svc.Converse(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Contains(t, reply.Reply, "3 open deals")
	require.NotEmpty(t, reply.ConversationID)

	require.Len(t, f.messages.saved, 1)
	user, assistant := f.messages.saved[0][0], f.messages.saved[0][1]
	require.Equal(t, model.RoleUser, user.Role)
	require.Equal(t, model.RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolResults, 2)
	require.False(t, assistant.ToolResults[0].Failed())
	require.True(t, assistant.ToolResults[1].Failed())

	require.Len(t, chat.requests, 2)
	require.NotEmpty(t, chat.requests[0].Tools)
	second := chat.requests[1]
	require.Empty(t, second.Tools)
	roles := make([]string, 0, len(second.Messages))
	for _, m := range second.Messages {
		roles = append(roles, m.Role)
	}
	require.Equal(t, []string{ai.RoleSystem, ai.RoleUser, ai.RoleAssistant, ai.RoleTool, ai.RoleTool}, roles)
	require.Len(t, second.Messages[2].ToolCalls, 2)
	require.Equal(t, "call-1", second.Messages[3].ToolCallID)
	require.Equal(t, "call-2", second.Messages[4].ToolCallID)
}

func TestConverseModelFailureNothingPersisted(t *testing.T) {
	chat := &scriptedChatter{errs: []error{errors.New("503 from provider")}, responses: []*ai.ChatResponse{nil}}
	f := newConvFixture(model.IntentPlan{ActionType: model.ActionAssistantOnly}, chat)
	_, err := f.svc.Converse(context.Background(), baseRequest())
	require.Error(t, err)
	require.True(t, appErr.IsModelProvider(err))
	require.Empty(t, f.messages.saved)
}

func TestConverseSecondCallFailure(t *testing.T) {
	chat := &scriptedChatter{
		responses: []*ai.ChatResponse{{ToolCalls: []ai.ToolCall{{ID: "c", Name: "crm_lookup"}}}, nil},
		errs:      []error{nil, errors.New("timeout")},
	}
	f := newConvFixture(model.IntentPlan{ActionType: model.ActionTool}, chat)
	_, err := f.svc.Converse(context.Background(), baseRequest())
	var mpe *appErr.ModelProviderError
	require.ErrorAs(t, err, &mpe)
	require.Equal(t, "second_call", mpe.Stage)
	require.Empty(t, f.messages.saved)
}

func TestConverseRetrievalFoldsContext(t *testing.T) {
	score := 0.91
	chat := &scriptedChatter{responses: []*ai.ChatResponse{{Content: "Refunds take 5 days."}}}
	f := newConvFixture(model.IntentPlan{ActionType: model.ActionDocumentSearch, DocumentQuery: "refund policy"}, chat)
	f.retriever.sources = []model.ContextSource{{Tier: model.TierAgentDocuments, Content: "Refunds are processed in 5 days.", Title: "policy.pdf", Score: &score}}

	reply, err := f.svc.Converse(context.Background(), baseRequest())
	require.NoError(t, err)
	require.True(t, reply.ContextMetadata.UsedContext)
	require.Equal(t, "policy.pdf", reply.ContextMetadata.Citations[0].Source)
	require.Equal(t, &score, reply.ContextMetadata.Citations[0].RelevanceScore)
	require.Equal(t, []float32{0.1, 0.2}, f.retriever.embedding)
	require.Empty(t, chat.requests[0].Tools)
	system := chat.requests[0].Messages[0].Content
	require.Contains(t, system, "You sell widgets.")
	require.Contains(t, system, "Refunds are processed in 5 days.")
	require.Contains(t, system, "2026-01-02")
	require.Len(t, f.messages.saved[0][1].Citations, 1)
}

func TestConverseEmbeddingFailureDegrades(t *testing.T) {
	chat := &scriptedChatter{responses: []*ai.ChatResponse{{Content: "ok"}}}
	f := newConvFixture(model.IntentPlan{ActionType: model.ActionBoth}, chat)
	f.embedder.err = errors.New("embedding quota")
	reply, err := f.svc.Converse(context.Background(), baseRequest())
	require.NoError(t, err)
	require.True(t, f.retriever.called)
	require.Nil(t, f.retriever.embedding)
	require.False(t, reply.ContextMetadata.UsedContext)
	require.NotNil(t, reply.ContextMetadata.Citations)
}

func TestConverseLongFormUsesAttachmentText(t *testing.T) {
	chat := &scriptedChatter{responses: []*ai.ChatResponse{{Content: "The report shows growth."}}}
	f := newConvFixture(model.IntentPlan{ActionType: model.ActionLongForm}, chat)
	req := baseRequest()
	req.Message = "summarize this attached report"
	req.Attachments = []model.Attachment{{Name: "q3.txt", MimeType: "text/plain", Data: []byte("Quarterly revenue grew by twelve percent across every region this year.")}}
	_, err := f.svc.Converse(context.Background(), req)
	require.NoError(t, err)
	require.False(t, f.retriever.called)
	require.Contains(t, chat.requests[0].Messages[0].Content, "Quarterly revenue grew")
	require.Len(t, f.classifier.input.Attachments, 1)
}

func TestConverseHistoryPrecedesUserMessage(t *testing.T) {
	chat := &scriptedChatter{responses: []*ai.ChatResponse{{Content: "Sure."}}}
	f := newConvFixture(model.IntentPlan{ActionType: model.ActionAssistantOnly}, chat)
	f.messages.history = []model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	}
	req := baseRequest()
	req.ConversationID = "conv-1"
	reply, err := f.svc.Converse(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "conv-1", reply.ConversationID)
	msgs := chat.requests[0].Messages
	require.Len(t, msgs, 4)
	require.Equal(t, "hi", msgs[1].Content)
	require.Equal(t, "hello", msgs[2].Content)
	require.Equal(t, req.Message, msgs[3].Content)
}

func TestConverseValidation(t *testing.T) {
	f := newConvFixture(model.IntentPlan{}, &scriptedChatter{})
	cases := []ConverseRequest{
		{AgentID: "agent-1", UserID: "u", CompanyID: "co-1"},
		{Message: "hi", UserID: "u", CompanyID: "co-1"},
		{Message: "hi", AgentID: "agent-1"},
		{Message: "hi", AgentID: "agent-1", UserID: "u", CompanyID: "co-1", Attachments: []model.Attachment{{Name: "empty"}}},
	}
	for _, c := range cases {
		_, err := f.svc.Converse(context.Background(), c)
		require.ErrorIs(t, err, appErr.ErrInvalid)
	}
	req := baseRequest()
	req.AgentID = "missing"
	_, err := f.svc.Converse(context.Background(), req)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestJoinChunksRemovesOverlap(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := []model.DocumentChunk{
		{Start: 0, End: 10, Content: text[0:10]},
		{Start: 8, End: 20, Content: text[8:20]},
		{Start: 18, End: 26, Content: text[18:26]},
	}
	require.Equal(t, text, joinChunks(chunks))
}

type fakeChatSelector struct {
	chats     map[string]ai.IChatter
	fallback  ai.IChatter
	requested []string
}

func (f *fakeChatSelector) ChatModelFor(name string) (ai.IChatter, bool) {
	f.requested = append(f.requested, name)
	if c, ok := f.chats[name]; ok {
		return c, true
	}
	return f.fallback, false
}

func newSelectorService(agentModel string, defaultChat ai.IChatter, selector ChatSelector) *ConversationService {
	return NewConversationService(ConversationDeps{
		Agents:     &fakeAgents{agent: &model.Agent{ID: "agent-1", CompanyID: "co-1", Model: agentModel}},
		Tools:      &fakeToolLister{},
		Messages:   &fakeMessages{},
		Classifier: &fakeClassifier{plan: model.IntentPlan{ActionType: model.ActionAssistantOnly}},
		Retriever:  &fakeRetriever{},
		Runner:     tools.NewExecutor(&failingInvoker{}),
		Chat:       defaultChat,
		ChatModels: selector,
		Embedder:   &fakeEmbedder{},
	})
}

func TestConverseUsesAgentModel(t *testing.T) {
	defaultChat := &scriptedChatter{responses: []*ai.ChatResponse{{Content: "from default"}}}
	agentChat := &scriptedChatter{responses: []*ai.ChatResponse{{Content: "from agent model"}}}
	selector := &fakeChatSelector{chats: map[string]ai.IChatter{"gpt-4o": agentChat}, fallback: defaultChat}
	svc := newSelectorService("gpt-4o", defaultChat, selector)

	reply, err := svc.Converse(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, "from agent model", reply.Reply)
	require.Equal(t, []string{"gpt-4o"}, selector.requested)
	require.Len(t, agentChat.requests, 1)
	require.Empty(t, defaultChat.requests)
}

func TestConverseUnknownAgentModelFallsBack(t *testing.T) {
	defaultChat := &scriptedChatter{responses: []*ai.ChatResponse{{Content: "from default"}}}
	selector := &fakeChatSelector{fallback: defaultChat}
	svc := newSelectorService("no-such-model", defaultChat, selector)

	reply, err := svc.Converse(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, "from default", reply.Reply)
	require.Len(t, defaultChat.requests, 1)
}

func TestConverseWithoutAgentModelSkipsSelector(t *testing.T) {
	defaultChat := &scriptedChatter{responses: []*ai.ChatResponse{{Content: "from default"}}}
	selector := &fakeChatSelector{fallback: defaultChat}
	svc := newSelectorService("", defaultChat, selector)

	_, err := svc.Converse(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Empty(t, selector.requested)
}
