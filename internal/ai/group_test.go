package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubChatter struct {
	name  string
	calls int
	errs  []error
	resp  *ChatResponse
}

func (s *stubChatter) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.resp, nil
}

func (s *stubChatter) ModelName() string { return s.name }

type stubEmbedder struct {
	err error
	vec []float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEmbedder) ModelName() string { return "stub" }

func TestGroupChatterFallsBackToNextEntry(t *testing.T) {
	first := &stubChatter{name: "a", errs: []error{errors.New("boom")}}
	second := &stubChatter{name: "b", resp: &ChatResponse{Content: "hi"}}
	group := NewGroupChatter([]ChatterEntry{{Name: "a", Chatter: first}, {Name: "b", Chatter: second}}, GroupOptions{})

	resp, err := group.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Content)
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, second.calls)
	require.Equal(t, "a|b", group.ModelName())
}

func TestGroupChatterRetriesBeforeFallback(t *testing.T) {
	first := &stubChatter{name: "a", errs: []error{errors.New("transient")}, resp: &ChatResponse{Content: "ok"}}
	group := NewGroupChatter([]ChatterEntry{{Name: "a", Chatter: first}}, GroupOptions{MaxRetries: 2, RetryDelay: time.Millisecond})

	resp, err := group.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
	require.Equal(t, 2, first.calls)
}

func TestGroupChatterSkipsRetryWhenUnavailable(t *testing.T) {
	first := &stubChatter{name: "a", errs: []error{ErrUnavailable, ErrUnavailable, ErrUnavailable}}
	group := NewGroupChatter([]ChatterEntry{{Name: "a", Chatter: first}}, GroupOptions{MaxRetries: 2, RetryDelay: time.Millisecond})

	_, err := group.Chat(context.Background(), &ChatRequest{})
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, 1, first.calls)
}

func TestGroupChatterBreakerOpensAfterFailures(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = errors.New("down")
	}
	first := &stubChatter{name: "a", errs: errs}
	group := NewGroupChatter([]ChatterEntry{{Name: "a", Chatter: first}}, GroupOptions{MaxFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := group.Chat(context.Background(), &ChatRequest{})
		require.Error(t, err)
	}
	_, err := group.Chat(context.Background(), &ChatRequest{})
	require.True(t, isBreakerRejection(err))
	require.Equal(t, 2, first.calls)
}

func TestGroupEmbedderReturnsLastError(t *testing.T) {
	group := NewGroupEmbedder([]EmbedderEntry{
		{Name: "a", Embedder: &stubEmbedder{err: errors.New("first")}},
		{Name: "b", Embedder: &stubEmbedder{err: errors.New("second")}},
	}, GroupOptions{})
	_, err := group.Embed(context.Background(), "text", TaskRetrievalQuery)
	require.EqualError(t, err, "second")
}

func TestManagerRejectsEmptyResponse(t *testing.T) {
	m := NewManager(&stubChatter{name: "a", resp: &ChatResponse{}}, nil, &stubEmbedder{vec: []float32{1}}, ManagerConfig{Timeout: 1})
	_, err := m.ChatModel().Chat(context.Background(), &ChatRequest{})
	require.Error(t, err)

	vec, err := m.Embedder().Embed(context.Background(), "x", "")
	require.NoError(t, err)
	require.Equal(t, []float32{1}, vec)
}

func TestCalculateBackoffBounds(t *testing.T) {
	require.Zero(t, calculateBackoff(time.Second, 0))
	for attempt := 1; attempt < 40; attempt++ {
		d := calculateBackoff(100*time.Millisecond, attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, maxBackoff+maxBackoff/4)
	}
}

func TestGroupChatterFallsBackOnEmptyResponse(t *testing.T) {
	first := &stubChatter{name: "a", resp: &ChatResponse{}}
	second := &stubChatter{name: "b", resp: &ChatResponse{Content: "answer"}}
	group := NewGroupChatter([]ChatterEntry{{Name: "a", Chatter: first}, {Name: "b", Chatter: second}}, GroupOptions{})

	resp, err := group.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "answer", resp.Content)
	require.Equal(t, 1, second.calls)
}

type stubProvider struct {
	models []string
}

func (p *stubProvider) Name() string { return "local" }

func (p *stubProvider) Chat(ctx context.Context, model string, req *ChatRequest) (*ChatResponse, error) {
	p.models = append(p.models, model)
	return &ChatResponse{Content: "from " + model}, nil
}

func (p *stubProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	return []float32{1}, nil
}

func TestManagerChatModelForPrefersAgentModel(t *testing.T) {
	a := &stubChatter{name: "oa:gpt-a", resp: &ChatResponse{Content: "a"}}
	b := &stubChatter{name: "oa:gpt-b", resp: &ChatResponse{Content: "b"}}
	chain := NewGroupChatter([]ChatterEntry{{Name: "oa:gpt-a", Chatter: a}, {Name: "oa:gpt-b", Chatter: b}}, GroupOptions{})
	m := NewManager(chain, nil, nil, ManagerConfig{Timeout: 1})
	local := &stubProvider{}
	m.providers = map[string]IProvider{"local": local}

	chatter, ok := m.ChatModelFor("gpt-b")
	require.True(t, ok)
	resp, err := chatter.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "b", resp.Content)
	require.Zero(t, a.calls)
	require.Equal(t, "oa:gpt-b|oa:gpt-a", chatter.ModelName())

	chatter, ok = m.ChatModelFor("local:mini")
	require.True(t, ok)
	resp, err = chatter.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "from mini", resp.Content)
	require.Equal(t, []string{"mini"}, local.models)

	chatter, ok = m.ChatModelFor("missing:model")
	require.False(t, ok)
	resp, err = chatter.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	require.Equal(t, "a", resp.Content)

	chatter, ok = m.ChatModelFor("")
	require.True(t, ok)
	require.Equal(t, "oa:gpt-a|oa:gpt-b", chatter.ModelName())
}
