package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider("nope", "x", map[string]interface{}{})
	require.Error(t, err)
}

func TestNewProviderNamesInstance(t *testing.T) {
	p, err := NewProvider("OpenAI", "primary", map[string]interface{}{"api_key": "k"})
	require.NoError(t, err)
	require.Equal(t, "primary", p.Name())

	p, err = NewProvider("gemini", "", map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, "gemini", p.Name())
}

func TestBuildOpenAIRequestMapsToolsAndCalls(t *testing.T) {
	temp := float32(0.2)
	req := buildOpenAIRequest("gpt-4o-mini", &ChatRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "web_research", Arguments: `{"query":"x"}`}}},
			{Role: RoleTool, ToolCallID: "c1", Name: "web_research", Content: "result"},
		},
		Tools:       []ToolSpec{{Name: "web_research", Description: "search"}},
		Temperature: &temp,
		JSONMode:    true,
	})
	require.Len(t, req.Messages, 3)
	require.Equal(t, "c1", req.Messages[1].ToolCalls[0].ID)
	require.Equal(t, "c1", req.Messages[2].ToolCallID)
	require.Len(t, req.Tools, 1)
	require.Equal(t, "web_research", req.Tools[0].Function.Name)
	require.NotNil(t, req.ResponseFormat)
	require.Equal(t, temp, req.Temperature)
}

func TestBuildOpenAIRequestKeepsZeroTemperature(t *testing.T) {
	zero := float32(0)
	req := buildOpenAIRequest("gpt-4o-mini", &ChatRequest{
		Messages:    []ChatMessage{{Role: RoleUser, Content: "classify"}},
		Temperature: &zero,
	})
	body, err := json.Marshal(req)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Contains(t, decoded, "temperature")
	require.InDelta(t, 0, decoded["temperature"], 1e-6)

	req = buildOpenAIRequest("gpt-4o-mini", &ChatRequest{Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}}})
	body, err = json.Marshal(req)
	require.NoError(t, err)
	require.NotContains(t, string(body), "temperature")
}

func TestBuildGeminiContentsSplitsSystem(t *testing.T) {
	contents, system := buildGeminiContents([]ChatMessage{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "lookup", Arguments: `{"q":1}`}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "lookup", Content: "done"},
	})
	require.NotNil(t, system)
	require.Len(t, contents, 3)
	require.Equal(t, "model", contents[1].Role)
	require.Equal(t, "lookup", contents[1].Parts[0].FunctionCall.Name)
	require.Equal(t, "done", contents[2].Parts[0].FunctionResponse.Response["result"])
}

func TestToGeminiSchemaUppercasesTypes(t *testing.T) {
	s := toGeminiSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"query"},
	})
	require.Equal(t, "OBJECT", string(s.Type))
	require.Equal(t, "STRING", string(s.Properties["query"].Type))
	require.Equal(t, []string{"query"}, s.Required)
}
