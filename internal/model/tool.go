package model

const ToolKindWebResearch = "web_research"

// ToolDescriptor describes a tool enabled for an agent. ID is the stable
// identifier, Name is the display name.
type ToolDescriptor struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Kind            string                 `json:"kind"`
	Description     string                 `json:"description"`
	ParameterSchema map[string]interface{} `json:"parameter_schema"`
	Provider        string                 `json:"provider"`
	RemoteName      string                 `json:"remote_name"`
}

// ToolInvocationResult is produced for every requested tool call; exactly one
// of Content and Error is set.
type ToolInvocationResult struct {
	CallID     string `json:"call_id"`
	ToolID     string `json:"tool_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (r ToolInvocationResult) Failed() bool {
	return r.Error != ""
}
