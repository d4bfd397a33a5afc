package model

type ActionType string

const (
	ActionTool           ActionType = "tool"
	ActionDocumentSearch ActionType = "document_search"
	ActionBoth           ActionType = "both"
	ActionAssistantOnly  ActionType = "assistant_only"
	ActionLongForm       ActionType = "long_form"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionTool, ActionDocumentSearch, ActionBoth, ActionAssistantOnly, ActionLongForm:
		return true
	}
	return false
}

func (a ActionType) IncludesTool() bool {
	return a == ActionTool || a == ActionBoth
}

func (a ActionType) IncludesRetrieval() bool {
	return a == ActionDocumentSearch || a == ActionBoth
}

type ToolInvocation struct {
	ToolID     string                 `json:"tool_id"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
	Priority   int                    `json:"priority"`
}

// IntentPlan is the routing decision for one message. ToolRequired only
// references tools enabled for the agent.
type IntentPlan struct {
	ActionType    ActionType       `json:"action_type"`
	ToolRequired  []ToolInvocation `json:"tool_required"`
	DocumentQuery string           `json:"document_query,omitempty"`
	Confidence    float64          `json:"confidence"`
	Reasoning     string           `json:"reasoning"`
}
