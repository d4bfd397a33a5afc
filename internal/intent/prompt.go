package intent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/magent/internal/model"
)

const systemPromptTemplate = `You are the routing component of a business assistant.
Decide how the latest user message should be handled and answer with a single JSON object:
{
  "action_type": "tool" | "document_search" | "both" | "assistant_only" | "long_form",
  "tool_required": [{"tool_id": "<id>", "action": "<short verb>", "parameters": {}, "priority": 1}],
  "document_query": "<search query for the knowledge base>",
  "confidence": 0.0-1.0,
  "reasoning": "<one sentence>"
}
Rules:
- "tool" when an enabled tool must be called, "document_search" when company documents are needed, "both" when both are needed.
- "long_form" when the user asks for an analysis of attached files, "assistant_only" otherwise.
- tool_id MUST be copied verbatim from the id column below. Never use the display name.
- Resolve relative dates ("yesterday", "next Monday") into absolute ISO 8601 timestamps using the current date.
- Output JSON only. No markdown.

Current date: %s

Enabled tools:
%s`

func buildSystemPrompt(tools []model.ToolDescriptor, now time.Time) string {
	return fmt.Sprintf(systemPromptTemplate, now.Format("2006-01-02 (Monday) 15:04 MST"), describeTools(tools))
}

func describeTools(tools []model.ToolDescriptor) string {
	if len(tools) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&sb, "- id: %s | name: %s", t.ID, t.Name)
		if t.Kind != "" {
			fmt.Fprintf(&sb, " | kind: %s", t.Kind)
		}
		if t.Description != "" {
			fmt.Fprintf(&sb, " | %s", t.Description)
		}
		if len(t.ParameterSchema) > 0 {
			if data, err := json.Marshal(t.ParameterSchema); err == nil {
				fmt.Fprintf(&sb, " | parameters: %s", data)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
