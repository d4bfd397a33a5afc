package retrieval

import (
	"fmt"
	"strings"

	"github.com/xxxsen/magent/internal/model"
)

var tierLabels = map[model.TierName]string{
	model.TierCompanyProfile: "Company profile",
	model.TierAgentDocuments: "Agent documents",
	model.TierSharedDocs:     "Shared documents",
	model.TierPlaybooks:      "Playbooks",
}

// FormatContext renders sources as a labeled block for the system prompt.
// Sources keep their order; a heading is emitted whenever the tier changes.
func FormatContext(sources []model.ContextSource) string {
	if len(sources) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Use the following context when it is relevant. Cite the source title when you rely on it.\n")
	var current model.TierName
	for i, s := range sources {
		if s.Tier != current {
			current = s.Tier
			label := tierLabels[s.Tier]
			if label == "" {
				label = string(s.Tier)
			}
			fmt.Fprintf(&sb, "\n## %s\n", label)
		}
		fmt.Fprintf(&sb, "[%d]", i+1)
		if s.Title != "" {
			fmt.Fprintf(&sb, " %s", s.Title)
		}
		if s.Score != nil {
			fmt.Fprintf(&sb, " (relevance %.2f)", *s.Score)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(s.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}
