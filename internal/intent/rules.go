package intent

import (
	"fmt"
	"math"
	"regexp"

	"github.com/xxxsen/magent/internal/model"
)

const confidenceGate = 0.7

// Rule inspects the input and the current plan and either returns a
// replacement plan or reports no override. Rules must not have side effects.
type Rule struct {
	Name  string
	Apply func(in *Input, plan model.IntentPlan) (model.IntentPlan, bool)
}

// DefaultRules returns the overrides in precedence order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "document_analysis", Apply: documentAnalysisRule},
		{Name: "research", Apply: researchRule},
		{Name: "confidence_gate", Apply: confidenceGateRule},
	}
}

var (
	analysisVerbPattern = regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|summari[sz]e|summary|review|read|extract|explain|compare|go through|check)\b`)
	documentNounPattern = regexp.MustCompile(`(?i)\b(documents?|files?|attachments?|attached|reports?|pdfs?|spreadsheets?|contracts?|slides?|deck)\b`)

	researchPattern = regexp.MustCompile(`(?i)\b(research|latest news|news|headlines|market (analysis|research|trends?|size|outlook)|industry (analysis|trends?|outlook)|competitors?|competitive landscape|what'?s happening)\b`)
	shallowPattern  = regexp.MustCompile(`(?i)\b(quick|quickly|brief|briefly|short|overview|glance)\b`)
	deepPattern     = regexp.MustCompile(`(?i)\b(comprehensive|in-depth|in depth|deep|thorough|detailed|exhaustive)\b`)

	generalKnowledgePattern  = regexp.MustCompile(`(?i)^\s*(what|who|why|how)\s+(is|are|was|were|does|do|did)\b|\b(define|definition of|meaning of|explain)\b`)
	contentGenerationPattern = regexp.MustCompile(`(?i)\b(write|draft|compose|rewrite|generate|create)\b.*\b(email|letter|post|essay|story|poem|message|blog|caption|tagline|bio)\b`)
)

func documentAnalysisRule(in *Input, _ model.IntentPlan) (model.IntentPlan, bool) {
	if len(in.Attachments) == 0 {
		return model.IntentPlan{}, false
	}
	if !analysisVerbPattern.MatchString(in.Message) || !documentNounPattern.MatchString(in.Message) {
		return model.IntentPlan{}, false
	}
	return model.IntentPlan{
		ActionType: model.ActionLongForm,
		Confidence: 1,
		Reasoning:  "analysis of the attached files takes precedence over web research",
	}, true
}

func researchRule(in *Input, plan model.IntentPlan) (model.IntentPlan, bool) {
	if !researchPattern.MatchString(in.Message) {
		return model.IntentPlan{}, false
	}
	tool, ok := researchTool(in)
	if !ok {
		return model.IntentPlan{
			ActionType: model.ActionAssistantOnly,
			Confidence: plan.Confidence,
			Reasoning:  "web research is not enabled for this agent, answering from model knowledge",
		}, true
	}
	return model.IntentPlan{
		ActionType: model.ActionTool,
		ToolRequired: []model.ToolInvocation{{
			ToolID: tool.ID,
			Action: "research",
			Parameters: map[string]interface{}{
				"query": in.Message,
				"depth": researchDepth(in.Message),
			},
			Priority: 1,
		}},
		Confidence: math.Max(plan.Confidence, 0.8),
		Reasoning:  fmt.Sprintf("research request routed to %s", tool.Name),
	}, true
}

func confidenceGateRule(in *Input, plan model.IntentPlan) (model.IntentPlan, bool) {
	if plan.Confidence >= confidenceGate || !proposesResearch(in, plan) {
		return model.IntentPlan{}, false
	}
	if !generalKnowledgePattern.MatchString(in.Message) && !contentGenerationPattern.MatchString(in.Message) {
		return model.IntentPlan{}, false
	}
	return model.IntentPlan{
		ActionType: model.ActionAssistantOnly,
		Confidence: plan.Confidence,
		Reasoning:  "low confidence research for a general question, answering directly",
	}, true
}

func researchDepth(message string) string {
	switch {
	case deepPattern.MatchString(message):
		return "deep"
	case shallowPattern.MatchString(message):
		return "shallow"
	default:
		return "medium"
	}
}

func researchTool(in *Input) (model.ToolDescriptor, bool) {
	for _, t := range in.EnabledTools {
		if t.Kind == model.ToolKindWebResearch {
			return t, true
		}
	}
	return model.ToolDescriptor{}, false
}

func proposesResearch(in *Input, plan model.IntentPlan) bool {
	if !plan.ActionType.IncludesTool() {
		return false
	}
	for _, inv := range plan.ToolRequired {
		if t, ok := in.Lookup.Resolve(inv.ToolID); ok && t.Kind == model.ToolKindWebResearch {
			return true
		}
	}
	return false
}
