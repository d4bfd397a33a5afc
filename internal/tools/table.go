package tools

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xxxsen/magent/internal/ai"
	"github.com/xxxsen/magent/internal/model"
)

const maxFunctionNameLen = 64

var invalidFunctionChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Table maps the function names exposed to the model for one turn back to
// stable tool identifiers. It is built per call and never shared.
type Table struct {
	tools  []model.ToolDescriptor
	byFunc map[string]model.ToolDescriptor
	byID   map[string]model.ToolDescriptor
	byName map[string]model.ToolDescriptor
	funcOf map[string]string
}

func NewTable(tools []model.ToolDescriptor) *Table {
	t := &Table{
		tools:  tools,
		byFunc: make(map[string]model.ToolDescriptor, len(tools)),
		byID:   make(map[string]model.ToolDescriptor, len(tools)),
		byName: make(map[string]model.ToolDescriptor, len(tools)),
		funcOf: make(map[string]string, len(tools)),
	}
	for _, tool := range tools {
		fn := uniqueName(SanitizeName(tool.Name), t.byFunc)
		t.byFunc[fn] = tool
		t.byID[tool.ID] = tool
		t.funcOf[tool.ID] = fn
		if key := strings.ToLower(strings.TrimSpace(tool.Name)); key != "" {
			if _, ok := t.byName[key]; !ok {
				t.byName[key] = tool
			}
		}
	}
	return t
}

// SanitizeName turns a display name into a provider safe function name.
func SanitizeName(name string) string {
	s := invalidFunctionChars.ReplaceAllString(strings.TrimSpace(name), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "tool"
	}
	if len(s) > maxFunctionNameLen {
		s = s[:maxFunctionNameLen]
	}
	return strings.ToLower(s)
}

func uniqueName(base string, used map[string]model.ToolDescriptor) string {
	if _, ok := used[base]; !ok {
		return base
	}
	for i := 2; ; i++ {
		suffix := fmt.Sprintf("_%d", i)
		candidate := base
		if len(candidate)+len(suffix) > maxFunctionNameLen {
			candidate = candidate[:maxFunctionNameLen-len(suffix)]
		}
		candidate += suffix
		if _, ok := used[candidate]; !ok {
			return candidate
		}
	}
}

// Resolve accepts a function name, a stable identifier or a display name.
func (t *Table) Resolve(ref string) (model.ToolDescriptor, bool) {
	ref = strings.TrimSpace(ref)
	if tool, ok := t.byFunc[ref]; ok {
		return tool, true
	}
	if tool, ok := t.byID[ref]; ok {
		return tool, true
	}
	tool, ok := t.byName[strings.ToLower(ref)]
	return tool, ok
}

func (t *Table) FunctionName(toolID string) string {
	return t.funcOf[toolID]
}

func (t *Table) Len() int {
	return len(t.tools)
}

// Specs returns the function schema attached to a model call.
func (t *Table) Specs() []ai.ToolSpec {
	specs := make([]ai.ToolSpec, 0, len(t.tools))
	for _, tool := range t.tools {
		params := tool.ParameterSchema
		if len(params) == 0 {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		specs = append(specs, ai.ToolSpec{
			Name:        t.funcOf[tool.ID],
			Description: tool.Description,
			Parameters:  params,
		})
	}
	return specs
}
