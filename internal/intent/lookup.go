package intent

import (
	"strings"

	"github.com/xxxsen/magent/internal/model"
)

// ToolLookup resolves whatever the model emitted (identifier, display name or
// function name) to an enabled tool. It is supplied per call by the caller.
type ToolLookup interface {
	Resolve(ref string) (model.ToolDescriptor, bool)
}

type MapLookup map[string]model.ToolDescriptor

// NewMapLookup indexes tools by identifier and by lower-cased display name.
// Identifiers win on collision.
func NewMapLookup(tools []model.ToolDescriptor) MapLookup {
	m := make(MapLookup, len(tools)*2)
	for _, t := range tools {
		if key := strings.ToLower(strings.TrimSpace(t.Name)); key != "" {
			if _, ok := m[key]; !ok {
				m[key] = t
			}
		}
	}
	for _, t := range tools {
		m[t.ID] = t
	}
	return m
}

func (m MapLookup) Resolve(ref string) (model.ToolDescriptor, bool) {
	ref = strings.TrimSpace(ref)
	if t, ok := m[ref]; ok {
		return t, true
	}
	t, ok := m[strings.ToLower(ref)]
	return t, ok
}
