package toolfmt

import (
	"encoding/json"
	"slices"
	"sort"
)

// objectSchema is the subset of a JSON schema describing tool arguments that is used for
// presentation and argument conversion.
type objectSchema struct {
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

type propertySchema struct {
	Type        json.RawMessage `json:"type"`
	Description string          `json:"description"`
	Enum        []any           `json:"enum"`
	Default     json.RawMessage `json:"default"`
	Minimum     *json.Number    `json:"minimum"`
	Maximum     *json.Number    `json:"maximum"`
}

// param is a property together with its position in the argument order.
type param struct {
	name     string
	prop     propertySchema
	required bool
}

func parseSchema(raw json.RawMessage) (objectSchema, bool) {
	var s objectSchema
	if len(raw) == 0 {
		return s, false
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, false
	}
	return s, s.Properties != nil
}

// params returns the properties in argument order: required ones in the order the schema lists
// them, then the optional ones sorted by name.
func (s objectSchema) params() []param {
	params := make([]param, 0, len(s.Properties))
	for _, name := range s.Required {
		if prop, ok := s.Properties[name]; ok {
			params = append(params, param{name: name, prop: prop, required: true})
		}
	}
	for _, name := range s.sortedNames() {
		if !slices.Contains(s.Required, name) {
			params = append(params, param{name: name, prop: s.Properties[name]})
		}
	}
	return params
}

func (s objectSchema) sortedNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s objectSchema) isRequired(name string) bool {
	return slices.Contains(s.Required, name)
}

// typeName returns the declared type, or fallback if it's missing or not a single string.
func (p propertySchema) typeName(fallback string) string {
	var t string
	if err := json.Unmarshal(p.Type, &t); err != nil || t == "" {
		return fallback
	}
	return t
}
