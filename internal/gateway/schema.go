package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fpang/ecom-image-studio/internal/jsonutil"
	"google.golang.org/genai"
)

// DecodeStructured parses a raw JSON-mode response body and validates it
// against schema. A body with no recoverable JSON object, or one that lacks
// required fields, yields a schema violation carrying the raw body.
func DecodeStructured(model, raw string, schema *genai.Schema) (*Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, schemaViolation(model, "empty response body", raw, nil)
	}
	obj, err := jsonutil.ParseObject(raw)
	if err != nil {
		return nil, schemaViolation(model, "response is not a JSON object", raw, err)
	}
	if problems := Validate(obj, schema); len(problems) > 0 {
		return nil, schemaViolation(model, "response failed schema validation", raw,
			fmt.Errorf("%s", strings.Join(problems, "; ")))
	}
	return &Result{Text: raw, JSON: obj}, nil
}

// Validate checks value against schema and returns one message per problem.
// Required string fields must also be non-empty.
func Validate(value any, schema *genai.Schema) []string {
	if schema == nil {
		return nil
	}
	return validateAt("$", value, schema)
}

func validateAt(path string, value any, schema *genai.Schema) []string {
	var problems []string
	switch schema.Type {
	case genai.TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return []string{path + ": expected object"}
		}
		for _, name := range jsonutil.MissingFields(obj, schema.Required) {
			problems = append(problems, fmt.Sprintf("%s.%s: required", path, name))
		}
		names := make([]string, 0, len(schema.Properties))
		for name := range schema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if v, present := obj[name]; present && v != nil {
				problems = append(problems, validateAt(path+"."+name, v, schema.Properties[name])...)
			}
		}
	case genai.TypeArray:
		items, ok := value.([]any)
		if !ok {
			return []string{path + ": expected array"}
		}
		if schema.Items != nil {
			for i, item := range items {
				problems = append(problems, validateAt(fmt.Sprintf("%s[%d]", path, i), item, schema.Items)...)
			}
		}
	case genai.TypeString:
		if _, ok := value.(string); !ok {
			problems = append(problems, path+": expected string")
		}
	}
	return problems
}

// StringProps builds an object schema whose named properties are all
// required strings.
func StringProps(names ...string) *genai.Schema {
	props := make(map[string]*genai.Schema, len(names))
	for _, n := range names {
		props[n] = &genai.Schema{Type: genai.TypeString}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   append([]string(nil), names...),
	}
}
