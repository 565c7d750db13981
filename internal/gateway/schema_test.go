package gateway

import (
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func storyboardSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"physical_features":   {Type: genai.TypeString},
			"global_font_options": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"storyboards": {
				Type:  genai.TypeArray,
				Items: StringProps("id", "title"),
			},
		},
		Required: []string{"physical_features", "global_font_options", "storyboards"},
	}
}

func TestDecodeStructured(t *testing.T) {
	raw := `{"physical_features":"铝合金机身","global_font_options":["黑体"],"storyboards":[{"id":"sb1","title":"首屏"}]}`
	res, err := DecodeStructured("m", raw, storyboardSchema())
	if err != nil {
		t.Fatalf("DecodeStructured() error: %v", err)
	}
	if res.JSON["physical_features"] != "铝合金机身" {
		t.Errorf("JSON = %v", res.JSON)
	}
	if res.Text != raw {
		t.Error("Text should carry the raw body")
	}
}

func TestDecodeStructuredViolations(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantMsg string
	}{
		{"empty", "  ", "empty response body"},
		{"prose", "抱歉", "not a JSON object"},
		{"missing field", `{"physical_features":"x","global_font_options":[]}`, "$.storyboards: required"},
		{"empty string", `{"physical_features":"","global_font_options":[],"storyboards":[]}`, "$.physical_features: required"},
		{"wrong type", `{"physical_features":"x","global_font_options":"黑体","storyboards":[]}`, "expected array"},
		{"nested item", `{"physical_features":"x","global_font_options":[],"storyboards":[{"id":"sb1"}]}`, "$.storyboards[0].title: required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeStructured("m", tt.raw, storyboardSchema())
			if !errors.Is(err, ErrSchemaViolation) {
				t.Fatalf("expected ErrSchemaViolation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
			if RawBody(err) != tt.raw {
				t.Errorf("RawBody() = %q, want %q", RawBody(err), tt.raw)
			}
		})
	}
}

func TestStringProps(t *testing.T) {
	s := StringProps("a", "b")
	if s.Type != genai.TypeObject || len(s.Properties) != 2 || len(s.Required) != 2 {
		t.Errorf("StringProps() = %+v", s)
	}
	if problems := Validate(map[string]any{"a": "x", "b": "y"}, s); len(problems) != 0 {
		t.Errorf("unexpected problems: %v", problems)
	}
}
