package jsonutil

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"trailing prose", "```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{"too short", "```{}```", "```{}```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("StripMarkdownFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"object in prose", `Here you go: {"style":"极简"} done`, `{"style":"极简"}`, false},
		{"array first", `[{"id":"sb1"}]`, `[{"id":"sb1"}]`, false},
		{"object before array", `{"results":[1]}`, `{"results":[1]}`, false},
		{"no json", "抱歉，我无法处理", "", true},
		{"unclosed", `{"a":1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrNoJSON) {
				t.Errorf("error %v does not wrap ErrNoJSON", err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	type constitution struct {
		Style  string `json:"style"`
		Prefix string `json:"prompt_prefix"`
	}

	got, err := ParseJSON[constitution]("```json\n{\"style\":\"复古\",\"prompt_prefix\":\"胶片质感\"}\n```")
	if err != nil {
		t.Fatalf("ParseJSON() error: %v", err)
	}
	if got.Style != "复古" || got.Prefix != "胶片质感" {
		t.Errorf("ParseJSON() = %+v", got)
	}

	if _, err := ParseJSON[constitution]("no json here"); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}

	_, err = ParseJSON[constitution](`{"style": }`)
	if err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("expected invalid JSON error, got %v", err)
	}
}

func TestParseObject(t *testing.T) {
	obj, err := ParseObject(`{"results":[]}`)
	if err != nil {
		t.Fatalf("ParseObject() error: %v", err)
	}
	if _, ok := obj["results"]; !ok {
		t.Errorf("missing results key: %v", obj)
	}

	if _, err := ParseObject(`null`); err == nil {
		t.Error("expected error for non-object payload")
	}
}

func TestMissingFields(t *testing.T) {
	obj := map[string]any{
		"style":    "极简",
		"lighting": "",
		"color":    nil,
		"fonts":    []any{"黑体"},
	}
	got := MissingFields(obj, []string{"style", "lighting", "color", "texture", "fonts"})
	want := []string{"lighting", "color", "texture"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MissingFields() = %v, want %v", got, want)
	}
}

func TestPreviewKeepsRunesIntact(t *testing.T) {
	s := strings.Repeat("视觉", 50)
	p := Preview(s, 10)
	if !utf8.ValidString(p) {
		t.Errorf("Preview produced invalid UTF-8: %q", p)
	}
	if !strings.HasSuffix(p, "...") {
		t.Errorf("Preview should mark truncation: %q", p)
	}
	if got := Preview("short", 10); got != "short" {
		t.Errorf("Preview(short) = %q", got)
	}
}
