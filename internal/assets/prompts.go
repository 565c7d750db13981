// Package assets provides embedded prompt templates.
//
// Prompt text lives under prompts/ and is embedded at compile time so the
// wording can be reviewed and tuned without touching Go code.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// --- Static prompts ---

// StyleSystemPrompt instructs the model to extract a visual constitution.
//
//go:embed prompts/style-system.txt
var StyleSystemPrompt string

// StyleUserPrompt accompanies the reference image.
//
//go:embed prompts/style-user.txt
var StyleUserPrompt string

// AnalysisDetailSystemPrompt drives the six-beat detail page storyboard.
//
//go:embed prompts/analysis-detail-system.txt
var AnalysisDetailSystemPrompt string

// AnalysisMainSystemPrompt drives the six main-image composition variants.
//
//go:embed prompts/analysis-main-system.txt
var AnalysisMainSystemPrompt string

//go:embed prompts/fusion-system.txt
var FusionSystemPrompt string

//go:embed prompts/regenerate-system.txt
var RegenerateSystemPrompt string

// --- Dynamic templates ---

//go:embed prompts/analysis-user.txt
var analysisUserTemplate string

//go:embed prompts/fusion-user.txt
var fusionUserTemplate string

//go:embed prompts/regenerate-user.txt
var regenerateUserTemplate string

//go:embed prompts/render-instruction.txt
var renderInstructionTemplate string

// template.Must panics on malformed templates, surfacing mistakes at startup.
var (
	analysisUserTmpl      = template.Must(template.New("analysis").Parse(analysisUserTemplate))
	fusionUserTmpl        = template.Must(template.New("fusion").Parse(fusionUserTemplate))
	regenerateUserTmpl    = template.Must(template.New("regenerate").Parse(regenerateUserTemplate))
	renderInstructionTmpl = template.Must(template.New("render").Parse(renderInstructionTemplate))
)

// AnalysisData fills the product analysis user prompt.
type AnalysisData struct {
	Detail                  bool
	HasCompositionReference bool
	Constraints             string
}

// FusionData fills the prompt fusion user prompt.
type FusionData struct {
	Mode        string
	Style       string
	Lighting    string
	Color       string
	Composition string
	Texture     string
	Prefix      string
	Prohibited  string
	Storyboards string
}

// RegenerateData fills the single-prompt regeneration user prompt.
type RegenerateData struct {
	Mode             string
	Style            string
	Prefix           string
	Prohibited       string
	PhysicalFeatures string
	Storyboard       string
}

// RenderData fills the final render instruction. Field order in the
// template is fixed: constraints precede open-ended creative content.
type RenderData struct {
	Mode             string
	Copy             string
	Font             string
	Prefix           string
	Style            string
	Lighting         string
	Avoidance        string
	Placement        string
	PhysicalFeatures string
	Scene            string
}

// RenderAnalysisPrompt renders the analyzer's user prompt.
func RenderAnalysisPrompt(d AnalysisData) string {
	return renderTemplate(analysisUserTmpl, d)
}

// RenderFusionPrompt renders the fuser's user prompt.
func RenderFusionPrompt(d FusionData) string {
	return renderTemplate(fusionUserTmpl, d)
}

// RenderRegeneratePrompt renders the regeneration user prompt.
func RenderRegeneratePrompt(d RegenerateData) string {
	return renderTemplate(regenerateUserTmpl, d)
}

// RenderInstruction renders the final image instruction.
func RenderInstruction(d RenderData) string {
	return renderTemplate(renderInstructionTmpl, d)
}

// renderTemplate executes a pre-parsed template. Execution errors are not
// expected with plain string fields; whatever rendered is returned.
func renderTemplate(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	_ = tmpl.Execute(&buf, data)
	return strings.TrimSpace(buf.String())
}
