package render

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/planner"
)

// Settings are the user-selected generation options of a project.
type Settings struct {
	// Credential is the user's own provider key. Empty means the server
	// default key, which does not satisfy elevated model tiers.
	Credential    string              `json:"-"`
	AnalysisModel string              `json:"analysisModel"`
	ImageModel    gateway.ImageModel  `json:"imageModel"`
	AspectRatio   gateway.AspectRatio `json:"aspectRatio"`
	Font          string              `json:"font,omitempty"`
}

// HasCredential reports whether a user credential is configured.
func (s Settings) HasCredential() bool {
	return strings.TrimSpace(s.Credential) != ""
}

// Project is the explicit application state of one workspace: the decoded
// constitution, the analysis, the fused prompts, reference images and the
// card board. All methods are safe for concurrent use.
type Project struct {
	ID       string
	UserID   string
	Username string

	board *Board

	mu              sync.RWMutex
	settings        Settings
	constitution    *planner.Constitution
	analysis        *planner.Analysis
	prompts         []planner.FinalPrompt
	globalReference *gateway.Image
	references      map[string]*gateway.Image
	updatedAt       time.Time
}

// NewProject creates an empty project owned by userID.
func NewProject(id, userID, username string, settings Settings) *Project {
	if settings.ImageModel == "" {
		settings.ImageModel = gateway.ImageModelStandard
	}
	if settings.AspectRatio == "" {
		settings.AspectRatio = gateway.AspectSquare
	}
	return &Project{
		ID:         id,
		UserID:     userID,
		Username:   username,
		board:      NewBoard(id),
		settings:   settings,
		references: make(map[string]*gateway.Image),
		updatedAt:  time.Now(),
	}
}

// Board returns the project's card board.
func (p *Project) Board() *Board {
	return p.board
}

func (p *Project) touch() {
	p.updatedAt = time.Now()
}

// Settings returns the current generation options.
func (p *Project) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// UpdateSettings replaces the generation options. An empty font keeps the
// current choice.
func (p *Project) UpdateSettings(s Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Font == "" {
		s.Font = p.settings.Font
	}
	if s.ImageModel == "" {
		s.ImageModel = p.settings.ImageModel
	}
	if s.AspectRatio == "" {
		s.AspectRatio = p.settings.AspectRatio
	}
	p.settings = s
	p.touch()
}

// Constitution returns a copy of the decoded style, or nil.
func (p *Project) Constitution() *planner.Constitution {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.constitution == nil {
		return nil
	}
	c := *p.constitution
	return &c
}

// SetConstitution stores a decoded or edited style.
func (p *Project) SetConstitution(c *planner.Constitution) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c == nil {
		p.constitution = nil
	} else {
		cc := *c
		p.constitution = &cc
	}
	p.touch()
}

// Analysis returns a deep copy of the analysis, or nil.
func (p *Project) Analysis() *planner.Analysis {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneAnalysis(p.analysis)
}

// SetAnalysis replaces the analysis. Prompts, per-card references and
// settled card states belong to the previous plan and are cleared; the
// first suggested font becomes the selection when none is set.
func (p *Project) SetAnalysis(a *planner.Analysis) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.analysis = cloneAnalysis(a)
	p.prompts = nil
	p.references = make(map[string]*gateway.Image)
	if a != nil && (p.settings.Font == "" || !slices.Contains(a.FontOptions, p.settings.Font)) {
		p.settings.Font = a.DefaultFont()
	}
	p.board.Reset()
	p.touch()
}

// Prompts returns a copy of the fused prompts in storyboard order.
func (p *Project) Prompts() []planner.FinalPrompt {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]planner.FinalPrompt(nil), p.prompts...)
}

// SetPrompts stores fused prompts. Prompts for ids outside the current
// analysis are dropped.
func (p *Project) SetPrompts(prompts []planner.FinalPrompt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := make([]planner.FinalPrompt, 0, len(prompts))
	for _, fp := range prompts {
		if p.analysis != nil {
			if _, ok := p.analysis.Storyboard(fp.ID); !ok {
				continue
			}
		}
		kept = append(kept, fp)
	}
	p.prompts = kept
	p.touch()
}

// Prompt returns the fused prompt with the given id.
func (p *Project) Prompt(id string) (planner.FinalPrompt, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := p.promptIndexLocked(id)
	if i < 0 {
		return planner.FinalPrompt{}, false
	}
	return p.prompts[i], true
}

// PromptIDs returns every fused prompt id in order.
func (p *Project) PromptIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, len(p.prompts))
	for i, fp := range p.prompts {
		ids[i] = fp.ID
	}
	return ids
}

func (p *Project) promptIndexLocked(id string) int {
	for i := range p.prompts {
		if p.prompts[i].ID == id {
			return i
		}
	}
	return -1
}

// Regenerator produces a fresh prompt for one storyboard.
type Regenerator interface {
	RegenerateOne(ctx context.Context, c *planner.Constitution, sb planner.Storyboard, a *planner.Analysis, model, credential string) (string, error)
}

// RegeneratePrompt replaces the prompt text of one card. The card is held
// in loading while the model runs so it cannot be rendered concurrently.
// On any failure the previous prompt is left untouched.
func (p *Project) RegeneratePrompt(ctx context.Context, r Regenerator, id string) (planner.FinalPrompt, error) {
	p.mu.RLock()
	i := p.promptIndexLocked(id)
	c := p.constitution
	a := cloneAnalysis(p.analysis)
	settings := p.settings
	p.mu.RUnlock()

	if i < 0 || a == nil {
		return planner.FinalPrompt{}, fmt.Errorf("regenerate %s: %w", id, ErrUnknownPrompt)
	}
	if c == nil {
		return planner.FinalPrompt{}, fmt.Errorf("regenerate %s: %w: no visual constitution", id, planner.ErrInvalidInput)
	}
	sb, ok := a.Storyboard(id)
	if !ok {
		return planner.FinalPrompt{}, fmt.Errorf("regenerate %s: %w", id, ErrUnknownPrompt)
	}

	attempt, err := p.board.Start(id)
	if err != nil {
		return planner.FinalPrompt{}, fmt.Errorf("regenerate %s: %w", id, err)
	}
	// Regeneration never produces an image; the card returns to idle.
	defer attempt.Release()

	text, err := r.RegenerateOne(ctx, c, *sb, a, settings.AnalysisModel, settings.Credential)
	if err != nil {
		log.Warn().Err(err).Str("project_id", p.ID).Str("card_id", id).Msg("Prompt regeneration failed, keeping previous prompt")
		fp, _ := p.Prompt(id)
		return fp, fmt.Errorf("regenerate %s: %w", id, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	i = p.promptIndexLocked(id)
	if i < 0 || !attempt.Current() {
		return planner.FinalPrompt{}, fmt.Errorf("regenerate %s: %w: plan replaced", id, ErrUnknownPrompt)
	}
	p.prompts[i].Prompt = text
	p.touch()
	return p.prompts[i], nil
}

// StoryboardEdit carries user edits to a card's marketing fields. Nil
// fields are left unchanged.
type StoryboardEdit struct {
	Copy      *string `json:"copy,omitempty"`
	Placement *string `json:"placement,omitempty"`
	FontSize  *string `json:"font_size,omitempty"`
}

// EditStoryboard applies edits to the storyboard and to the matching
// fused prompt, if one exists.
func (p *Project) EditStoryboard(id string, e StoryboardEdit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.analysis == nil {
		return fmt.Errorf("edit %s: %w", id, ErrUnknownPrompt)
	}
	sb, ok := p.analysis.Storyboard(id)
	if !ok {
		return fmt.Errorf("edit %s: %w", id, ErrUnknownPrompt)
	}
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	apply(&sb.Copy, e.Copy)
	apply(&sb.Placement, e.Placement)
	apply(&sb.FontSize, e.FontSize)
	if i := p.promptIndexLocked(id); i >= 0 {
		apply(&p.prompts[i].Copy, e.Copy)
		apply(&p.prompts[i].Placement, e.Placement)
		apply(&p.prompts[i].FontSize, e.FontSize)
	}
	p.touch()
	return nil
}

// SetPhysicalFeatures overrides the analyzed product description.
func (p *Project) SetPhysicalFeatures(features string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.analysis == nil {
		return fmt.Errorf("set physical features: %w: no analysis", planner.ErrInvalidInput)
	}
	p.analysis.PhysicalFeatures = strings.TrimSpace(features)
	p.touch()
	return nil
}

// SetGlobalReference stores a project-wide reference image and copies it
// onto every card's reference slot. Passing nil clears the global
// reference and the card slots that still hold it.
func (p *Project) SetGlobalReference(img *gateway.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.globalReference
	p.globalReference = img
	if img == nil {
		for id, ref := range p.references {
			if ref == prev {
				delete(p.references, id)
			}
		}
	} else if p.analysis != nil {
		for _, sb := range p.analysis.Storyboards {
			p.references[sb.ID] = img
		}
	}
	p.touch()
}

// SetCardReference stores a reference image for one card. Passing nil
// clears it.
func (p *Project) SetCardReference(id string, img *gateway.Image) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.analysis == nil {
		return fmt.Errorf("set reference %s: %w", id, ErrUnknownPrompt)
	}
	if _, ok := p.analysis.Storyboard(id); !ok {
		return fmt.Errorf("set reference %s: %w", id, ErrUnknownPrompt)
	}
	if img == nil {
		delete(p.references, id)
	} else {
		p.references[id] = img
	}
	p.touch()
	return nil
}

// ReferenceFor resolves the reference image for a render of id:
// an explicit override wins, then the card's own reference, then the
// project-wide reference.
func (p *Project) ReferenceFor(id string, override *gateway.Image) *gateway.Image {
	if override != nil && len(override.Data) > 0 {
		return override
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ref := p.references[id]; ref != nil {
		return ref
	}
	return p.globalReference
}

// renderInputs gathers everything an attempt needs under one read lock.
type renderInputs struct {
	settings     Settings
	constitution planner.Constitution
	analysis     *planner.Analysis
	prompt       planner.FinalPrompt
}

func (p *Project) inputsFor(id string) (renderInputs, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i := p.promptIndexLocked(id)
	if i < 0 || p.analysis == nil {
		return renderInputs{}, fmt.Errorf("render %s: %w", id, ErrUnknownPrompt)
	}
	if p.constitution == nil {
		return renderInputs{}, fmt.Errorf("render %s: %w: no visual constitution", id, planner.ErrInvalidInput)
	}
	return renderInputs{
		settings:     p.settings,
		constitution: *p.constitution,
		analysis:     cloneAnalysis(p.analysis),
		prompt:       p.prompts[i],
	}, nil
}

// View is the JSON snapshot of a project.
type View struct {
	ID                 string                `json:"id"`
	UserID             string                `json:"userId"`
	Settings           Settings              `json:"settings"`
	Constitution       *planner.Constitution `json:"constitution,omitempty"`
	Analysis           *planner.Analysis     `json:"analysis,omitempty"`
	Prompts            []planner.FinalPrompt `json:"prompts"`
	Cards              map[string]CardState  `json:"cards"`
	HasGlobalReference bool                  `json:"hasGlobalReference"`
	CardReferences     []string              `json:"cardReferences,omitempty"`
	UpdatedAt          time.Time             `json:"updatedAt"`
}

// Snapshot returns a consistent view of the project.
func (p *Project) Snapshot() View {
	p.mu.RLock()
	v := View{
		ID:                 p.ID,
		UserID:             p.UserID,
		Settings:           p.settings,
		Analysis:           cloneAnalysis(p.analysis),
		Prompts:            append([]planner.FinalPrompt{}, p.prompts...),
		HasGlobalReference: p.globalReference != nil,
		UpdatedAt:          p.updatedAt,
	}
	if p.constitution != nil {
		c := *p.constitution
		v.Constitution = &c
	}
	for id := range p.references {
		v.CardReferences = append(v.CardReferences, id)
	}
	slices.Sort(v.CardReferences)
	p.mu.RUnlock()

	v.Cards = p.board.Snapshot()
	return v
}

func cloneAnalysis(a *planner.Analysis) *planner.Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.FontOptions = append([]string(nil), a.FontOptions...)
	c.Storyboards = append([]planner.Storyboard(nil), a.Storyboards...)
	return &c
}
