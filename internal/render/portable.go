package render

import (
	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/planner"
)

// PortableImage is an image that keeps its bytes when marshaled.
type PortableImage struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// NewPortableImage copies img, or returns nil for a nil or empty image.
func NewPortableImage(img *gateway.Image) *PortableImage {
	if img == nil || len(img.Data) == 0 {
		return nil
	}
	return &PortableImage{MIMEType: img.MIMEType, Data: img.Data}
}

// Image converts back to a gateway image. A nil receiver yields nil.
func (pi *PortableImage) Image() *gateway.Image {
	if pi == nil || len(pi.Data) == 0 {
		return nil
	}
	return &gateway.Image{Data: pi.Data, MIMEType: pi.MIMEType}
}

// Portable is a self-contained copy of a project's plan, used to hand a
// render off to another process. Card states and the credential are not
// included.
type Portable struct {
	ID              string                    `json:"id"`
	UserID          string                    `json:"userId"`
	Username        string                    `json:"username"`
	Settings        Settings                  `json:"settings"`
	Constitution    *planner.Constitution     `json:"constitution,omitempty"`
	Analysis        *planner.Analysis         `json:"analysis,omitempty"`
	Prompts         []planner.FinalPrompt     `json:"prompts"`
	GlobalReference *PortableImage            `json:"globalReference,omitempty"`
	References      map[string]*PortableImage `json:"references,omitempty"`
}

// Portable copies the plan of p.
func (p *Project) Portable() Portable {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := Portable{
		ID:              p.ID,
		UserID:          p.UserID,
		Username:        p.Username,
		Settings:        p.settings,
		Analysis:        cloneAnalysis(p.analysis),
		Prompts:         append([]planner.FinalPrompt(nil), p.prompts...),
		GlobalReference: NewPortableImage(p.globalReference),
	}
	if p.constitution != nil {
		c := *p.constitution
		out.Constitution = &c
	}
	if len(p.references) > 0 {
		out.References = make(map[string]*PortableImage, len(p.references))
		for id, ref := range p.references {
			out.References[id] = NewPortableImage(ref)
		}
	}
	return out
}

// FromPortable rebuilds a project with an idle board. credential replaces
// the one dropped during marshaling.
func FromPortable(pp Portable, credential string) *Project {
	settings := pp.Settings
	settings.Credential = credential
	p := NewProject(pp.ID, pp.UserID, pp.Username, settings)

	if pp.Constitution != nil {
		c := *pp.Constitution
		p.constitution = &c
	}
	p.analysis = cloneAnalysis(pp.Analysis)
	p.prompts = append([]planner.FinalPrompt(nil), pp.Prompts...)
	p.globalReference = pp.GlobalReference.Image()
	for id, ref := range pp.References {
		if img := ref.Image(); img != nil {
			p.references[id] = img
		}
	}
	return p
}
