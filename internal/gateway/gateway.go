// Package gateway is the single point of contact with the generative model
// provider. Callers describe a request as ordered multimodal parts plus an
// optional response schema or image configuration; the gateway returns parsed
// JSON, plain text, or one inline image, and normalizes every failure into
// one of three kinds (unavailable, unauthorized, schema violation).
//
// The gateway never retries. Retrying a paid call is a decision for the
// caller, which knows what the attempt costs.
package gateway

import (
	"context"

	"google.golang.org/genai"
)

// Part is one element of a multimodal request: either UTF-8 text or an
// inline binary blob tagged with a MIME type.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// BlobPart returns an inline binary part.
func BlobPart(data []byte, mimeType string) Part {
	return Part{Data: data, MIMEType: mimeType}
}

// IsBlob reports whether the part carries binary data.
func (p Part) IsBlob() bool {
	return len(p.Data) > 0
}

// Image is an image payload returned by the provider or supplied by the user.
type Image struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mimeType"`
}

// Part converts the image into a request part.
func (img Image) Part() Part {
	return BlobPart(img.Data, img.MIMEType)
}

// ImageConfig requests image output with the given aspect ratio and size tier.
// An empty Size lets the provider choose.
type ImageConfig struct {
	AspectRatio AspectRatio
	Size        string
}

// Request describes one model invocation.
//
// Exactly one response mode applies: Schema set means structured JSON,
// Image set means image output, neither means plain text.
type Request struct {
	// Operation labels the call in logs and metrics ("decode_style", "render").
	Operation string

	Model      string
	Credential string

	SystemInstruction string
	Parts             []Part

	Schema *genai.Schema
	Image  *ImageConfig
}

// Mode returns the response mode implied by the request.
func (r Request) Mode() Mode {
	switch {
	case r.Schema != nil:
		return ModeJSON
	case r.Image != nil:
		return ModeImage
	default:
		return ModeText
	}
}

// Mode is the kind of response a request expects.
type Mode string

const (
	ModeJSON  Mode = "json"
	ModeText  Mode = "text"
	ModeImage Mode = "image"
)

// Result holds the normalized response. Only the field matching the request
// mode is populated; Text also carries the raw body in JSON mode.
type Result struct {
	Text  string
	JSON  map[string]any
	Image *Image
}

// Gateway invokes the generative model.
type Gateway interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}
