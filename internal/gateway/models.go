package gateway

import (
	"fmt"
	"strings"
)

// Analysis model IDs.
//
// | Model Name               | API Model ID             | Tier     |
// |--------------------------|--------------------------|----------|
// | Gemini 3 Flash (Preview) | gemini-3-flash-preview   | standard |
// | Gemini 3 Pro (Preview)   | gemini-3-pro-preview     | elevated |
const (
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
	ModelGemini3ProPreview   = "gemini-3-pro-preview"

	// DefaultAnalysisModel drives style decoding, analysis and fusion.
	DefaultAnalysisModel = ModelGemini3FlashPreview
)

// Provider image model IDs behind the user-facing image model names.
const (
	ModelGemini25FlashImage = "gemini-2.5-flash-image"
	ModelGemini3ProImage    = "gemini-3-pro-image-preview"
)

// ImageSize1K is the output size tier requested from the pro image model.
const ImageSize1K = "1K"

// ImageModel is the user-facing render model name.
type ImageModel string

const (
	ImageModelStandard ImageModel = "nanobanana"
	ImageModelPro      ImageModel = "nanobanana pro"
)

// ParseImageModel accepts the user-facing names case-insensitively.
func ParseImageModel(s string) (ImageModel, error) {
	switch ImageModel(strings.ToLower(strings.TrimSpace(s))) {
	case ImageModelStandard:
		return ImageModelStandard, nil
	case ImageModelPro, "nanobanana-pro":
		return ImageModelPro, nil
	}
	return "", fmt.Errorf("unknown image model %q (want %q or %q)", s, ImageModelStandard, ImageModelPro)
}

// ProviderModel returns the provider model ID used for rendering.
func (m ImageModel) ProviderModel() string {
	if m == ImageModelStandard {
		return ModelGemini25FlashImage
	}
	return ModelGemini3ProImage
}

// SizeTier returns the requested output size, empty when the model picks its own.
func (m ImageModel) SizeTier() string {
	if m.ProviderModel() == ModelGemini3ProImage {
		return ImageSize1K
	}
	return ""
}

// Elevated reports whether the image model needs a paid credential.
func (m ImageModel) Elevated() bool {
	return m == ImageModelPro
}

// RequiresElevatedCredential reports whether the model selection needs a
// user-supplied paid credential rather than the shared default one.
func RequiresElevatedCredential(analysisModel string, image ImageModel) bool {
	return image.Elevated() || analysisModel == ModelGemini3ProPreview
}

// AspectRatio is one of the render aspect ratios the provider accepts.
type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectWide      AspectRatio = "16:9"
	AspectTall      AspectRatio = "9:16"
	AspectLandscape AspectRatio = "4:3"
	AspectPortrait  AspectRatio = "3:4"
)

// AspectRatios lists the accepted ratios in display order.
var AspectRatios = []AspectRatio{AspectSquare, AspectWide, AspectTall, AspectLandscape, AspectPortrait}

// ParseAspectRatio validates s against the accepted set. Empty means square.
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AspectSquare, nil
	}
	for _, ar := range AspectRatios {
		if string(ar) == s {
			return ar, nil
		}
	}
	return "", fmt.Errorf("unsupported aspect ratio %q", s)
}
