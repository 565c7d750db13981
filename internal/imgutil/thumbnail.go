package imgutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog/log"
)

// Thumbnail resizes an image so its longest edge is at most maxDimension
// and encodes it as lossy WebP.
func Thumbnail(data []byte, maxDimension int) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	resized := scale(img, maxDimension)

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, 80)
	if err != nil {
		return nil, "", fmt.Errorf("create WebP encoder options: %w", err)
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, resized, options); err != nil {
		return nil, "", fmt.Errorf("encode thumbnail as WebP: %w", err)
	}
	if buf.Len() == 0 {
		return nil, "", fmt.Errorf("WebP encoding produced empty thumbnail")
	}

	log.Debug().
		Str("format", format).
		Int("input_size", len(data)).
		Int("output_size", buf.Len()).
		Msg("Thumbnail generated")

	return buf.Bytes(), "image/webp", nil
}

// DataURL renders bytes as a base64 data URL.
func DataURL(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
