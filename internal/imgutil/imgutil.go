// Package imgutil prepares uploaded product and reference photos for the
// model and produces small previews of generated images.
package imgutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Size limits.
const (
	// MaxUploadDimension bounds the longest edge of images sent to the model.
	MaxUploadDimension = 2048
	// DefaultThumbnailMaxDimension bounds websocket and history previews.
	DefaultThumbnailMaxDimension = 320
)

// ErrUnsupportedImage is returned for bytes that are not JPEG, PNG or WebP.
var ErrUnsupportedImage = errors.New("unsupported image format")

var supportedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// DetectMIME sniffs the content type of data.
func DetectMIME(data []byte) string {
	return http.DetectContentType(data)
}

// Normalize checks that data is a supported image and downsizes it so the
// longest edge is at most maxDimension. Images already within bounds are
// returned unchanged; resized images are re-encoded as JPEG.
func Normalize(data []byte, maxDimension int) ([]byte, string, error) {
	mimeType := DetectMIME(data)
	if !supportedMIME[mimeType] {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mimeType)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= maxDimension && cfg.Height <= maxDimension {
		return data, mimeType, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	resized := scale(img, maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, "", fmt.Errorf("encode normalized image: %w", err)
	}

	log.Debug().
		Int("orig_width", cfg.Width).
		Int("orig_height", cfg.Height).
		Int("new_width", resized.Bounds().Dx()).
		Int("new_height", resized.Bounds().Dy()).
		Int("output_size", buf.Len()).
		Msg("Image normalized")

	return buf.Bytes(), "image/jpeg", nil
}

func scale(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), maxDimension)
	if w == bounds.Dx() && h == bounds.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// fitWithin returns dimensions no larger than maxDimension on either edge,
// keeping the aspect ratio.
func fitWithin(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width > height {
		return maxDimension, max(1, int(float64(height)*float64(maxDimension)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxDimension)/float64(height))), maxDimension
}
