package imgutil

import (
	"bytes"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// Metadata describes an uploaded photo.
type Metadata struct {
	Format string
	Width  int
	Height int

	DateTaken time.Time
	HasDate   bool

	CameraMake  string
	CameraModel string
}

// Inspect reads dimensions and, when present, EXIF capture details. Missing
// EXIF is normal for PNG and WebP and is not an error.
func Inspect(data []byte) (*Metadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	meta := &Metadata{Format: format, Width: cfg.Width, Height: cfg.Height}

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("format", format).Msg("No EXIF metadata")
		return meta, nil
	}

	// Priority: DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		meta.DateTaken, meta.HasDate = exifData.DateTimeOriginal(), true
	case !exifData.CreateDate().IsZero():
		meta.DateTaken, meta.HasDate = exifData.CreateDate(), true
	case !exifData.ModifyDate().IsZero():
		meta.DateTaken, meta.HasDate = exifData.ModifyDate(), true
	}
	meta.CameraMake = strings.TrimSpace(exifData.Make)
	meta.CameraModel = strings.TrimSpace(exifData.Model)
	return meta, nil
}

// Orientation returns "landscape", "portrait" or "square".
func (m *Metadata) Orientation() string {
	switch {
	case m.Width > m.Height:
		return "landscape"
	case m.Height > m.Width:
		return "portrait"
	default:
		return "square"
	}
}
