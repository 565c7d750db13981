package export

import (
	"archive/zip"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ecom-image-studio/internal/gateway"
	"github.com/fpang/ecom-image-studio/internal/planner"
	"github.com/fpang/ecom-image-studio/internal/render"
)

// MethodZstd is the ZIP compression method id for Zstandard.
const MethodZstd = zstd.ZipMethodWinZip

// SummaryFile is the plan text inside every bundle.
const SummaryFile = "plan.txt"

// Entry is one generated image of a bundle.
type Entry struct {
	ID    string
	Title string
	Image gateway.Image
}

// Bundle is a plan summary plus the images generated so far.
type Bundle struct {
	Summary string
	Entries []Entry
}

// FromProject collects the summary and every done card of p in plan order.
func FromProject(p *render.Project) Bundle {
	prompts := p.Prompts()
	var strategy planner.Strategy
	if a := p.Analysis(); a != nil {
		strategy = a.Strategy
	}
	b := Bundle{
		Summary: PlanSummary(prompts, strategy, p.Settings().Font, p.Constitution()),
	}
	board := p.Board()
	for _, fp := range prompts {
		st := board.State(fp.ID)
		if st.Status != render.StatusDone || st.Image == nil {
			continue
		}
		b.Entries = append(b.Entries, Entry{ID: fp.ID, Title: fp.Title, Image: *st.Image})
	}
	return b
}

// WriteTo writes the bundle as a ZIP archive. Images use Zstandard; the
// summary is stored with Deflate so any unzip tool can read it.
func (b Bundle) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	zw.RegisterCompressor(MethodZstd, zstd.ZipCompressor(zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12))))

	now := time.Now()
	if err := writeEntry(zw, SummaryFile, zip.Deflate, now, []byte(b.Summary)); err != nil {
		return cw.n, err
	}

	used := make(map[string]int)
	for _, e := range b.Entries {
		name := uniqueName(used, FileName(e.Title, e.ID), extension(e.Image.MIMEType))
		if err := writeEntry(zw, name, MethodZstd, now, e.Image.Data); err != nil {
			return cw.n, err
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("close ZIP writer: %w", err)
	}

	log.Debug().Int("images", len(b.Entries)).Int64("bytes", cw.n).Msg("Export bundle written")
	return cw.n, nil
}

func writeEntry(zw *zip.Writer, name string, method uint16, mod time.Time, data []byte) error {
	header := &zip.FileHeader{Name: name, Method: method}
	header.Modified = mod
	fw, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create ZIP entry for %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write to ZIP for %s: %w", name, err)
	}
	return nil
}

func uniqueName(used map[string]int, stem, ext string) string {
	used[stem]++
	if n := used[stem]; n > 1 {
		return fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	return stem + ext
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
