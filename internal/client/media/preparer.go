// Package media normalizes captured images before they are queued: photos are
// downscaled and re-encoded as JPEG, signatures are downscaled and kept as
// lossless PNG.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
)

const (
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
)

var supportedSources = []string{MediaTypeJPEG, MediaTypePNG, "image/gif"}

// ErrImageTooLarge is returned for sources whose header declares more pixels
// than Options.MaxSourcePixels.
var ErrImageTooLarge = errors.New("source image is too large")

// PreparationError is returned for any failure while preparing a file. The
// file must not be enqueued when it occurs.
type PreparationError struct {
	Path string
	Err  error
}

func (e *PreparationError) Error() string {
	return fmt.Sprintf("prepare %s: %v", e.Path, e.Err)
}

func (e *PreparationError) Unwrap() error { return e.Err }

type Options struct {
	PhotoMaxDimension     int
	SignatureMaxDimension int
	JPEGQuality           int
	// MaxSourcePixels caps width*height of a source before it is decoded.
	MaxSourcePixels int64
}

func DefaultOptions() Options {
	return Options{PhotoMaxDimension: 1600, SignatureMaxDimension: 800, JPEGQuality: 80, MaxSourcePixels: 64 << 20}
}

// Prepared describes the normalized file written by Prepare.
type Prepared struct {
	Path      string
	Size      int64
	MediaType string
}

type Preparer struct {
	opts Options
}

func NewPreparer(opts Options) *Preparer {
	def := DefaultOptions()
	if opts.PhotoMaxDimension <= 0 {
		opts.PhotoMaxDimension = def.PhotoMaxDimension
	}
	if opts.SignatureMaxDimension <= 0 {
		opts.SignatureMaxDimension = def.SignatureMaxDimension
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}
	if opts.MaxSourcePixels <= 0 {
		opts.MaxSourcePixels = def.MaxSourcePixels
	}
	return &Preparer{opts: opts}
}

// OutputType is the media type Prepare produces for kind.
func OutputType(kind models.PhotoType) string {
	if kind.IsSignature() {
		return MediaTypePNG
	}
	return MediaTypeJPEG
}

// Prepare reads src, bounds its longest side and writes the re-encoded image
// to dst. src is never modified.
func (p *Preparer) Prepare(ctx context.Context, src string, kind models.PhotoType, dst string) (Prepared, error) {
	fail := func(err error) (Prepared, error) {
		return Prepared{}, &PreparationError{Path: src, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if !kind.Valid() {
		return fail(fmt.Errorf("unknown photo type %q", kind))
	}

	raw, err := os.ReadFile(src)
	if err != nil {
		return fail(err)
	}
	mt := mimetype.Detect(raw)
	if !mimetype.EqualsAny(mt.String(), supportedSources...) {
		return fail(fmt.Errorf("unsupported media type %s", mt.String()))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return fail(fmt.Errorf("decode header: %w", err))
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > p.opts.MaxSourcePixels {
		return fail(fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height))
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fail(fmt.Errorf("decode: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	maxDim := p.opts.PhotoMaxDimension
	if kind.IsSignature() {
		maxDim = p.opts.SignatureMaxDimension
	}
	w, h := fit(img.Bounds().Dx(), img.Bounds().Dy(), maxDim)

	var buf bytes.Buffer
	outType := OutputType(kind)
	if outType == MediaTypePNG {
		out := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Over, nil)
		err = png.Encode(&buf, out)
	} else {
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		// JPEG has no alpha; flatten onto white.
		draw.Draw(out, out.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
		draw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), draw.Over, nil)
		err = jpeg.Encode(&buf, out, &jpeg.Options{Quality: p.opts.JPEGQuality})
	}
	if err != nil {
		return fail(fmt.Errorf("encode: %w", err))
	}

	if err := filex.WriteFileAtomic(dst, buf.Bytes(), 0o640); err != nil {
		return fail(err)
	}
	return Prepared{Path: dst, Size: int64(buf.Len()), MediaType: outType}, nil
}

// fit scales w x h so that the longest side is at most max, keeping the
// aspect ratio. Images already within bounds are left as is.
func fit(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}
