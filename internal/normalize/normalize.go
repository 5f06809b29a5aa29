package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/coursekit/imageline/pkg/logging"

	_ "golang.org/x/image/webp" // register webp decoding
)

// Format is the canonical encoding the normalizer produces.
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// Fit selects how a source image is mapped into the bounding box.
type Fit string

const (
	FitCover   Fit = "cover"   // fill the box, cropping overflow
	FitContain Fit = "contain" // letterbox onto an exact-size canvas
	FitFill    Fit = "fill"    // stretch to the exact box, aspect ignored
	FitInside  Fit = "inside"  // shrink to fit within the box, never enlarge
	FitOutside Fit = "outside" // scale so both dimensions cover the box, no crop
)

// Options control the normalization target. Zero values fall back to the
// deployment defaults.
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	Format    Format
	Fit       Fit
}

// DefaultOptions returns the web-optimized target used when nothing is
// configured: 1920x1080 bounding box, quality 80, lossy webp, shrink-to-fit.
func DefaultOptions() Options {
	return Options{
		MaxWidth:  1920,
		MaxHeight: 1080,
		Quality:   80,
		Format:    FormatWebP,
		Fit:       FitInside,
	}
}

// Image is the normalized result, consumed exactly once by the storage
// backend.
type Image struct {
	Buffer   []byte
	FileName string
	MimeType string
	Size     int64
	Width    int
	Height   int
}

var (
	// ErrUnsupportedMediaType means the payload is not a recognized image.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrPayloadTooLarge means the input exceeds the configured ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrEncodeFailure means re-encoding to the target format failed.
	ErrEncodeFailure = errors.New("image encoding failed")
)

var mimeByExtension = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg",
	".png": "image/png", ".gif": "image/gif",
	".webp": "image/webp", ".bmp": "image/bmp",
	".tif": "image/tiff", ".tiff": "image/tiff",
}

// Normalizer converts arbitrary raster images into a single canonical format
// at bounded dimensions.
type Normalizer struct {
	maxBytes int64
	opts     Options

	// swappable in tests to exercise the relabel fallback
	encodeWebP func(img image.Image, quality int) ([]byte, error)
}

// New builds a Normalizer with the given input ceiling in bytes. Zero or
// negative option fields are replaced by the defaults.
func New(maxBytes int64, opts Options) *Normalizer {
	defaults := DefaultOptions()
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = defaults.MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = defaults.MaxHeight
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = defaults.Quality
	}
	if opts.Format == "" {
		opts.Format = defaults.Format
	}
	if opts.Fit == "" {
		opts.Fit = defaults.Fit
	}
	return &Normalizer{
		maxBytes:   maxBytes,
		opts:       opts,
		encodeWebP: encodeWebP,
	}
}

// Normalize decodes raw as an image, resizes it into the configured bounding
// box, and re-encodes it in the target format. The explicit contentType wins
// over one inferred from the file extension.
//
// If webp is the target and webp encoding fails, the original bytes are
// returned relabeled with the webp extension and MIME type. That result is
// not a real conversion; a warning is logged so the shortcut is observable.
func (n *Normalizer) Normalize(raw []byte, fileName, contentType string) (*Image, error) {
	if n.maxBytes > 0 && int64(len(raw)) > n.maxBytes {
		return nil, fmt.Errorf("%w: input size %d bytes exceeds maximum %d bytes",
			ErrPayloadTooLarge, len(raw), n.maxBytes)
	}

	if contentType == "" {
		contentType = mimeByExtension[strings.ToLower(filepath.Ext(fileName))]
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, contentType)
	}

	src, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrUnsupportedMediaType, err)
	}

	resized := n.resize(src)

	encoded, err := n.encode(resized)
	if err != nil {
		if n.opts.Format != FormatWebP {
			return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
		}
		logging.WithComponent("normalize").WithFields(map[string]interface{}{
			"file_name": fileName,
			"error":     err.Error(),
		}).Warn("webp encoding failed, relabeling original bytes without conversion")
		return &Image{
			Buffer:   raw,
			FileName: replaceExtension(fileName, n.opts.Format),
			MimeType: mimeType(n.opts.Format),
			Size:     int64(len(raw)),
			Width:    src.Bounds().Dx(),
			Height:   src.Bounds().Dy(),
		}, nil
	}

	return &Image{
		Buffer:   encoded,
		FileName: replaceExtension(fileName, n.opts.Format),
		MimeType: mimeType(n.opts.Format),
		Size:     int64(len(encoded)),
		Width:    resized.Bounds().Dx(),
		Height:   resized.Bounds().Dy(),
	}, nil
}

func (n *Normalizer) resize(src image.Image) *image.NRGBA {
	w := src.Bounds().Dx()
	h := src.Bounds().Dy()
	maxW, maxH := n.opts.MaxWidth, n.opts.MaxHeight

	switch n.opts.Fit {
	case FitCover:
		return imaging.Fill(src, maxW, maxH, imaging.Center, imaging.Lanczos)
	case FitContain:
		fitted := fitNoUpscale(src, w, h, maxW, maxH)
		canvas := imaging.New(maxW, maxH, color.White)
		return imaging.PasteCenter(canvas, fitted)
	case FitFill:
		return imaging.Resize(src, maxW, maxH, imaging.Lanczos)
	case FitOutside:
		scaleW := float64(maxW) / float64(w)
		scaleH := float64(maxH) / float64(h)
		scale := scaleW
		if scaleH > scale {
			scale = scaleH
		}
		return imaging.Resize(src, int(float64(w)*scale+0.5), 0, imaging.Lanczos)
	default: // FitInside
		return fitNoUpscale(src, w, h, maxW, maxH)
	}
}

// fitNoUpscale shrinks the source to fit within the box, preserving aspect
// ratio. A source already within bounds is returned at native dimensions.
func fitNoUpscale(src image.Image, w, h, maxW, maxH int) *image.NRGBA {
	if w <= maxW && h <= maxH {
		return imaging.Clone(src)
	}
	return imaging.Fit(src, maxW, maxH, imaging.Lanczos)
}

func (n *Normalizer) encode(img *image.NRGBA) ([]byte, error) {
	switch n.opts.Format {
	case FormatJPEG:
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.opts.Quality)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatPNG:
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatWebP:
		return n.encodeWebP(img, n.opts.Quality)
	default:
		return nil, fmt.Errorf("unknown target format %q", n.opts.Format)
	}
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseFormat maps a configuration string onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "webp":
		return FormatWebP, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("unknown target format %q", s)
	}
}

// ParseFit maps a configuration string onto a Fit mode.
func ParseFit(s string) (Fit, error) {
	switch strings.ToLower(s) {
	case "cover":
		return FitCover, nil
	case "contain":
		return FitContain, nil
	case "fill":
		return FitFill, nil
	case "inside":
		return FitInside, nil
	case "outside":
		return FitOutside, nil
	default:
		return "", fmt.Errorf("unknown resize fit %q", s)
	}
}

func replaceExtension(fileName string, format Format) string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if base == "" {
		base = "image"
	}
	return base + "." + string(format)
}

func mimeType(format Format) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "image/webp"
	}
}
