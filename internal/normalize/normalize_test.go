package normalize

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture png: %v", err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestOversizedPayloadRejectedBeforeDecode(t *testing.T) {
	n := New(100, DefaultOptions())

	// not a decodable image: the size gate must fire first
	raw := bytes.Repeat([]byte{0xAB}, 250)
	_, err := n.Normalize(raw, "big.png", "image/png")
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), "250") || !strings.Contains(err.Error(), "100") {
		t.Errorf("error should carry actual and maximum sizes, got %q", err.Error())
	}
}

func TestRejectsNonImageContentType(t *testing.T) {
	n := New(0, DefaultOptions())

	if _, err := n.Normalize([]byte("hello"), "notes.txt", "text/plain"); !errors.Is(err, ErrUnsupportedMediaType) {
		t.Errorf("expected ErrUnsupportedMediaType for text/plain, got %v", err)
	}
	// no hint, no recognized extension
	if _, err := n.Normalize([]byte("hello"), "mystery.bin", ""); !errors.Is(err, ErrUnsupportedMediaType) {
		t.Errorf("expected ErrUnsupportedMediaType for unknown extension, got %v", err)
	}
}

func TestRejectsUndecodableImage(t *testing.T) {
	n := New(0, DefaultOptions())
	_, err := n.Normalize([]byte("definitely not pixels"), "fake.png", "image/png")
	if !errors.Is(err, ErrUnsupportedMediaType) {
		t.Errorf("expected ErrUnsupportedMediaType for garbage bytes, got %v", err)
	}
}

func TestResizeNeverUpscales(t *testing.T) {
	n := New(0, Options{MaxWidth: 100, MaxHeight: 100, Format: FormatPNG, Fit: FitInside})

	out, err := n.Normalize(makePNG(t, 10, 8), "small.png", "image/png")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if out.Width != 10 || out.Height != 8 {
		t.Errorf("expected native 10x8, got %dx%d", out.Width, out.Height)
	}
	if w, h := decodeDims(t, out.Buffer); w != 10 || h != 8 {
		t.Errorf("encoded output is %dx%d, expected 10x8", w, h)
	}
}

func TestResizeShrinksToBoundingBox(t *testing.T) {
	n := New(0, Options{MaxWidth: 50, MaxHeight: 50, Format: FormatPNG, Fit: FitInside})

	out, err := n.Normalize(makePNG(t, 200, 100), "wide.png", "image/png")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	// aspect preserved: 200x100 into 50x50 -> 50x25
	if out.Width != 50 || out.Height != 25 {
		t.Errorf("expected 50x25, got %dx%d", out.Width, out.Height)
	}
}

func TestFitModes(t *testing.T) {
	src := makePNG(t, 200, 100)

	cases := []struct {
		fit  Fit
		w, h int
	}{
		{FitCover, 50, 50},
		{FitContain, 50, 50},
		{FitFill, 50, 50},
		{FitOutside, 100, 50},
	}
	for _, tc := range cases {
		t.Run(string(tc.fit), func(t *testing.T) {
			n := New(0, Options{MaxWidth: 50, MaxHeight: 50, Format: FormatPNG, Fit: tc.fit})
			out, err := n.Normalize(src, "img.png", "image/png")
			if err != nil {
				t.Fatalf("normalize failed: %v", err)
			}
			if out.Width != tc.w || out.Height != tc.h {
				t.Errorf("fit %s: expected %dx%d, got %dx%d", tc.fit, tc.w, tc.h, out.Width, out.Height)
			}
		})
	}
}

func TestRenamesAndRelabelsForTargetFormat(t *testing.T) {
	n := New(0, Options{Format: FormatJPEG})

	out, err := n.Normalize(makePNG(t, 20, 20), "course-banner.png", "image/png")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if out.FileName != "course-banner.jpeg" {
		t.Errorf("expected course-banner.jpeg, got %q", out.FileName)
	}
	if out.MimeType != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", out.MimeType)
	}
	if out.Size != int64(len(out.Buffer)) {
		t.Errorf("size %d does not match buffer length %d", out.Size, len(out.Buffer))
	}
}

func TestContentTypeInferredFromExtension(t *testing.T) {
	n := New(0, Options{Format: FormatPNG})

	if _, err := n.Normalize(makePNG(t, 5, 5), "thumb.png", ""); err != nil {
		t.Errorf("expected extension inference to accept .png, got %v", err)
	}
}

func TestWebPEncodeFallbackRelabelsOriginalBytes(t *testing.T) {
	raw := makePNG(t, 30, 30)

	n := New(0, DefaultOptions())
	n.encodeWebP = func(img image.Image, quality int) ([]byte, error) {
		return nil, errors.New("simulated encoder failure")
	}

	out, err := n.Normalize(raw, "photo.png", "image/png")
	if err != nil {
		t.Fatalf("expected fallback, got error: %v", err)
	}
	if !bytes.Equal(out.Buffer, raw) {
		t.Errorf("fallback must return the original bytes unchanged")
	}
	if out.FileName != "photo.webp" {
		t.Errorf("expected relabeled photo.webp, got %q", out.FileName)
	}
	if out.MimeType != "image/webp" {
		t.Errorf("expected image/webp, got %q", out.MimeType)
	}
}

func TestNonDefaultEncodeFailurePropagates(t *testing.T) {
	// an unknown target format fails in encode; only webp has a fallback
	n := New(0, DefaultOptions())
	n.opts.Format = Format("tiff")

	_, err := n.Normalize(makePNG(t, 10, 10), "img.png", "image/png")
	if !errors.Is(err, ErrEncodeFailure) {
		t.Errorf("expected ErrEncodeFailure, got %v", err)
	}
}

func TestParseOptions(t *testing.T) {
	if f, err := ParseFormat("JPG"); err != nil || f != FormatJPEG {
		t.Errorf("ParseFormat(JPG) = %v, %v", f, err)
	}
	if _, err := ParseFormat("bmp"); err == nil {
		t.Errorf("expected error for unsupported format")
	}
	if f, err := ParseFit("Inside"); err != nil || f != FitInside {
		t.Errorf("ParseFit(Inside) = %v, %v", f, err)
	}
	if _, err := ParseFit("stretch"); err == nil {
		t.Errorf("expected error for unknown fit")
	}
}
