/*
Package icon classifies and prepares the icon references stored on rules,
shop items and avatars.

PURPOSE:
  The ledger only ever stores a string. This package decides what kind of
  string it is and turns an uploaded image into an embedded reference that
  fits a byte budget.

KINDS:
  preset    One of catalog.Icons()
  glyph     Any other short emoji or text glyph
  remote    An http(s) URL, stored as given and never fetched
  embedded  A data:image/... URI produced by Compress

COMPRESSION:
  Compress decodes PNG, JPEG, GIF or WebP and re-encodes it as JPEG. It lowers
  the quality from 90 to 40 in steps of 10; if the result still does not fit
  it shrinks both sides to 75% and starts over. Uploads declaring more than
  MaxPixels are refused from the header alone.
*/
package icon

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/warp/points-park/catalog"
	"github.com/warp/points-park/points"
)

// Kind is the provenance of an icon reference.
type Kind string

const (
	KindInvalid  Kind = ""
	KindPreset   Kind = "preset"
	KindGlyph    Kind = "glyph"
	KindRemote   Kind = "remote"
	KindEmbedded Kind = "embedded"
)

const (
	// DefaultBudget is the largest embedded reference Compress produces by
	// default, in bytes of the final data URI.
	DefaultBudget = 200 * 1024

	// MaxGlyphRunes bounds a free-form glyph. Emoji sequences joined with
	// ZWJ can run to several runes.
	MaxGlyphRunes = 16

	// MaxPixels bounds the declared size of an upload. Decoding allocates
	// the full canvas before any pixel data is read.
	MaxPixels = 4096 * 4096

	embeddedPrefix = "data:image/"
	jpegPrefix     = "data:image/jpeg;base64,"

	maxQuality  = 90
	minQuality  = 40
	qualityStep = 10
	shrink      = 0.75
)

// ErrTooLarge means an image could not be brought under the budget.
var ErrTooLarge = errors.New("image does not fit the budget")

// ErrDimensions means an upload declares more than MaxPixels.
var ErrDimensions = errors.New("image dimensions exceed limit")

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classify returns the kind of ref, or KindInvalid.
func Classify(ref string) Kind {
	switch {
	case ref == "" || strings.TrimSpace(ref) == "":
		return KindInvalid
	case catalog.IsPresetIcon(ref):
		return KindPreset
	case strings.HasPrefix(ref, embeddedPrefix):
		if strings.Contains(ref, ";base64,") {
			return KindEmbedded
		}
		return KindInvalid
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		u, err := url.Parse(ref)
		if err != nil || u.Host == "" {
			return KindInvalid
		}
		return KindRemote
	case utf8.RuneCountInString(ref) <= MaxGlyphRunes && !strings.ContainsAny(ref, "\n\r\t"):
		return KindGlyph
	}
	return KindInvalid
}

// Validate returns a *points.ValidationError for field if ref is not a usable
// icon reference.
func Validate(field, ref string) error {
	if Classify(ref) == KindInvalid {
		return &points.ValidationError{Field: field, Message: "must be a preset icon, a short glyph, an http(s) URL or an embedded image"}
	}
	return nil
}

// =============================================================================
// COMPRESSION
// =============================================================================

// Compress decodes an uploaded image and returns a JPEG data URI no longer
// than budget bytes. A non-positive budget means DefaultBudget.
func Compress(r io.Reader, budget int) (string, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return "", fmt.Errorf("%s image %dx%d: %w", format, cfg.Width, cfg.Height, ErrDimensions)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	img := flatten(src)
	for {
		for q := maxQuality; q >= minQuality; q -= qualityStep {
			uri, err := encode(img, q)
			if err != nil {
				return "", err
			}
			if len(uri) <= budget {
				return uri, nil
			}
		}

		b := img.Bounds()
		w := int(float64(b.Dx()) * shrink)
		h := int(float64(b.Dy()) * shrink)
		if w < 1 || h < 1 {
			return "", fmt.Errorf("%s image: %w", format, ErrTooLarge)
		}
		img = scale(img, w, h)
	}
}

func encode(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return jpegPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// flatten paints src over white, since JPEG has no alpha channel.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func scale(src *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
