// Package compose flattens the kiosk output: frame layout, color filters
// and the sticker scene are rendered into one RGBA image and encoded once
// as PNG for printing and upload.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/logic/overlay"
)

// ErrResolution is returned when an image reference cannot be turned into
// pixels. No partial composite is produced.
var ErrResolution = errors.New("image resolution failed")

// Result is the flattened export image and its PNG encoding.
type Result struct {
	Image *image.RGBA
	PNG   []byte
}

// Compose draws base at its natural size, then every element bottom to top,
// rotated and scaled around its own center. The same inputs always produce
// the same PNG bytes.
func Compose(ctx context.Context, base image.Image, elements []overlay.Element, res Resolver) (*Result, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: no base photo", ErrResolution)
	}
	b := base.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), base, b.Min, draw.Src)

	for i, e := range elements {
		src, err := res.Resolve(ctx, e.Asset)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d (%s): %v", ErrResolution, i, e.Asset, err)
		}
		sb := src.Bounds()
		if e.Scale == 0 || e.Width <= 0 || e.Height <= 0 || sb.Empty() {
			continue
		}
		xdraw.BiLinear.Transform(dst, elementTransform(e, sb), src, sb, xdraw.Over, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	debug.Verbose("Compose: %dx%d, %d elements, %d bytes", b.Dx(), b.Dy(), len(elements), buf.Len())
	return &Result{Image: dst, PNG: buf.Bytes()}, nil
}

// elementTransform maps source pixels of the element asset onto the base:
// the asset is stretched to Width x Height, scaled, rotated about its center
// and centered on (X, Y).
func elementTransform(e overlay.Element, sb image.Rectangle) f64.Aff3 {
	sin, cos := math.Sincos(e.Rotation)
	kx := e.Scale * e.Width / float64(sb.Dx())
	ky := e.Scale * e.Height / float64(sb.Dy())
	ox := -e.Scale * e.Width / 2
	oy := -e.Scale * e.Height / 2

	a, b := cos*kx, -sin*ky
	d, f := sin*kx, cos*ky
	tx := e.X + cos*ox - sin*oy
	ty := e.Y + sin*ox + cos*oy
	// Source coordinates start at sb.Min, not at the origin.
	tx -= a*float64(sb.Min.X) + b*float64(sb.Min.Y)
	ty -= d*float64(sb.Min.X) + f*float64(sb.Min.Y)
	return f64.Aff3{a, b, tx, d, f, ty}
}
