package compose

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/logic/geometry"
)

// Layout renders the base photo of a frame: the background, each photo
// cover-fitted into its cell and the frame cover on top. refs lists the
// photo for every cell in cell order.
func Layout(ctx context.Context, frame config.FrameConfig, refs []string, res Resolver) (*image.RGBA, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	if frame.Background != "" {
		if err := drawFull(ctx, canvas, frame.Background, res); err != nil {
			return nil, err
		}
	}

	plan := geometry.CalculateGridPlan(frame)
	if len(refs) > len(plan.Cells) {
		return nil, fmt.Errorf("frame %s has %d cells, got %d photos", frame.Name, len(plan.Cells), len(refs))
	}
	for i, ref := range refs {
		src, err := res.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: photo %d (%s): %v", ErrResolution, i, ref, err)
		}
		cell := plan.Cells[i]
		crop := geometry.CoverCrop(src.Bounds(), cell.Size())
		if crop.Empty() {
			continue
		}
		xdraw.BiLinear.Transform(canvas, cellTransform(cell, crop, frame.Mirror), src, crop, xdraw.Src, nil)
	}

	if frame.Cover != "" {
		if err := drawFull(ctx, canvas, frame.Cover, res); err != nil {
			return nil, err
		}
	}
	debug.Verbose("Layout: frame %s, %d photos", frame.Name, len(refs))
	return canvas, nil
}

// cellTransform scales crop onto cell, flipping horizontally when mirror is set.
func cellTransform(cell, crop image.Rectangle, mirror bool) f64.Aff3 {
	kx := float64(cell.Dx()) / float64(crop.Dx())
	ky := float64(cell.Dy()) / float64(crop.Dy())
	ty := float64(cell.Min.Y) - ky*float64(crop.Min.Y)
	if mirror {
		return f64.Aff3{-kx, 0, float64(cell.Max.X) + kx*float64(crop.Min.X), 0, ky, ty}
	}
	return f64.Aff3{kx, 0, float64(cell.Min.X) - kx*float64(crop.Min.X), 0, ky, ty}
}

func drawFull(ctx context.Context, canvas *image.RGBA, ref string, res Resolver) error {
	src, err := res.Resolve(ctx, ref)
	if err != nil {
		return fmt.Errorf("%w: frame art %s: %v", ErrResolution, ref, err)
	}
	xdraw.BiLinear.Scale(canvas, canvas.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return nil
}
