package geometry

import (
	"image"
	"math"

	"github.com/cjeanneret/BoothGo/internal/config"
)

// GridPlan is the placement of photo cells on a frame canvas.
type GridPlan struct {
	Columns int // number of cell columns
	Rows    int // number of cell rows

	// Cells lists the cell rectangles row-major, top-left first.
	Cells []image.Rectangle
}

// CalculateGridPlan lays out the photo cells of a frame.
func CalculateGridPlan(f config.FrameConfig) *GridPlan {
	plan := &GridPlan{Columns: f.Columns, Rows: f.Rows}
	for row := 0; row < f.Rows; row++ {
		for col := 0; col < f.Columns; col++ {
			x := f.OriginX + col*(f.CellWidth+f.GapX)
			y := f.OriginY + row*(f.CellHeight+f.GapY)
			plan.Cells = append(plan.Cells, image.Rect(x, y, x+f.CellWidth, y+f.CellHeight))
		}
	}
	return plan
}

// Cell returns the rectangle of the i-th cell (row-major).
func (p *GridPlan) Cell(i int) (image.Rectangle, bool) {
	if i < 0 || i >= len(p.Cells) {
		return image.Rectangle{}, false
	}
	return p.Cells[i], true
}

// CoverCrop returns the largest centered region of src with the aspect
// ratio of dst. Scaling that region onto dst fills it without distortion.
func CoverCrop(src image.Rectangle, dst image.Point) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw <= 0 || sh <= 0 || dst.X <= 0 || dst.Y <= 0 {
		return src
	}
	srcRatio := float64(sw) / float64(sh)
	dstRatio := float64(dst.X) / float64(dst.Y)

	cw, ch := sw, sh
	if srcRatio > dstRatio {
		cw = int(math.Round(float64(sh) * dstRatio))
	} else if srcRatio < dstRatio {
		ch = int(math.Round(float64(sw) / dstRatio))
	}
	if cw < 1 {
		cw = 1
	}
	if ch < 1 {
		ch = 1
	}
	x := src.Min.X + (sw-cw)/2
	y := src.Min.Y + (sh-ch)/2
	return image.Rect(x, y, x+cw, y+ch)
}
