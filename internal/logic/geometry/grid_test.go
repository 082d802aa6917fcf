package geometry

import (
	"image"
	"testing"

	"github.com/cjeanneret/BoothGo/internal/config"
)

func newFrame(cols, rows int) config.FrameConfig {
	return config.FrameConfig{
		Name: "test", MaxSelections: cols * rows,
		Width: 1000, Height: 1000,
		Columns: cols, Rows: rows,
		CellWidth: 200, CellHeight: 100,
		OriginX: 10, OriginY: 20,
		GapX: 5, GapY: 7,
	}
}

func TestCalculateGridPlan_RowMajor(t *testing.T) {
	plan := CalculateGridPlan(newFrame(2, 3))

	if plan.Columns != 2 || plan.Rows != 3 {
		t.Fatalf("plan = %dx%d, want 2x3", plan.Columns, plan.Rows)
	}
	if len(plan.Cells) != 6 {
		t.Fatalf("len(Cells) = %d, want 6", len(plan.Cells))
	}
	want := []image.Rectangle{
		image.Rect(10, 20, 210, 120),
		image.Rect(215, 20, 415, 120),
		image.Rect(10, 127, 210, 227),
		image.Rect(215, 127, 415, 227),
		image.Rect(10, 234, 210, 334),
		image.Rect(215, 234, 415, 334),
	}
	for i, w := range want {
		if plan.Cells[i] != w {
			t.Errorf("cell %d = %v, want %v", i, plan.Cells[i], w)
		}
	}
}

func TestGridPlan_Cell(t *testing.T) {
	plan := CalculateGridPlan(newFrame(1, 1))
	if _, ok := plan.Cell(0); !ok {
		t.Error("Cell(0) should exist")
	}
	if _, ok := plan.Cell(1); ok {
		t.Error("Cell(1) should not exist")
	}
	if _, ok := plan.Cell(-1); ok {
		t.Error("Cell(-1) should not exist")
	}
}

func TestCalculateGridPlan_DefaultFramesFitCanvas(t *testing.T) {
	for _, f := range config.DefaultFrames() {
		canvas := image.Rect(0, 0, f.Width, f.Height)
		plan := CalculateGridPlan(f)
		if len(plan.Cells) < f.MaxSelections {
			t.Errorf("%s: %d cells for %d photos", f.Name, len(plan.Cells), f.MaxSelections)
		}
		for i, c := range plan.Cells {
			if !c.In(canvas) {
				t.Errorf("%s: cell %d %v outside canvas %v", f.Name, i, c, canvas)
			}
		}
	}
}

func TestCoverCrop(t *testing.T) {
	cases := []struct {
		name string
		src  image.Rectangle
		dst  image.Point
		want image.Rectangle
	}{
		{"same_ratio", image.Rect(0, 0, 400, 300), image.Pt(200, 150), image.Rect(0, 0, 400, 300)},
		{"wide_source", image.Rect(0, 0, 400, 100), image.Pt(100, 100), image.Rect(150, 0, 250, 100)},
		{"tall_source", image.Rect(0, 0, 100, 400), image.Pt(200, 100), image.Rect(0, 175, 100, 225)},
		{"offset_source", image.Rect(10, 10, 410, 110), image.Pt(1, 1), image.Rect(160, 10, 260, 110)},
		{"degenerate_dst", image.Rect(0, 0, 10, 10), image.Pt(0, 5), image.Rect(0, 0, 10, 10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CoverCrop(tc.src, tc.dst); got != tc.want {
				t.Errorf("CoverCrop = %v, want %v", got, tc.want)
			}
		})
	}
}
