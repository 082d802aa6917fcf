package compose

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
)

// ErrUnknownFilter is returned for a filter name that is not defined.
var ErrUnknownFilter = errors.New("unknown filter")

// Effect is one CSS filter function, e.g. brightness(1.2).
type Effect struct {
	Op    string
	Value float64
}

// Filter is a named chain of effects applied in order.
type Filter struct {
	Name    string
	Effects []Effect
}

var filters = map[string]Filter{
	"personality": {"personality", []Effect{{"brightness", 1.2}, {"saturate", 1.1}, {"contrast", 1.1}}},
	"natural":     {"natural", []Effect{{"contrast", 1.8}, {"brightness", 1.1}}},
	"pink":        {"pink", []Effect{{"saturate", 1.2}, {"contrast", 1.1}, {"brightness", 1.1}}},
	"classic":     {"classic", []Effect{{"sepia", 0.3}, {"saturate", 1.2}, {"contrast", 0.8}, {"brightness", 1.1}}},
	"bw":          {"bw", []Effect{{"grayscale", 1}, {"brightness", 1.1}}},
}

// LookupFilter returns the filter called name. "" and "none" mean no filter.
func LookupFilter(name string) (Filter, error) {
	if name == "" || name == "none" {
		return Filter{Name: "none"}, nil
	}
	f, ok := filters[name]
	if !ok {
		return Filter{}, fmt.Errorf("%w %q", ErrUnknownFilter, name)
	}
	return f, nil
}

// FilterNames lists the available filters.
func FilterNames() []string {
	names := make([]string, 0, len(filters))
	for n := range filters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Adjust scales an effect value toward identity: 1 + (v-1)·intensity/100,
// rounded to two decimals like the kiosk preview does.
func Adjust(v float64, intensity int) float64 {
	intensity = max(0, min(100, intensity))
	return math.Round((1+(v-1)*float64(intensity)/100)*100) / 100
}

// Apply filters img in place at the given intensity (0-100).
func (f Filter) Apply(img *image.RGBA, intensity int) {
	if len(f.Effects) == 0 {
		return
	}
	ops := make([]func(*[3]float64), 0, len(f.Effects))
	for _, e := range f.Effects {
		if op := effectOp(e.Op, Adjust(e.Value, intensity)); op != nil {
			ops = append(ops, op)
		}
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			a := float64(row[i+3])
			if a == 0 {
				continue
			}
			// Effects work on straight (non-premultiplied) color.
			c := [3]float64{
				float64(row[i]) / a,
				float64(row[i+1]) / a,
				float64(row[i+2]) / a,
			}
			for _, op := range ops {
				op(&c)
			}
			for k := 0; k < 3; k++ {
				row[i+k] = uint8(math.Round(c[k] * a))
			}
		}
	}
}

func effectOp(name string, v float64) func(*[3]float64) {
	switch name {
	case "brightness":
		return func(c *[3]float64) {
			for k := range c {
				c[k] = clamp01(c[k] * v)
			}
		}
	case "contrast":
		return func(c *[3]float64) {
			for k := range c {
				c[k] = clamp01((c[k]-0.5)*v + 0.5)
			}
		}
	case "saturate":
		return matrixOp([9]float64{
			0.213 + 0.787*v, 0.715 - 0.715*v, 0.072 - 0.072*v,
			0.213 - 0.213*v, 0.715 + 0.285*v, 0.072 - 0.072*v,
			0.213 - 0.213*v, 0.715 - 0.715*v, 0.072 + 0.928*v,
		})
	case "sepia":
		a := 1 - clamp01(v)
		return matrixOp([9]float64{
			0.393 + 0.607*a, 0.769 - 0.769*a, 0.189 - 0.189*a,
			0.349 - 0.349*a, 0.686 + 0.314*a, 0.168 - 0.168*a,
			0.272 - 0.272*a, 0.534 - 0.534*a, 0.131 + 0.869*a,
		})
	case "grayscale":
		a := 1 - clamp01(v)
		return matrixOp([9]float64{
			0.2126 + 0.7874*a, 0.7152 - 0.7152*a, 0.0722 - 0.0722*a,
			0.2126 - 0.2126*a, 0.7152 + 0.2848*a, 0.0722 - 0.0722*a,
			0.2126 - 0.2126*a, 0.7152 - 0.7152*a, 0.0722 + 0.9278*a,
		})
	}
	return nil
}

func matrixOp(m [9]float64) func(*[3]float64) {
	return func(c *[3]float64) {
		r, g, b := c[0], c[1], c[2]
		c[0] = clamp01(m[0]*r + m[1]*g + m[2]*b)
		c[1] = clamp01(m[3]*r + m[4]*g + m[5]*b)
		c[2] = clamp01(m[6]*r + m[7]*g + m[8]*b)
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
