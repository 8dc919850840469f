package report

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/icza/gox/imagex/colorx"
)

// Default diverging colormap endpoints: negative shifts are blue, positive
// shifts red, zero white.
const (
	DefaultLowColor  = "#2166ac"
	DefaultMidColor  = "#f7f7f7"
	DefaultHighColor = "#b2182b"
)

// ParseColor reads a #rrggbb or #rgb color code. An empty code is the
// transparent background.
func ParseColor(colorCode string) (color.NRGBA, error) {
	colorCode = strings.TrimSpace(colorCode)

	// Special case the background
	if strings.TrimPrefix(colorCode, "#") == "" {
		return color.NRGBA{}, nil
	}
	if !strings.HasPrefix(colorCode, "#") {
		colorCode = "#" + colorCode
	}

	c, err := colorx.ParseHexColor(colorCode)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color %q: %w", colorCode, err)
	}

	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}, nil
}

// Colormap maps a value to a color.
type Colormap interface {
	At(v float64) color.NRGBA
}

// Grayscale maps [Min, Max] onto black..white, clamping outside.
type Grayscale struct {
	Min, Max float64
}

func (g Grayscale) At(v float64) color.NRGBA {
	if math.IsNaN(v) || g.Max <= g.Min {
		return color.NRGBA{A: 255}
	}
	y := uint8(math.Round(255 * clamp01((v-g.Min)/(g.Max-g.Min))))
	return color.NRGBA{R: y, G: y, B: y, A: 255}
}

// Diverging maps [-Range, Range] through Low, Mid and High.
type Diverging struct {
	Range          float64
	Low, Mid, High color.NRGBA
}

// NewDiverging builds the default blue-white-red map over [-r, r].
func NewDiverging(r float64) Diverging {
	low, _ := ParseColor(DefaultLowColor)
	mid, _ := ParseColor(DefaultMidColor)
	high, _ := ParseColor(DefaultHighColor)
	return Diverging{Range: r, Low: low, Mid: mid, High: high}
}

func (d Diverging) At(v float64) color.NRGBA {
	if math.IsNaN(v) || d.Range <= 0 {
		return d.Mid
	}
	t := clamp01(math.Abs(v) / d.Range)
	if v < 0 {
		return lerp(d.Mid, d.Low, t)
	}
	return lerp(d.Mid, d.High, t)
}

func lerp(a, b color.NRGBA, t float64) color.NRGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + t*(float64(y)-float64(x))))
	}
	return color.NRGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
