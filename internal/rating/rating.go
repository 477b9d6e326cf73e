// Package rating converts pointer positions into fractional 0-5 star ratings
// and renders partially filled star sequences with a short text label.
package rating

import (
	"fmt"
	"math"
)

const (
	// MaxStars is the number of star positions and the upper bound of a rating.
	MaxStars = 5
	// Empty is the label shown for an unrated value.
	Empty = "—"
)

// Geometry is the measured horizontal extent of the input surface.
type Geometry struct {
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

// Star is a single rendered star position.
type Star struct {
	Fill        float64 `json:"fill"`
	ClipPercent float64 `json:"clip"`
}

// Snap maps the pointer offset inside one star segment to its granted fraction.
// Anywhere inside a segment grants at least a third of that star.
func Snap(p float64) float64 {
	switch {
	case p < 0.33:
		return 0.33
	case p < 0.67:
		return 0.5
	default:
		return 1.0
	}
}

// Normalize clamps v into [0, 5] and rounds it to two decimals.
func Normalize(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Min(MaxStars, math.Max(0, v))
	return math.Round(v*100) / 100
}

// Measurable reports whether g has a finite positive width.
func (g Geometry) Measurable() bool {
	return g.Width > 0 && !math.IsInf(g.Width, 0)
}

// ValueAt returns the snapped rating for a pointer at clientX over g.
// A surface without measurable width yields 0.
//
// p is computed in floating point, so a pointer sitting exactly on a
// threshold can land in the lower bucket (width 100, x=6.6 gives 0.33).
func ValueAt(g Geometry, clientX float64) float64 {
	if !g.Measurable() {
		return 0
	}
	x := clientX - g.Left
	starWidth := g.Width / MaxStars
	index := math.Floor(x / starWidth)
	p := (x - index*starWidth) / starWidth
	return Normalize(index + Snap(p))
}

// Fill is the fill fraction of the star at the 0-based starIndex.
func Fill(display float64, starIndex int) float64 {
	return math.Max(0, math.Min(1, display-float64(starIndex)))
}

// Stars renders the five star positions for a display value.
func Stars(display float64) [MaxStars]Star {
	display = Normalize(display)
	var stars [MaxStars]Star
	for i := range stars {
		fill := Fill(display, i)
		stars[i] = Star{Fill: fill, ClipPercent: (1 - fill) * 100}
	}
	return stars
}

// Label formats r for display: a dash for zero, vulgar fractions for thirds
// and halves, and a decimal suffix for any other fractional part.
func Label(r float64) string {
	r = Normalize(r)
	if r == 0 {
		return Empty
	}
	whole := math.Floor(r)
	cents := int(math.Round((r - whole) * 100))

	var frac string
	switch cents {
	case 0:
	case 33, 34:
		frac = "⅓"
	case 50:
		frac = "½"
	case 66, 67:
		frac = "⅔"
	default:
		frac = fmt.Sprintf(".%d", cents)
	}

	if whole > 0 {
		return fmt.Sprintf("%d%s", int(whole), frac)
	}
	return frac
}
