// Package geometry converts crop rectangles between the displayed-image
// coordinate space and the source image's natural pixel space.
//
// Every rectangle carries its unit and coordinate space so a rect can never
// silently cross a component boundary in the wrong system. Scaling is kept in
// floating point end to end; rounding happens once, in RoundPixels, right
// before a rect leaves for the persistence boundary. Rounding earlier
// accumulates drift across repeated recrop operations.
package geometry

import (
	"errors"
	"math"
)

// ErrInvalidRect is returned for degenerate rectangles (zero or negative
// width/height) and non-positive reference sizes.
var ErrInvalidRect = errors.New("geometry: invalid rect")

// Unit is the denomination of a rect's coordinates.
type Unit string

const (
	// Percent denominates coordinates as 0-100 of the container size.
	Percent Unit = "PERCENT"
	// Pixel denominates coordinates in pixels of the rect's space.
	Pixel Unit = "PIXEL"
)

// Space identifies which coordinate system a rect is expressed in.
type Space string

const (
	// Displayed is the on-screen rendered image size.
	Displayed Space = "DISPLAYED"
	// Natural is the source image's full-resolution pixel grid.
	Natural Space = "NATURAL"
)

// Size is a width/height pair in a single coordinate space.
type Size struct {
	Width  float64
	Height float64
}

func (s Size) valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Rect is a crop rectangle tagged with its unit and space.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
	Unit   Unit
	Space  Space
}

func (r Rect) valid() bool {
	return r.Width > 0 && r.Height > 0
}

// IntRect is a pixel rect rounded for the system boundary.
type IntRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// ToNatural converts a pixel rect in displayed space to natural space.
// Scale factors are independent per axis: containers may letterbox, so the
// caller's aspect ratio is not assumed preserved.
func ToNatural(r Rect, displayed, natural Size) (Rect, error) {
	if !r.valid() || !displayed.valid() || !natural.valid() {
		return Rect{}, ErrInvalidRect
	}

	scaleX := natural.Width / displayed.Width
	scaleY := natural.Height / displayed.Height

	return Rect{
		X:      r.X * scaleX,
		Y:      r.Y * scaleY,
		Width:  r.Width * scaleX,
		Height: r.Height * scaleY,
		Unit:   Pixel,
		Space:  Natural,
	}, nil
}

// ToDisplayed converts a pixel rect in natural space back to displayed space.
// It is the exact inverse of ToNatural for the same size pair.
func ToDisplayed(r Rect, displayed, natural Size) (Rect, error) {
	if !r.valid() || !displayed.valid() || !natural.valid() {
		return Rect{}, ErrInvalidRect
	}

	scaleX := displayed.Width / natural.Width
	scaleY := displayed.Height / natural.Height

	return Rect{
		X:      r.X * scaleX,
		Y:      r.Y * scaleY,
		Width:  r.Width * scaleX,
		Height: r.Height * scaleY,
		Unit:   Pixel,
		Space:  Displayed,
	}, nil
}

// PercentToPixel converts a percent-denominated rect to pixels of the given
// container. The rect's space is unchanged.
func PercentToPixel(r Rect, container Size) (Rect, error) {
	if !r.valid() || !container.valid() {
		return Rect{}, ErrInvalidRect
	}

	return Rect{
		X:      r.X / 100 * container.Width,
		Y:      r.Y / 100 * container.Height,
		Width:  r.Width / 100 * container.Width,
		Height: r.Height / 100 * container.Height,
		Unit:   Pixel,
		Space:  r.Space,
	}, nil
}

// ClampToBounds fits a natural-space pixel rect inside the source dimensions.
// Out-of-bounds rects are clamped rather than rejected: source dimensions may
// have changed between load and save, so stale client state is expected.
func ClampToBounds(r Rect, natural Size) Rect {
	if r.X < 0 {
		r.Width += r.X
		r.X = 0
	}
	if r.Y < 0 {
		r.Height += r.Y
		r.Y = 0
	}
	if r.X+r.Width > natural.Width {
		r.Width = natural.Width - r.X
	}
	if r.Y+r.Height > natural.Height {
		r.Height = natural.Height - r.Y
	}
	if r.Width < 0 {
		r.Width = 0
	}
	if r.Height < 0 {
		r.Height = 0
	}
	return r
}

// RoundPixels rounds a pixel rect to integers. This is the only place rounding
// happens; call it only when the rect is about to cross the system boundary.
func RoundPixels(r Rect) IntRect {
	return IntRect{
		X:      int(math.Round(r.X)),
		Y:      int(math.Round(r.Y)),
		Width:  int(math.Round(r.Width)),
		Height: int(math.Round(r.Height)),
	}
}
