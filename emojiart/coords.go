package emojiart

import "math"

// Point is a location in screen units.
type Point struct {
	X, Y float64
}

// Offset is a translation in screen units.
type Offset struct {
	Width, Height float64
}

func (o Offset) Add(other Offset) Offset {
	return Offset{Width: o.Width + other.Width, Height: o.Height + other.Height}
}

func (o Offset) Scale(f float64) Offset {
	return Offset{Width: o.Width * f, Height: o.Height * f}
}

type Size struct {
	Width, Height float64
}

func (s Size) Center() Point {
	return Point{X: s.Width / 2, Y: s.Height / 2}
}

// ToModelCoordinates maps a screen point to integer model coordinates
// relative to origin. Non-positive zoom is treated as 1.
func ToModelCoordinates(screen, origin Point, pan Offset, zoom float64) (x, y int) {
	zoom = normalizeZoom(zoom)
	x = int(math.Round((screen.X - pan.Width - origin.X) / zoom))
	y = int(math.Round((screen.Y - pan.Height - origin.Y) / zoom))
	return x, y
}

// ToScreenCoordinates is the inverse of ToModelCoordinates.
func ToScreenCoordinates(x, y int, origin Point, pan Offset, zoom float64) Point {
	zoom = normalizeZoom(zoom)
	return Point{
		X: origin.X + float64(x)*zoom + pan.Width,
		Y: origin.Y + float64(y)*zoom + pan.Height,
	}
}

func normalizeZoom(zoom float64) float64 {
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return 1
	}
	return zoom
}
