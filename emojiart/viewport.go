package emojiart

import (
	"image"
	"slices"
)

// DefaultEmojiFontSize is the on-screen size of a freshly dropped emoji.
const DefaultEmojiFontSize = 40

// Canvas is the part of a Document that gestures drive.
type Canvas interface {
	AddEmoji(text string, x, y int, size float64) Emoji
	MoveEmoji(id int, dx, dy float64) bool
	ScaleEmoji(id int, factor float64) bool
	RemoveEmoji(id int) bool
	SetBackground(b Background)
	BackgroundImage() image.Image
}

// Viewport is the per-view gesture state over a Canvas: zoom, pan and the
// set of selected emoji ids. Pan offsets are kept in model units.
// A Viewport belongs to one view and is not safe for concurrent use.
type Viewport struct {
	size Size

	steadyZoom  float64
	gestureZoom float64

	steadyPan  Offset
	gesturePan Offset

	selection      map[int]struct{}
	selectionDrag  Offset
	selectionScale float64
}

func NewViewport(size Size) *Viewport {
	return &Viewport{
		size:           size,
		steadyZoom:     1,
		gestureZoom:    1,
		selection:      make(map[int]struct{}),
		selectionScale: 1,
	}
}

// RestoreViewport rebuilds a viewport from a settled zoom and a pan given in
// screen units, as a client reports them.
func RestoreViewport(size Size, zoom float64, pan Offset) *Viewport {
	v := NewViewport(size)
	v.steadyZoom = normalizeZoom(zoom)
	v.steadyPan = pan.Scale(1 / v.steadyZoom)
	return v
}

func (v *Viewport) Size() Size { return v.size }

func (v *Viewport) SetSize(size Size) { v.size = size }

func (v *Viewport) Zoom() float64 {
	return v.steadyZoom * v.gestureZoom
}

// Pan is the current pan in screen units.
func (v *Viewport) Pan() Offset {
	return v.steadyPan.Add(v.gesturePan).Scale(v.Zoom())
}

// Origin is the screen point model (0, 0) maps to before panning.
func (v *Viewport) Origin() Point {
	return v.size.Center()
}

func (v *Viewport) ToModel(p Point) (x, y int) {
	return ToModelCoordinates(p, v.Origin(), v.Pan(), v.Zoom())
}

func (v *Viewport) ToScreen(x, y int) Point {
	return ToScreenCoordinates(x, y, v.Origin(), v.Pan(), v.Zoom())
}

// EmojiPosition is where e is drawn, including an in-flight selection drag.
func (v *Viewport) EmojiPosition(e Emoji) Point {
	p := v.ToScreen(e.X, e.Y)
	if v.IsSelected(e.ID) {
		drag := v.selectionDrag.Scale(v.Zoom())
		p.X += drag.Width
		p.Y += drag.Height
	}
	return p
}

// EmojiFontSize is the size e is drawn at, including an in-flight pinch.
func (v *Viewport) EmojiFontSize(e Emoji) float64 {
	size := float64(e.Size) * v.Zoom()
	if v.IsSelected(e.ID) {
		size *= v.selectionScale
	}
	return size
}

func (v *Viewport) ToggleSelection(id int) {
	if _, ok := v.selection[id]; ok {
		delete(v.selection, id)
		return
	}
	v.selection[id] = struct{}{}
}

func (v *Viewport) IsSelected(id int) bool {
	_, ok := v.selection[id]
	return ok
}

// Selection returns the selected ids in ascending order.
func (v *Viewport) Selection() []int {
	ids := make([]int, 0, len(v.selection))
	for id := range v.selection {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (v *Viewport) ClearSelection() {
	clear(v.selection)
	v.selectionDrag = Offset{}
	v.selectionScale = 1
}

// DeleteSelection removes every selected emoji, then clears the selection.
func (v *Viewport) DeleteSelection(c Canvas) {
	for _, id := range v.Selection() {
		c.RemoveEmoji(id)
	}
	v.ClearSelection()
}

// TapBackground deselects everything.
func (v *Viewport) TapBackground() {
	v.ClearSelection()
}

// DragChanged tracks an in-flight drag; translation is in screen units.
func (v *Viewport) DragChanged(translation Offset) {
	delta := translation.Scale(1 / v.Zoom())
	if len(v.selection) == 0 {
		v.gesturePan = delta
		return
	}
	v.selectionDrag = delta
}

// DragEnded pans the canvas when nothing is selected; otherwise it moves
// every selected emoji and clears the selection.
func (v *Viewport) DragEnded(c Canvas, translation Offset) {
	delta := translation.Scale(1 / v.Zoom())
	v.gesturePan = Offset{}
	if len(v.selection) == 0 {
		v.steadyPan = v.steadyPan.Add(delta)
		return
	}
	for _, id := range v.Selection() {
		c.MoveEmoji(id, delta.Width, delta.Height)
	}
	v.ClearSelection()
}

// PinchChanged tracks an in-flight pinch.
func (v *Viewport) PinchChanged(scale float64) {
	if len(v.selection) == 0 {
		v.gestureZoom = normalizeZoom(scale)
		return
	}
	v.selectionScale = normalizeZoom(scale)
}

// PinchEnded zooms the canvas when nothing is selected; otherwise it scales
// every selected emoji once and clears the selection.
func (v *Viewport) PinchEnded(c Canvas, scale float64) {
	scale = normalizeZoom(scale)
	v.gestureZoom = 1
	if len(v.selection) == 0 {
		v.steadyZoom *= scale
		return
	}
	for _, id := range v.Selection() {
		c.ScaleEmoji(id, scale)
	}
	v.ClearSelection()
}

// ZoomToFit resets the pan and zooms so an image of the given size fits the
// viewport. It reports false when either size is degenerate.
func (v *Viewport) ZoomToFit(img Size) bool {
	if img.Width <= 0 || img.Height <= 0 || v.size.Width <= 0 || v.size.Height <= 0 {
		return false
	}
	v.steadyPan = Offset{}
	v.gesturePan = Offset{}
	v.steadyZoom = min(v.size.Width/img.Width, v.size.Height/img.Height)
	return true
}

// DoubleTap fits the canvas background image, if there is one.
func (v *Viewport) DoubleTap(c Canvas) bool {
	return v.ZoomToFit(ImageSize(c.BackgroundImage()))
}

// Drop applies dropped content at screen point at.
func (v *Viewport) Drop(c Canvas, d Drop, at Point) (ResolvedDrop, error) {
	resolved, err := d.Resolve()
	if err != nil {
		return resolved, err
	}
	switch resolved.Kind {
	case DropURL, DropImageData:
		c.SetBackground(resolved.Background)
	case DropEmoji:
		x, y := v.ToModel(at)
		resolved.Added = c.AddEmoji(resolved.Emoji, x, y, DefaultEmojiFontSize/v.Zoom())
	}
	return resolved, nil
}
