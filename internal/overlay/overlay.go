// Package overlay renders detection results onto a transparent surface the
// size of the display.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var (
	MatchColor   = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff} // #22c55e
	UnknownColor = color.RGBA{R: 0x9c, G: 0xa3, B: 0xaf, A: 0xff} // #9ca3af
	LabelText    = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

const (
	matchLineWidth   = 3
	unknownLineWidth = 2
	labelPadding     = 4
)

// Canvas is a drawing surface shared between the detection loop (writer) and
// HTTP readers. All methods are safe for concurrent use.
type Canvas struct {
	rect image.Rectangle

	mu  sync.RWMutex
	img *image.RGBA
}

func NewCanvas(width, height int) *Canvas {
	r := image.Rect(0, 0, width, height)
	return &Canvas{rect: r, img: image.NewRGBA(r)}
}

// Bounds returns the surface size.
func (c *Canvas) Bounds() image.Rectangle {
	return c.rect
}

// Clear resets every pixel to transparent.
func (c *Canvas) Clear() {
	c.Redraw(func(*Frame) {})
}

// Redraw draws a new overlay from scratch and swaps it in at once. Readers
// see either the previous overlay or the finished new one, never a partial
// frame.
func (c *Canvas) Redraw(paint func(f *Frame)) {
	f := &Frame{img: image.NewRGBA(c.rect)}
	paint(f)
	c.mu.Lock()
	c.img = f.img
	c.mu.Unlock()
}

// DrawMatch draws a match on top of the current overlay.
func (c *Canvas) DrawMatch(box facematch.Box, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	(&Frame{img: c.img}).DrawMatch(box, label)
}

// DrawUnknown draws an unknown face on top of the current overlay.
func (c *Canvas) DrawUnknown(box facematch.Box) {
	c.mu.Lock()
	defer c.mu.Unlock()
	(&Frame{img: c.img}).DrawUnknown(box)
}

// Frame is an overlay being drawn. It is owned by one goroutine.
type Frame struct {
	img *image.RGBA
}

// DrawMatch outlines a recognized face and writes its label above the box,
// or inside it when the box touches the top edge.
func (f *Frame) DrawMatch(box facematch.Box, label string) {
	r := box.Rect()
	f.outline(r, MatchColor, matchLineWidth)
	f.label(r, label)
}

// DrawUnknown outlines a face that matched nobody.
func (f *Frame) DrawUnknown(box facematch.Box) {
	f.outline(box.Rect(), UnknownColor, unknownLineWidth)
}

func (f *Frame) outline(r image.Rectangle, col color.Color, width int) {
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(f.img, e.Intersect(f.img.Bounds()), src, image.Point{}, draw.Src)
	}
}

func (f *Frame) label(r image.Rectangle, text string) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: f.img, Src: image.NewUniform(LabelText), Face: face}
	textWidth := d.MeasureString(text).Ceil()
	height := face.Height + 2*labelPadding

	top := r.Min.Y - height
	if top < 0 {
		top = r.Min.Y
	}
	bg := image.Rect(r.Min.X, top, r.Min.X+textWidth+2*labelPadding, top+height)
	draw.Draw(f.img, bg.Intersect(f.img.Bounds()), image.NewUniform(MatchColor), image.Point{}, draw.Src)

	d.Dot = fixed.P(bg.Min.X+labelPadding, bg.Min.Y+labelPadding+face.Ascent)
	d.DrawString(text)
}

// Snapshot returns a copy of the current surface.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := image.NewRGBA(c.rect)
	copy(cp.Pix, c.img.Pix)
	return cp
}

// PNG encodes the current surface.
func (c *Canvas) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.Snapshot()); err != nil {
		return nil, fmt.Errorf("encoding overlay: %w", err)
	}
	return buf.Bytes(), nil
}
