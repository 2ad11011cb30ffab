package overlay

import (
	"bytes"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func TestCanvas_DrawMatch(t *testing.T) {
	c := NewCanvas(200, 150)
	c.DrawMatch(facematch.Box{X: 50, Y: 60, Width: 40, Height: 40}, "Jan")
	img := c.Snapshot()

	assert.Equal(t, MatchColor, img.RGBAAt(50, 80), "left edge")
	assert.Equal(t, MatchColor, img.RGBAAt(52, 80), "line width 3")
	assert.Equal(t, color.RGBA{}, img.RGBAAt(53, 80), "inside stays transparent")
	assert.Equal(t, MatchColor, img.RGBAAt(89, 99), "bottom right corner")

	// label box sits above the face
	assert.Equal(t, MatchColor, img.RGBAAt(51, 60-2))
}

func TestCanvas_LabelInsideAtTopEdge(t *testing.T) {
	c := NewCanvas(100, 100)
	c.DrawMatch(facematch.Box{X: 10, Y: 0, Width: 60, Height: 60}, "A")
	img := c.Snapshot()
	assert.Equal(t, MatchColor, img.RGBAAt(12, 5))
}

func TestCanvas_DrawUnknown(t *testing.T) {
	c := NewCanvas(100, 100)
	c.DrawUnknown(facematch.Box{X: 10, Y: 10, Width: 30, Height: 30})
	img := c.Snapshot()

	assert.Equal(t, UnknownColor, img.RGBAAt(10, 20))
	assert.Equal(t, UnknownColor, img.RGBAAt(11, 20))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(12, 20), "line width 2")
	assert.Equal(t, color.RGBA{}, img.RGBAAt(11, 8), "no label for unknown faces")
}

func TestCanvas_ClearAndClip(t *testing.T) {
	c := NewCanvas(50, 50)
	c.DrawMatch(facematch.Box{X: 30, Y: 30, Width: 100, Height: 100}, "Overflowing")
	assert.Equal(t, MatchColor, c.Snapshot().RGBAAt(30, 40))

	c.Clear()
	img := c.Snapshot()
	for i := 0; i < len(img.Pix); i++ {
		if img.Pix[i] != 0 {
			t.Fatalf("pixel byte %d not cleared", i)
		}
	}
}

func TestCanvas_PNG(t *testing.T) {
	c := NewCanvas(64, 48)
	data, err := c.PNG()
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestCanvas_RedrawReplacesPreviousOverlay(t *testing.T) {
	c := NewCanvas(100, 100)
	c.DrawUnknown(facematch.Box{X: 10, Y: 10, Width: 30, Height: 30})

	c.Redraw(func(f *Frame) {
		f.DrawMatch(facematch.Box{X: 50, Y: 50, Width: 30, Height: 30}, "")
	})
	img := c.Snapshot()
	assert.Equal(t, color.RGBA{}, img.RGBAAt(10, 20), "previous face cleared")
	assert.Equal(t, MatchColor, img.RGBAAt(50, 60))
}

func TestCanvas_SnapshotNeverSeesPartialRedraw(t *testing.T) {
	c := NewCanvas(120, 120)
	box := facematch.Box{X: 40, Y: 40, Width: 40, Height: 40}
	paint := func(f *Frame) { f.DrawMatch(box, "Jan") }
	c.Redraw(paint)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 300 {
			c.Redraw(paint)
		}
	}()

	blank := 0
	for range 300 {
		if c.Snapshot().RGBAAt(40, 60) != MatchColor {
			blank++
		}
	}
	wg.Wait()
	assert.Zero(t, blank, "snapshots taken between clear and redraw")
}
