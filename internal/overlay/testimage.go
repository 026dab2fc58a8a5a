package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	TestImageWidth  = 800
	TestImageHeight = 600
)

var testBlue = color.RGBA{R: 0x34, G: 0x98, B: 0xdb, A: 0xff}

// RenderTestImage draws the blue "Test Image" card used to preview the
// overlay animation. Zero sizes fall back to 800x600.
func RenderTestImage(width, height int, at time.Time) ([]byte, error) {
	if width <= 0 {
		width = TestImageWidth
	}
	if height <= 0 {
		height = TestImageHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: testBlue}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	drawCentered(d, "Test Image", width, height/2-10)
	drawCentered(d, DisplayTime(at), width, height/2+14)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawCentered(d *font.Drawer, text string, width, y int) {
	w := d.MeasureString(text).Ceil()
	x := (width - w) / 2
	if x < 0 {
		x = 0
	}
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}
