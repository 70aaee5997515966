package game

import (
	"bytes"
	"image/color"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce   sync.Once
	fontSource *text.GoTextFaceSource
	fontErr    error
)

// newFace returns a Go Regular face at size pixels. The font source is
// parsed once.
func newFace(size float64) (text.Face, error) {
	fontOnce.Do(func() {
		fontSource, fontErr = text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return &text.GoTextFace{Source: fontSource, Size: size}, nil
}

// drawText draws s with its top-left corner at (x, y).
func drawText(dst *ebiten.Image, face text.Face, s string, x, y int, clr color.Color) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(float64(x), float64(y))
	op.ColorScale.ScaleWithColor(clr)
	text.Draw(dst, s, face, op)
}
