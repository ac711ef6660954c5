package thumbnail

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/wudi/pagekit/ir/raw"
	"github.com/wudi/pagekit/parser"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	paper  = color.RGBA{0xff, 0xff, 0xff, 0xff}
	border = color.RGBA{0xb0, 0xb0, 0xb0, 0xff}
	ink    = color.RGBA{0x40, 0x40, 0x40, 0xff}
)

// Placeholder is a Renderer that draws a blank sheet with the page's
// dimensions and its 1-based number. It stands in when no real
// rasterizer is configured.
type Placeholder struct {
	Parser *parser.DocumentParser
}

func (p Placeholder) Render(ctx context.Context, data []byte, pageIndex int, scale float64) (image.Image, error) {
	dp := p.Parser
	if dp == nil {
		dp = parser.NewDocumentParser(parser.Config{})
	}
	doc, err := dp.Parse(ctx, data)
	if err != nil {
		return nil, err
	}
	if pageIndex < 0 || pageIndex >= doc.PageCount() {
		return nil, fmt.Errorf("page %d of %d out of range", pageIndex+1, doc.PageCount())
	}
	page := doc.Pages[pageIndex]
	w, h := pageSize(ctx, doc.Loader, page)
	if page.Rotate%180 != 0 {
		w, h = h, w
	}
	pw, ph := max(1, int(w*scale+0.5)), max(1, int(h*scale+0.5))

	img := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: border}, image.Point{}, draw.Src)
	if pw > 2 && ph > 2 {
		draw.Draw(img, image.Rect(1, 1, pw-1, ph-1), &image.Uniform{C: paper}, image.Point{}, draw.Src)
	}

	label := fmt.Sprintf("%d", pageIndex+1)
	d := &font.Drawer{Dst: img, Src: &image.Uniform{C: ink}, Face: basicfont.Face7x13}
	adv := d.MeasureString(label).Round()
	d.Dot = fixed.P((pw-adv)/2, ph/2+basicfont.Face7x13.Ascent/2)
	d.DrawString(label)
	return img, nil
}

// pageSize returns the MediaBox width and height in points, defaulting to
// US Letter.
func pageSize(ctx context.Context, loader parser.ObjectLoader, page parser.Page) (float64, float64) {
	box, err := loader.Deref(ctx, page.MediaBox)
	if err != nil {
		return 612, 792
	}
	arr, ok := box.(*raw.ArrayObj)
	if !ok || arr.Len() != 4 {
		return 612, 792
	}
	var v [4]float64
	for i, item := range arr.Items {
		n, ok := item.(raw.NumberObj)
		if !ok {
			return 612, 792
		}
		v[i] = n.Float()
	}
	w, h := v[2]-v[0], v[3]-v[1]
	if w < 0 {
		w = -w
	}
	if h < 0 {
		h = -h
	}
	if w == 0 || h == 0 {
		return 612, 792
	}
	return w, h
}
