package textdoc

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/folio-reader/folio/internal/engine"
)

var (
	paper = color.RGBA{0xff, 0xff, 0xff, 0xff}
	ink   = color.RGBA{0x20, 0x20, 0x20, 0xff}
	form  = color.RGBA{0xcc, 0xdd, 0xff, 0xff}
)

// Render draws every word as a filled box, which is enough to check
// geometry and patch arithmetic. ctx is polled between lines.
func (d *Doc) Render(ctx context.Context, page int, region engine.Region) (*image.RGBA, error) {
	if region.PageW <= 0 || region.PageH <= 0 || region.PatchW <= 0 || region.PatchH <= 0 {
		return nil, fmt.Errorf("invalid region %+v", region)
	}

	d.mx.RLock()
	defer d.mx.RUnlock()
	lines, err := d.page(page)
	if err != nil {
		return nil, err
	}
	size := pageSize(lines)
	sx := float32(region.PageW) / size.W
	sy := float32(region.PageH) / size.H

	patch := image.Rect(region.PatchX, region.PatchY, region.PatchX+region.PatchW, region.PatchY+region.PatchH)
	img := image.NewRGBA(patch)
	draw.Draw(img, patch, image.NewUniform(paper), image.Point{}, draw.Src)

	fill := func(r engine.Rect, c color.RGBA) {
		dst := image.Rect(
			int(r.X0*sx), int(r.Y0*sy),
			int(r.X1*sx), int(r.Y1*sy),
		).Intersect(patch)
		if !dst.Empty() {
			draw.Draw(img, dst, image.NewUniform(c), image.Point{}, draw.Src)
		}
	}

	for _, f := range d.fields[page] {
		fill(f.rect, form)
	}
	for y, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, w := range words(line, y) {
			fill(w.Rect, ink)
		}
	}
	return img, nil
}
