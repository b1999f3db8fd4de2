package answers

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
)

// The labelbar layout draws a colored bar above every answer section. The
// bar spans the full width, so probing a single column just inside the
// left edge finds every section boundary.
const markerColumn = 1

// MaxGroupHeight is the tallest attachment image that still reads well
// inline in chat. Slices are regrouped to stay under it.
const MaxGroupHeight = 400

// SliceImage splits a composite labelbar answer image at its section
// marker rows. Each returned slice starts at a marker and runs to the
// row before the next one; content above the first marker becomes the
// first slice.
func SliceImage(data []byte) ([]image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode answer image: %w", err)
	}

	b := img.Bounds()
	height := b.Dy()
	if height == 0 || b.Dx() <= markerColumn {
		return nil, fmt.Errorf("answer image too small to slice: %dx%d", b.Dx(), height)
	}

	marker := func(y int) bool {
		r, g, bl, _ := img.At(b.Min.X+markerColumn, b.Min.Y+y).RGBA()
		return r != 0xffff || g != 0xffff || bl != 0xffff
	}

	type span struct{ top, bottom int }
	var spans []span
	sliceTop := 0
	inMarker := false

	y := 0
	for y < height && !marker(y) {
		y++
	}
	for ; y < height; y++ {
		switch {
		case !inMarker && marker(y):
			spans = append(spans, span{sliceTop, y - 1})
			sliceTop = y
			inMarker = true
		case inMarker && !marker(y):
			inMarker = false
		}
	}
	// Trailing span, kept even when it is a single row.
	spans = append(spans, span{sliceTop, height - 1})

	slices := make([]image.Image, 0, len(spans))
	for _, s := range spans {
		r := image.Rect(0, 0, b.Dx(), s.bottom-s.top+1)
		out := image.NewRGBA(r)
		draw.Draw(out, r, img, image.Pt(b.Min.X, b.Min.Y+s.top), draw.Src)
		slices = append(slices, out)
	}
	return slices, nil
}

// GroupImages stacks consecutive slices into composite images no taller
// than maxHeight. A single slice taller than maxHeight becomes its own
// group rather than being cut.
func GroupImages(slices []image.Image, maxHeight int) []image.Image {
	var groups [][]image.Image
	var current []image.Image
	currentHeight := 0

	for _, s := range slices {
		h := s.Bounds().Dy()
		if currentHeight+h > maxHeight && len(current) > 0 {
			groups = append(groups, current)
			current = nil
			currentHeight = 0
		}
		current = append(current, s)
		currentHeight += h
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	out := make([]image.Image, 0, len(groups))
	for _, group := range groups {
		total := 0
		for _, s := range group {
			total += s.Bounds().Dy()
		}
		width := group[0].Bounds().Dx()
		composite := image.NewRGBA(image.Rect(0, 0, width, total))
		y := 0
		for _, s := range group {
			h := s.Bounds().Dy()
			draw.Draw(composite, image.Rect(0, y, width, y+h), s, s.Bounds().Min, draw.Src)
			y += h
		}
		out = append(out, composite)
	}
	return out
}

// EncodePNG serializes an image for upload.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode attachment image: %w", err)
	}
	return buf.Bytes(), nil
}
