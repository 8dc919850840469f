package report

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"os"

	"github.com/carbocation/go-quantize/quantize"
	"github.com/carbocation/sdcprep/volume"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// DefaultFlickerDelay is the time each frame of a flicker is shown, in
// hundredths of a second.
const DefaultFlickerDelay = 100

// addLabel writes text in the top left corner of an image.
func addLabel(img image.Image, label string) image.Image {
	ctx := gg.NewContextForImage(img)
	ctx.SetFontFace(basicfont.Face7x13)
	ctx.SetRGB(1, 1, 0)
	ctx.DrawString(label, 2, 12)

	return ctx.Image()
}

// Flicker draws before and after as mosaics with one shared display range and
// returns a looping two-frame animation, so that the effect of a correction
// shows as movement between frames.
func Flicker(before, after *volume.Volume, opts MosaicOptions, delay int) (*gif.GIF, error) {
	if !volume.SameGrid(before, after) {
		return nil, fmt.Errorf("flicker frames differ in shape: %v vs %v", before.Dims, after.Dims)
	}

	if opts.Colormap == nil {
		cmap, err := AutoColormap(after, opts)
		if err != nil {
			return nil, err
		}
		opts.Colormap = cmap
	}

	var frames []image.Image
	for _, f := range []struct {
		v     *volume.Volume
		label string
	}{{before, "before"}, {after, "after"}} {
		img, err := SliceMosaic(f.v, opts)
		if err != nil {
			return nil, err
		}
		frames = append(frames, addLabel(img, f.label))
	}

	return makeGIF(frames, delay), nil
}

// makeGIF builds one palette from all frames, so that colors do not shift
// between them.
func makeGIF(frames []image.Image, delay int) *gif.GIF {
	out := &gif.GIF{}

	quantizer := quantize.MedianCutQuantizer{
		Aggregation:    quantize.Mean,
		Weighting:      nil,
		AddTransparent: false,
	}
	pal := quantizer.QuantizeMultiple(make([]color.Color, 0, 256), frames)

	for _, img := range frames {
		paletted := image.NewPaletted(img.Bounds(), pal)
		draw.Draw(paletted, img.Bounds(), img, image.Point{}, draw.Over)
		out.Image = append(out.Image, paletted)
		out.Delay = append(out.Delay, delay)
	}

	return out
}

// WriteFlicker renders a flicker and saves it as an animated GIF.
func WriteFlicker(path string, before, after *volume.Volume, opts MosaicOptions) error {
	g, err := Flicker(before, after, opts, DefaultFlickerDelay)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gif.EncodeAll(f, g); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
