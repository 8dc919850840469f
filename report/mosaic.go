// Package report renders the visual reportlets and the methods boilerplate of
// a preprocessing run.
package report

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/carbocation/sdcprep/volume"
	"github.com/disintegration/imaging"
	"github.com/montanaflynn/stats"
)

// DefaultPercentile sets the display range of a mosaic.
const DefaultPercentile = 98.0

// MosaicOptions control SliceMosaic.
type MosaicOptions struct {
	// Frame is the volume (4th dimension index) to draw.
	Frame int
	// Slices is the number of evenly spaced axial slices; 0 draws them all.
	Slices int
	// Columns of the grid; 0 picks a near-square layout.
	Columns int
	// Scale enlarges every slice by an integer factor.
	Scale int
	// Signed selects the diverging colormap with a range symmetric about 0.
	Signed bool
	// Percentile of |value| (signed) or value (unsigned) that saturates the
	// colormap. Defaults to DefaultPercentile.
	Percentile float64
	// Colormap overrides the automatic map when set.
	Colormap Colormap
}

func finiteValues(data []float32, abs bool) []float64 {
	out := make([]float64, 0, len(data))
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if abs {
			f = math.Abs(f)
		}
		out = append(out, f)
	}
	return out
}

// AutoColormap picks the display map for a frame of v.
func AutoColormap(v *volume.Volume, opts MosaicOptions) (Colormap, error) {
	pct := opts.Percentile
	if pct <= 0 || pct > 100 {
		pct = DefaultPercentile
	}

	frame := v.Frame(opts.Frame)
	values := finiteValues(frame.Data, opts.Signed)
	if len(values) == 0 {
		return nil, fmt.Errorf("frame %d has no finite values", opts.Frame)
	}

	hi, err := stats.Percentile(values, pct)
	if err != nil {
		return nil, err
	}

	if opts.Signed {
		return NewDiverging(hi), nil
	}

	lo, err := stats.Min(values)
	if err != nil {
		return nil, err
	}
	return Grayscale{Min: math.Min(lo, 0), Max: hi}, nil
}

// sliceIndices spreads n slices evenly across nz, dropping the outermost.
func sliceIndices(nz, n int) []int {
	if n <= 0 || n >= nz {
		out := make([]int, nz)
		for i := range out {
			out[i] = i
		}
		return out
	}

	out := make([]int, n)
	for i := range out {
		out[i] = int(math.Round(float64(i+1) * float64(nz) / float64(n+1)))
		if out[i] >= nz {
			out[i] = nz - 1
		}
	}
	return out
}

// Slice renders axial slice z of a frame. Image rows run from anterior to
// posterior, so the voxel j axis is flipped.
func Slice(v *volume.Volume, frame, z int, cmap Colormap) *image.NRGBA {
	shape := v.Shape()
	img := image.NewNRGBA(image.Rect(0, 0, shape[0], shape[1]))
	for y := 0; y < shape[1]; y++ {
		for x := 0; x < shape[0]; x++ {
			img.SetNRGBA(x, y, cmap.At(float64(v.At(x, y, z, frame))))
		}
	}
	return imaging.FlipV(img)
}

// SliceMosaic lays out axial slices of one frame of v in a grid.
func SliceMosaic(v *volume.Volume, opts MosaicOptions) (image.Image, error) {
	if opts.Frame < 0 || opts.Frame >= v.Frames() {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", opts.Frame, v.Frames())
	}

	cmap := opts.Colormap
	if cmap == nil {
		var err error
		if cmap, err = AutoColormap(v, opts); err != nil {
			return nil, err
		}
	}

	shape := v.Shape()
	zs := sliceIndices(shape[2], opts.Slices)

	cols := opts.Columns
	if cols <= 0 {
		cols = int(math.Ceil(math.Sqrt(float64(len(zs)))))
	}
	rows := (len(zs) + cols - 1) / cols

	scale := max(opts.Scale, 1)
	w, h := shape[0]*scale, shape[1]*scale

	mosaic := imaging.New(cols*w, rows*h, color.Black)
	for i, z := range zs {
		var tile image.Image = Slice(v, opts.Frame, z, cmap)
		if scale > 1 {
			tile = imaging.Resize(tile, w, h, imaging.NearestNeighbor)
		}
		mosaic = imaging.Paste(mosaic, tile, image.Pt((i%cols)*w, (i/cols)*h))
	}

	return mosaic, nil
}

// WriteMosaic renders v and saves it; the format follows the file extension.
func WriteMosaic(path string, v *volume.Volume, opts MosaicOptions) error {
	img, err := SliceMosaic(v, opts)
	if err != nil {
		return err
	}
	return imaging.Save(img, path)
}
