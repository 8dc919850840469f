package report

import (
	"bytes"
	"image/color"
	"image/gif"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/carbocation/sdcprep/sdc"
	"github.com/carbocation/sdcprep/volume"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(t *testing.T, dims [4]int, offset float32) *volume.Volume {
	t.Helper()
	v, err := volume.New(dims, volume.Header{})
	require.NoError(t, err)
	for i := range v.Data {
		v.Data[i] = float32(i) - offset
	}
	return v
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, G: 128, B: 0, A: 255}, c)

	c, err = ParseColor("0f0")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, c)

	c, err = ParseColor("#")
	require.NoError(t, err)
	assert.Zero(t, c.A)

	_, err = ParseColor("zzzzzz")
	assert.Error(t, err)
}

func TestDiverging(t *testing.T) {
	d := NewDiverging(10)
	mid, _ := ParseColor(DefaultMidColor)
	low, _ := ParseColor(DefaultLowColor)
	high, _ := ParseColor(DefaultHighColor)

	assert.Equal(t, mid, d.At(0))
	assert.Equal(t, low, d.At(-10))
	assert.Equal(t, low, d.At(-100))
	assert.Equal(t, high, d.At(25))
}

func TestGrayscale(t *testing.T) {
	g := Grayscale{Min: 0, Max: 100}
	assert.Equal(t, uint8(0), g.At(-5).R)
	assert.Equal(t, uint8(255), g.At(100).R)
	assert.Equal(t, uint8(128), g.At(50).R)
}

func TestSliceIndices(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, sliceIndices(3, 0))
	assert.Equal(t, []int{0, 1, 2}, sliceIndices(3, 5))
	assert.Equal(t, []int{3, 5, 8}, sliceIndices(10, 3))
}

func TestSliceMosaic(t *testing.T) {
	v := ramp(t, [4]int{4, 3, 5, 1}, 30)

	img, err := SliceMosaic(v, MosaicOptions{Signed: true, Scale: 2})
	require.NoError(t, err)
	// 5 slices -> 3 columns x 2 rows of 8x6 tiles
	assert.Equal(t, 24, img.Bounds().Dx())
	assert.Equal(t, 12, img.Bounds().Dy())

	img, err = SliceMosaic(v, MosaicOptions{Slices: 2, Columns: 2})
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())

	_, err = SliceMosaic(v, MosaicOptions{Frame: 1})
	assert.Error(t, err)
}

func TestSliceFlipsRows(t *testing.T) {
	v := ramp(t, [4]int{1, 2, 1, 1}, 0)
	img := Slice(v, 0, 0, Grayscale{Min: 0, Max: 1})
	// voxel j=1 (value 1, white) is drawn on the top row
	assert.Equal(t, uint8(255), img.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(0), img.NRGBAAt(0, 1).R)
}

func TestWriteMosaic(t *testing.T) {
	v := ramp(t, [4]int{4, 4, 2, 1}, 0)
	out := filepath.Join(t.TempDir(), "mosaic.png")
	require.NoError(t, WriteMosaic(out, v, MosaicOptions{}))

	img, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestFlicker(t *testing.T) {
	before := ramp(t, [4]int{6, 6, 4, 1}, 0)
	after := ramp(t, [4]int{6, 6, 4, 1}, 10)

	g, err := Flicker(before, after, MosaicOptions{Scale: 4}, 50)
	require.NoError(t, err)
	require.Len(t, g.Image, 2)
	assert.Equal(t, []int{50, 50}, g.Delay)
	assert.Equal(t, g.Image[0].Bounds(), g.Image[1].Bounds())
	assert.Equal(t, g.Image[0].Palette, g.Image[1].Palette)

	_, err = Flicker(before, ramp(t, [4]int{6, 5, 4, 1}, 0), MosaicOptions{}, 50)
	assert.Error(t, err)
}

func TestWriteFlicker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdc.gif")
	require.NoError(t, WriteFlicker(path, ramp(t, [4]int{4, 4, 2, 1}, 0), ramp(t, [4]int{4, 4, 2, 1}, 3), MosaicOptions{Scale: 8}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	require.NoError(t, err)
	assert.Len(t, g.Image, 2)
}

func TestTerminalHistogram(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, TerminalHistogram(&buf, []float64{-3, -1, 0, 0, 1, 2, math.NaN()}, 4, 20))
	assert.NotEmpty(t, buf.String())

	assert.Error(t, TerminalHistogram(&buf, []float64{math.NaN()}, 4, 20))
}

func TestBins(t *testing.T) {
	centers, counts := Bins([]float64{0, 0.1, 0.6, 1, 2}, 2, 0, 1)
	assert.Equal(t, []float64{0.25, 0.75}, centers)
	assert.Equal(t, []float64{2, 2}, counts)

	centers, _ = Bins(nil, 2, 1, 1)
	assert.Nil(t, centers)
}

func TestHistogram(t *testing.T) {
	values := make([]float64, 500)
	for i := range values {
		values[i] = float64(i%50) - 25
	}

	var buf bytes.Buffer
	require.NoError(t, Histogram(&buf, values, "fieldmap"))
	_, err := png.Decode(&buf)
	require.NoError(t, err)

	assert.Error(t, Histogram(&buf, nil, "empty"))

	out := filepath.Join(t.TempDir(), "hist.png")
	require.NoError(t, WriteHistogram(out, values, "fieldmap"))
	st, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, st.Size())
}

func TestBoilerplate(t *testing.T) {
	text := Boilerplate(Methods{Version: "v1.0.0", Demean: true, Jacobian: true, Ignore: []string{"slicetiming"}}, []Entry{
		{Subject: "01", Bold: "sub-01_task-rest_bold.nii.gz", Strategy: sdc.StrategyPhaseDiff, PEDirection: "j-", TotalReadoutTime: 0.0306, Fieldmaps: []string{"sub-01_phasediff.nii.gz"}},
		{Subject: "02", Bold: "sub-02_task-rest_bold.nii.gz", Strategy: sdc.StrategyNone, Reason: "no fieldmap"},
	})

	assert.Contains(t, text, "*sdcprep* v1.0.0")
	assert.Contains(t, text, "Phasediff (1 run)")
	assert.Contains(t, text, "demeaned")
	assert.Contains(t, text, "Jacobian")
	assert.Contains(t, text, "None (1 run)")
	assert.Contains(t, text, "| 01 | sub-01_task-rest_bold.nii.gz | phasediff | sub-01_phasediff.nii.gz | j- | 0.03060 |")
	assert.Contains(t, text, "none (no fieldmap)")
	assert.Contains(t, text, "skipped on request: slicetiming")

	assert.NotContains(t, text, "B-spline")

	smoothed := Boilerplate(Methods{BSplineSpacing: 40}, []Entry{{Subject: "01", Strategy: sdc.StrategyFieldmap}})
	assert.Contains(t, smoothed, "knots 40 mm apart")

	assert.Contains(t, Boilerplate(Methods{}, nil), "No BOLD runs")
}
