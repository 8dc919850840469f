package sdc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestBSplineTaps(t *testing.T) {
	taps := bsplineTaps(4, 1)
	require.Len(t, taps, 17)
	assert.InDelta(t, 1, floats.Sum(taps), 1e-12)
	assert.Equal(t, taps[8-3], taps[8+3])
	assert.Greater(t, taps[8], taps[9])
	assert.Zero(t, taps[0])

	assert.Equal(t, []float64{1}, bsplineTaps(2, 3), "knots closer than voxels do not smooth")
}

func TestSmoothBSplineKeepsConstant(t *testing.T) {
	fmap := newVolume(t, [4]int{8, 6, 4, 1}, func(int) float32 { return 12.5 })

	out, err := SmoothBSpline(fmap, nil, 3)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 12.5, v, 1e-4)
	}
}

func TestSmoothBSplineSpreadsSpike(t *testing.T) {
	dims := [4]int{9, 9, 1, 1}
	center := 4 + 4*9
	fmap := newVolume(t, dims, func(i int) float32 {
		if i == center {
			return 81
		}
		return 0
	})

	out, err := SmoothBSpline(fmap, nil, 2)
	require.NoError(t, err)
	assert.Less(t, out.Data[center], float32(81))
	assert.Greater(t, out.Data[center+1], float32(0))
	assert.InDelta(t, out.Data[center-1], out.Data[center+1], 1e-5)
	assert.InDelta(t, out.Data[center-9], out.Data[center+9], 1e-5)
	assert.Zero(t, out.Data[0], "corners are beyond the kernel support")
}

func TestSmoothBSplineIgnoresMaskedOut(t *testing.T) {
	dims := [4]int{6, 1, 1, 1}
	fmap := newVolume(t, dims, func(i int) float32 { return []float32{10, 10, 10, 10, 500, float32(math.NaN())}[i] })
	mask := Mask{true, true, true, true, false, true}

	out, err := SmoothBSpline(fmap, mask, 2)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 10, out.Data[i], 1e-4)
	}

	_, err = SmoothBSpline(fmap, Mask{true}, 2)
	assert.Error(t, err)
	_, err = SmoothBSpline(fmap, nil, 0)
	assert.Error(t, err)
}
