package sdc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPEDirection(t *testing.T) {
	for pe, want := range map[PEDirection]int{"i": 0, "i-": 0, "j": 1, "j-": 1, "k": 2, "k-": 2} {
		axis, err := pe.Axis()
		require.NoError(t, err, pe)
		assert.Equal(t, want, axis, pe)
	}

	assert.Equal(t, 1.0, PEDirection("j").Sign())
	assert.Equal(t, -1.0, PEDirection("j-").Sign())

	for _, bad := range []PEDirection{"", "x", "y-", "j+", "jj"} {
		_, err := bad.Axis()
		assert.ErrorIs(t, err, ErrInvalidPEDirection, bad)
		assert.False(t, bad.Valid())
	}
}

func TestEffectiveEchoSpacingExplicit(t *testing.T) {
	meta := Metadata{EffectiveEchoSpacing: Float(0.00059)}

	ees, err := EffectiveEchoSpacing(meta, [3]int{64, 64, 32})
	require.NoError(t, err)
	assert.Equal(t, 0.00059, ees)
}

func TestEffectiveEchoSpacingFromReadoutTime(t *testing.T) {
	meta := Metadata{
		TotalReadoutTime:               Float(0.05),
		ParallelReductionFactorInPlane: Float(2),
		PhaseEncodingDirection:         "j-",
	}

	// 102 lines at acceleration 2 is an echo train of 51.
	ees, err := EffectiveEchoSpacing(meta, [3]int{90, 102, 60})
	require.NoError(t, err)
	assert.InDelta(t, 0.05/50, ees, 1e-12)
}

func TestEffectiveEchoSpacingPhilips(t *testing.T) {
	meta := Metadata{
		WaterFatShift:          Float(8.129),
		MagneticFieldStrength:  Float(3),
		PhaseEncodingDirection: "j",
	}

	ees, err := EffectiveEchoSpacing(meta, [3]int{80, 80, 40})
	require.NoError(t, err)
	assert.InDelta(t, 8.129/(3*3.4*42.57*80), ees, 1e-12)

	meta.MagneticFieldStrength = nil
	_, err = EffectiveEchoSpacing(meta, [3]int{80, 80, 40})
	assert.Error(t, err)
}

func TestEffectiveEchoSpacingUnknown(t *testing.T) {
	_, err := EffectiveEchoSpacing(Metadata{PhaseEncodingDirection: "j"}, [3]int{64, 64, 32})
	assert.True(t, errors.Is(err, ErrUnknownEchoSpacing))
}

func TestEffectiveEchoSpacingBadInputs(t *testing.T) {
	_, err := EffectiveEchoSpacing(Metadata{TotalReadoutTime: Float(0.05)}, [3]int{64, 64, 32})
	assert.ErrorIs(t, err, ErrInvalidPEDirection)

	_, err = EffectiveEchoSpacing(Metadata{
		TotalReadoutTime:               Float(0.05),
		PhaseEncodingDirection:         "j",
		ParallelReductionFactorInPlane: Float(0),
	}, [3]int{64, 64, 32})
	assert.Error(t, err)

	_, err = EffectiveEchoSpacing(Metadata{
		TotalReadoutTime:       Float(0.05),
		PhaseEncodingDirection: "k",
	}, [3]int{64, 64, 1})
	assert.Error(t, err, "a single line has no echo spacing")

	_, err = EffectiveEchoSpacing(Metadata{EffectiveEchoSpacing: Float(-1)}, [3]int{64, 64, 32})
	assert.Error(t, err)
}

func TestTotalReadoutTime(t *testing.T) {
	shape := [3]int{96, 96, 60}

	trt, err := TotalReadoutTime(Metadata{TotalReadoutTime: Float(0.0603)}, shape)
	require.NoError(t, err)
	assert.Equal(t, 0.0603, trt)

	trt, err = TotalReadoutTime(Metadata{
		EffectiveEchoSpacing:           Float(0.00058),
		ParallelReductionFactorInPlane: Float(2),
		PhaseEncodingDirection:         "i",
	}, shape)
	require.NoError(t, err)
	assert.InDelta(t, 0.00058*47, trt, 1e-12)

	trt, err = TotalReadoutTime(Metadata{
		WaterFatShift:          Float(8.129),
		MagneticFieldStrength:  Float(3),
		PhaseEncodingDirection: "j",
	}, shape)
	require.NoError(t, err)
	assert.InDelta(t, 8.129/(3*3.4*42.57), trt, 1e-12)

	_, err = TotalReadoutTime(Metadata{PhaseEncodingDirection: "j"}, shape)
	assert.ErrorIs(t, err, ErrUnknownReadoutTime)
}

func TestReadoutRoundTrip(t *testing.T) {
	shape := [3]int{64, 72, 30}
	meta := Metadata{
		EffectiveEchoSpacing:           Float(0.00069),
		ParallelReductionFactorInPlane: Float(3),
		PhaseEncodingDirection:         "j-",
	}

	trt, err := TotalReadoutTime(meta, shape)
	require.NoError(t, err)

	back, err := EffectiveEchoSpacing(Metadata{
		TotalReadoutTime:               Float(trt),
		ParallelReductionFactorInPlane: meta.ParallelReductionFactorInPlane,
		PhaseEncodingDirection:         meta.PhaseEncodingDirection,
	}, shape)
	require.NoError(t, err)
	assert.InDelta(t, 0.00069, back, 1e-12)
}

func TestTotalReadoutTimeOrDefault(t *testing.T) {
	meta := Metadata{PhaseEncodingDirection: "j"}
	shape := [3]int{64, 64, 32}

	_, err := TotalReadoutTimeOrDefault(meta, shape, false)
	assert.ErrorIs(t, err, ErrUnknownReadoutTime)

	trt, err := TotalReadoutTimeOrDefault(meta, shape, true)
	require.NoError(t, err)
	assert.InDelta(t, DefaultEffectiveEchoSpacing*63, trt, 1e-12)
}
