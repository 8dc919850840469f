package dicommeta

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/carbocation/sdcprep/sdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/dicomtag"
)

func TestFromTagsSiemens(t *testing.T) {
	bw := make([]byte, 8)
	binary.LittleEndian.PutUint64(bw, math.Float64bits(17.6))

	res, err := FromTags(map[dicomtag.Tag][]interface{}{
		tagManufacturer:                   {"SIEMENS "},
		tagEchoTime:                       {"30"},
		tagRepetitionTime:                 {"2000"},
		tagMagneticFieldStrength:          {"3"},
		tagInPlanePhaseEncodingDirection:  {"COL"},
		tagParallelReductionFactorInPlane: {float64(2)},
		tagRows:                           {uint16(104)},
		tagColumns:                        {uint16(90)},
		tagBandwidthPerPixelPhaseEncode:   {bw},
	})
	require.NoError(t, err)

	assert.Equal(t, "SIEMENS", res.Manufacturer)
	assert.InDelta(t, 0.03, *res.Metadata.EchoTime, 1e-12)
	assert.InDelta(t, 2.0, *res.Metadata.RepetitionTime, 1e-12)
	assert.Equal(t, 3.0, *res.Metadata.MagneticFieldStrength)
	assert.Equal(t, 2.0, *res.Metadata.ParallelReductionFactorInPlane)
	assert.Equal(t, sdc.PEDirection("j"), res.Metadata.PhaseEncodingDirection)
	assert.True(t, res.PolarityUnknown)

	ees := 1 / (17.6 * 104)
	assert.InDelta(t, ees, *res.Metadata.EffectiveEchoSpacing, 1e-12)
	assert.InDelta(t, ees*103, *res.Metadata.TotalReadoutTime, 1e-12)
}

func TestFromTagsAcquisitionTime(t *testing.T) {
	res, err := FromTags(map[dicomtag.Tag][]interface{}{
		tagAcquisitionDate: {"20200302"},
		tagAcquisitionTime: {"174345.1225"},
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 3, 2, 17, 43, 45, 122500000, time.UTC), res.AcquiredAt)
	assert.JSONEq(t, `"2020-03-02T17:43:45.122500"`, string(res.Metadata.Raw["AcquisitionDateTime"]))

	res, err = FromTags(map[dicomtag.Tag][]interface{}{
		tagAcquisitionDate: {"not a date"},
	})
	require.NoError(t, err)
	assert.True(t, res.AcquiredAt.IsZero())
}

func TestFromTagsMosaic(t *testing.T) {
	res, err := FromTags(map[dicomtag.Tag][]interface{}{
		tagImageType:                     {"ORIGINAL", "PRIMARY", "M", "ND", "MOSAIC"},
		tagInPlanePhaseEncodingDirection: {"ROW"},
		tagRows:                          {uint16(640)},
		tagColumns:                       {uint16(640)},
		tagAcquisitionMatrix:             {uint16(80), uint16(0), uint16(0), uint16(80)},
		tagBandwidthPerPixelPhaseEncode:  {"20"},
	})
	require.NoError(t, err)

	assert.Equal(t, sdc.PEDirection("i"), res.Metadata.PhaseEncodingDirection)
	require.NotNil(t, res.Metadata.EffectiveEchoSpacing)
	assert.InDelta(t, 1/(20.0*80), *res.Metadata.EffectiveEchoSpacing, 1e-12, "the tile width must not be used")
}

func TestFromTagsWithoutReadout(t *testing.T) {
	res, err := FromTags(map[dicomtag.Tag][]interface{}{
		tagEchoTime: {"4.92"},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.00492, *res.Metadata.EchoTime, 1e-12)
	assert.Nil(t, res.Metadata.TotalReadoutTime)
	assert.False(t, res.PolarityUnknown)

	_, err = sdc.TotalReadoutTime(res.Metadata, [3]int{64, 64, 32})
	assert.ErrorIs(t, err, sdc.ErrUnknownReadoutTime)
}

func TestFromTagsBadDirection(t *testing.T) {
	_, err := FromTags(map[dicomtag.Tag][]interface{}{
		tagInPlanePhaseEncodingDirection: {"OTHER"},
	})
	assert.Error(t, err)
}

func TestFromReaderGarbage(t *testing.T) {
	_, err := FromReader(bytes.NewReader([]byte("this is not a dicom file")))
	assert.Error(t, err)
}
