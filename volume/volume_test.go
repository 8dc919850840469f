package volume

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(t *testing.T, dims [4]int) *Volume {
	t.Helper()

	var h Header
	h.PixDim = [8]float32{1, 2.5, 2.5, 3}
	h.SFormCode = 1
	h.SRowX = [4]float32{2.5, 0, 0, -90}
	h.SRowY = [4]float32{0, 2.5, 0, -126}
	h.SRowZ = [4]float32{0, 0, 3, -72}

	v, err := New(dims, h)
	require.NoError(t, err)
	for i := range v.Data {
		v.Data[i] = float32(i) - 10
	}

	return v
}

func TestIndexing(t *testing.T) {
	v := ramp(t, [4]int{4, 3, 2, 2})

	assert.Equal(t, 48, len(v.Data))
	assert.Equal(t, float32(0-10), v.At(0, 0, 0, 0))
	assert.Equal(t, float32(1-10), v.At(1, 0, 0, 0))
	assert.Equal(t, float32(4-10), v.At(0, 1, 0, 0))
	assert.Equal(t, float32(12-10), v.At(0, 0, 1, 0))
	assert.Equal(t, float32(24-10), v.At(0, 0, 0, 1))

	f := v.Frame(1)
	assert.Equal(t, 1, f.Frames())
	assert.Equal(t, v.At(3, 2, 1, 1), f.At(3, 2, 1, 0))

	f.Set(0, 0, 0, 0, 99)
	assert.Equal(t, float32(99), v.At(0, 0, 0, 1), "frames share storage")

	assert.Equal(t, [3]float64{2.5, 2.5, 3}, v.Spacing())
}

func TestNewRejectsEmptyGrid(t *testing.T) {
	_, err := New([4]int{0, 3, 2, 1}, Header{})
	assert.Error(t, err)
}

func TestHeaderEncodeDecode(t *testing.T) {
	v := ramp(t, [4]int{4, 3, 2, 1})
	v.Header.SetDescription("fieldmap (Hz)")

	var buf bytes.Buffer
	require.NoError(t, v.encode(&buf, false))
	assert.Equal(t, voxOffset+4*len(v.Data), buf.Len())

	h, order, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian, order)
	assert.EqualValues(t, 3, h.Dim[0])
	assert.EqualValues(t, DTFloat32, h.DataType)
	assert.EqualValues(t, 32, h.BitPix)
	assert.EqualValues(t, voxOffset, h.VoxOffset)
	assert.Equal(t, magicSingleFile, h.Magic)
	assert.Equal(t, v.Header.SRowX, h.SRowX)
	assert.Equal(t, "fieldmap (Hz)", h.Description())
}

func TestReadHeaderBigEndian(t *testing.T) {
	h := Header{}.forFloat32([4]int{2, 2, 2, 1})

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, &h))

	got, order, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, order)
	assert.EqualValues(t, 2, got.Dim[1])
}

func TestReadHeaderGarbage(t *testing.T) {
	_, _, err := ReadHeader(bytes.NewReader(make([]byte, headerSize)))
	assert.Error(t, err)

	_, _, err = ReadHeader(bytes.NewReader([]byte("short")))
	assert.Error(t, err)
}

func TestSaveLoadHeaderGzip(t *testing.T) {
	v := ramp(t, [4]int{5, 4, 3, 2})
	path := filepath.Join(t.TempDir(), "sub-01", "fmap", "sub-01_desc-fieldmap_fmap.nii.gz")

	require.NoError(t, v.Save(path))

	h, err := LoadHeader(path)
	require.NoError(t, err)
	assert.EqualValues(t, 4, h.Dim[0])
	assert.EqualValues(t, 2, h.Dim[4])
	assert.Equal(t, v.Header.PixDim[1], h.PixDim[1])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	v := ramp(t, [4]int{5, 4, 3, 1})
	path := filepath.Join(t.TempDir(), "ramp.nii")
	require.NoError(t, v.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, v.Dims, got.Dims)
	assert.InDeltaSlice(t, v.Data, got.Data, 1e-6)
}

func TestTemporalStats(t *testing.T) {
	v, err := New([4]int{2, 1, 1, 3}, Header{})
	require.NoError(t, err)
	// voxel 0 varies over time, voxel 1 is constant
	copy(v.Data, []float32{1, 5, 2, 5, 3, 5})

	mean, std := TemporalStats(v)
	assert.Equal(t, [4]int{2, 1, 1, 1}, mean.Dims)
	assert.InDelta(t, 2, mean.Data[0], 1e-6)
	assert.InDelta(t, 5, mean.Data[1], 1e-6)
	assert.Greater(t, std.Data[0], float32(0))
	assert.InDelta(t, 0, std.Data[1], 1e-6)

	assert.Equal(t, mean.Data, TemporalMean(v).Data)

	tsnr := TSNR(v)
	assert.InDelta(t, 2/std.Data[0], tsnr.Data[0], 1e-5)
	assert.Zero(t, tsnr.Data[1], "constant voxels have no temporal noise")

	single := TemporalMean(v.Frame(1))
	assert.Equal(t, []float32{2, 5}, single.Data)
}

// writeInt16 writes a single-file INT16 image the way scanners export phase
// and BOLD series.
func writeInt16(t *testing.T, path string, order binary.ByteOrder, values []int16, slope, inter float32) {
	t.Helper()

	h := Header{}.forFloat32([4]int{len(values), 1, 1, 1})
	h.DataType = DTInt16
	h.BitPix = 16
	h.SclSlope = slope
	h.SclInter = inter

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, order, &h))
	buf.Write([]byte{0, 0, 0, 0})
	require.NoError(t, binary.Write(&buf, order, values))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestLoadSignedInt16(t *testing.T) {
	dir := t.TempDir()
	values := []int16{-4096, -1, 0, 4094}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		path := filepath.Join(dir, order.String()+".nii")
		writeInt16(t, path, order, values, 0, 0)

		v, err := Load(path)
		require.NoError(t, err, order.String())
		assert.Equal(t, []float32{-4096, -1, 0, 4094}, v.Data, order.String())
	}
}

func TestLoadAppliesScaling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaled.nii")
	writeInt16(t, path, binary.LittleEndian, []int16{0, 2048, 4095}, 2, -4096)

	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{-4096, 0, 4094}, v.Data)

	// Saved derivatives carry the scaled values with unit slope.
	out := filepath.Join(t.TempDir(), "scaled_float.nii.gz")
	require.NoError(t, v.Save(out))
	again, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, v.Data, again.Data)
}

func TestLoadTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.nii")
	writeInt16(t, path, binary.LittleEndian, []int16{1, 2, 3, 4}, 0, 0)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b[:len(b)-4], 0o644))

	_, err = Load(path)
	assert.ErrorContains(t, err, "truncated")
}

func TestLoadUnsupportedDatatype(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rgb.nii")
	h := Header{}.forFloat32([4]int{2, 1, 1, 1})
	h.DataType = 128
	h.BitPix = 24

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	buf.Write(make([]byte, 4+6))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "datatype 128")
}
