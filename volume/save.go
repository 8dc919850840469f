package volume

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Save writes v as a float32 single-file NIfTI-1 image. Paths ending in .gz are
// gzip compressed. Parent directories are created as needed.
func (v *Volume) Save(path string) error {
	if len(v.Data) != v.Dims[0]*v.Dims[1]*v.Dims[2]*v.Dims[3] {
		return fmt.Errorf("volume has %d voxels but dims %v", len(v.Data), v.Dims)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := v.encode(f, strings.HasSuffix(path, ".gz")); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	return f.Close()
}

func (v *Volume) encode(w io.Writer, compress bool) error {
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(w)
		w = zw
	}
	bw := bufio.NewWriter(w)

	h := v.Header.forFloat32(v.Dims)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return err
	}

	// Empty extension block between the header and vox_offset.
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	buf := make([]byte, 4)
	for _, value := range v.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(value))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}

	return nil
}
