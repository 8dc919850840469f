package volume

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/sdcprep"
)

// Load reads a local .nii or .nii.gz file.
func Load(path string) (*Volume, error) {
	return LoadFrom(context.Background(), path, nil)
}

// LoadFrom is Load for paths that may live in Google Storage. client may be nil
// for local paths.
func LoadFrom(ctx context.Context, path string, client *storage.Client) (*Volume, error) {
	r, _, err := sdcprep.MaybeOpenSeekerFromGoogleStorage(ctx, path, client)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	v, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return v, nil
}

// Decode reads a single-file NIfTI-1 image, compressed or not. Voxels are
// converted to float32 and scl_slope/scl_inter are applied, so the returned
// header's scaling no longer describes Data.
func Decode(rs io.ReadSeeker) (*Volume, error) {
	rc, err := sdcprep.MaybeDecompressReadCloser(rs)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, pfx.Err(err)
	}

	header, order, err := ReadHeader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	dims, err := header.dims()
	if err != nil {
		return nil, err
	}

	v, err := New(dims, header)
	if err != nil {
		return nil, err
	}

	if err := decodeVoxels(v.Data, raw, header, order); err != nil {
		return nil, err
	}

	return v, nil
}

// LoadHeader decodes only the header of a local .nii or .nii.gz file.
func LoadHeader(path string) (Header, error) {
	r, _, err := sdcprep.MaybeOpenSeekerFromGoogleStorage(context.Background(), path, nil)
	if err != nil {
		return Header{}, err
	}
	defer r.Close()

	rc, err := sdcprep.MaybeDecompressReadCloser(r)
	if err != nil {
		return Header{}, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}
	defer rc.Close()

	h, _, err := ReadHeader(rc)
	if err != nil {
		return Header{}, fmt.Errorf("%s: %w", path, err)
	}

	return h, nil
}
