package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/carbocation/sdcprep"
	"github.com/carbocation/sdcprep/bids"
	"github.com/carbocation/sdcprep/sdc"
	"github.com/carbocation/sdcprep/volume"
)

// sidecarFor is the JSON file next to an image.
func sidecarFor(image string) string {
	stem, _ := bids.SplitExtension(image)
	if i := strings.LastIndex(image, "/"); i >= 0 {
		return image[:i+1] + stem + ".json"
	}
	return stem + ".json"
}

func (a *app) readMeta(ctx context.Context, path string) (sdc.Metadata, error) {
	client, err := a.storageClient(ctx, path)
	if err != nil {
		return sdc.Metadata{}, err
	}

	r, _, err := sdcprep.MaybeOpenSeekerFromGoogleStorage(ctx, path, client)
	if err != nil {
		return sdc.Metadata{}, err
	}
	defer r.Close()

	return sdc.ParseMetadata(r)
}

// readMetaOptional reads a sidecar, treating a missing local file as empty.
func (a *app) readMetaOptional(ctx context.Context, path string) (sdc.Metadata, error) {
	if !sdcprep.IsGoogleStorage(path) {
		if _, err := os.Stat(sdcprep.ExpandHome(path)); errors.Is(err, fs.ErrNotExist) {
			a.logger.Debug("no sidecar", "path", path)
			return sdc.Metadata{}, nil
		}
	}
	return a.readMeta(ctx, path)
}

func (a *app) loadVolume(ctx context.Context, path string) (*volume.Volume, error) {
	client, err := a.storageClient(ctx, path)
	if err != nil {
		return nil, err
	}
	return volume.LoadFrom(ctx, path, client)
}

// imageShape returns the spatial shape of an image, reading only the header
// of local files.
func (a *app) imageShape(ctx context.Context, path string) ([3]int, error) {
	if !sdcprep.IsGoogleStorage(path) {
		hdr, err := volume.LoadHeader(path)
		if err != nil {
			return [3]int{}, err
		}
		return [3]int{int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])}, nil
	}

	v, err := a.loadVolume(ctx, path)
	if err != nil {
		return [3]int{}, err
	}
	return v.Shape(), nil
}

func save(v *volume.Volume, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return v.Save(path)
}
