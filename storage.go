package sdcprep

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

// GSPrefix marks a path as a Google Storage object.
const GSPrefix = "gs://"

type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

// IsGoogleStorage reports whether path points into a Google Storage bucket.
func IsGoogleStorage(path string) bool {
	return strings.HasPrefix(path, GSPrefix)
}

// SplitGoogleStoragePath splits gs://bucket/some/object into its bucket and
// object names. The object may be empty when only a bucket is named.
func SplitGoogleStoragePath(path string) (bucket, object string, err error) {
	if !IsGoogleStorage(path) {
		return "", "", fmt.Errorf("%s is not a google storage path", path)
	}

	pathParts := strings.SplitN(strings.TrimPrefix(path, GSPrefix), "/", 2)
	if pathParts[0] == "" {
		return "", "", fmt.Errorf("%s: missing bucket name", path)
	}
	if len(pathParts) == 1 {
		return pathParts[0], "", nil
	}

	return pathParts[0], pathParts[1], nil
}

// GSReadSeekCloser decorates a Google Storage object handle with io.Reader,
// io.Seeker and io.Closer. Seeking closes the current range reader and the next
// Read opens a new one at the requested offset.
type GSReadSeekCloser struct {
	*storage.ObjectHandle
	Context context.Context
	Size    int64
	r       *storage.Reader
	offset  int64
}

func (s *GSReadSeekCloser) Read(buf []byte) (int, error) {
	var err error
	if s.r == nil {
		s.r, err = s.NewRangeReader(s.Context, s.offset, -1)
		if err != nil {
			return 0, err
		}
	}

	n, err := s.r.Read(buf)
	s.offset += int64(n)

	return n, err
}

func (s *GSReadSeekCloser) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64

	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = s.offset + offset
	case io.SeekEnd:
		newOffset = s.Size + offset
	default:
		return 0, fmt.Errorf("io.Seeker 'whence' value %d is not implemented", whence)
	}

	if newOffset < 0 {
		return 0, fmt.Errorf("seek to negative offset %d", newOffset)
	}

	if s.r != nil && newOffset != s.offset {
		s.r.Close()
		s.r = nil
	}
	s.offset = newOffset

	return s.offset, nil
}

// Close releases the open range reader, if any.
func (s *GSReadSeekCloser) Close() error {
	if s.r == nil {
		return nil
	}

	err := s.r.Close()
	s.r = nil

	return err
}

// MaybeOpenSeekerFromGoogleStorage opens path for reading. Paths beginning with
// gs:// are read through client; everything else is opened from the local
// filesystem. The size of the file is returned alongside the reader.
func MaybeOpenSeekerFromGoogleStorage(ctx context.Context, path string, client *storage.Client) (ReadSeekCloser, int64, error) {
	if IsGoogleStorage(path) {
		if client == nil {
			return nil, 0, fmt.Errorf("%s: a google storage client is required for gs:// paths", path)
		}

		bucketName, objectName, err := SplitGoogleStoragePath(path)
		if err != nil {
			return nil, 0, err
		}

		handle := client.Bucket(bucketName).Object(objectName)

		// Make a hard call to get the filesize
		attrs, err := handle.Attrs(ctx)
		if err != nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: %s", path, err))
		}

		return &GSReadSeekCloser{
			ObjectHandle: handle,
			Context:      ctx,
			Size:         attrs.Size,
		}, attrs.Size, nil
	}

	f, err := os.Open(ExpandHome(path))
	if err != nil {
		return nil, 0, err
	}
	fstat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	return f, fstat.Size(), nil
}
