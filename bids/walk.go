package bids

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/sdcprep"
	"google.golang.org/api/iterator"
)

// IgnoredDirs are top-level directories that never hold raw data.
var IgnoredDirs = []string{"code", "stimuli", "sourcedata", "models", "derivatives"}

func ignored(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range IgnoredDirs {
		if parts[0] == dir {
			return true
		}
	}
	for _, p := range parts {
		if strings.HasPrefix(p, ".") {
			return true
		}
	}

	return false
}

func joinRoot(root, rel string) string {
	if sdcprep.IsGoogleStorage(root) {
		return strings.TrimSuffix(root, "/") + "/" + rel
	}

	return filepath.Join(root, filepath.FromSlash(rel))
}

// walk lists the files of a dataset as slash-separated paths relative to
// root, sorted.
func walk(ctx context.Context, root string, client *storage.Client) ([]string, error) {
	var out []string
	var err error

	if sdcprep.IsGoogleStorage(root) {
		out, err = walkGoogleStorage(ctx, root, client)
	} else {
		out, err = walkLocal(ctx, root)
	}
	if err != nil {
		return nil, err
	}

	sort.Strings(out)

	return out, nil
}

func walkLocal(ctx context.Context, root string) ([]string, error) {
	var out []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		out = append(out, rel)
		return nil
	})

	return out, err
}

func walkGoogleStorage(ctx context.Context, root string, client *storage.Client) ([]string, error) {
	if client == nil {
		return nil, pfx.Err(fmt.Errorf("a google storage client is required to index %s", root))
	}

	bucket, prefix, err := sdcprep.SplitGoogleStoragePath(root)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var out []string
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, pfx.Err(err)
		}

		rel := strings.TrimPrefix(attrs.Name, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") || ignored(rel) {
			continue
		}
		out = append(out, rel)
	}

	return out, nil
}
