package bids

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/carbocation/sdcprep"
	"github.com/carbocation/sdcprep/sdc"
)

func depth(rel string) int {
	dir := path.Dir(rel)
	if dir == "." {
		return 0
	}

	return strings.Count(dir, "/") + 1
}

// within reports whether the directory of rel contains, or is, the directory
// of target.
func within(rel, target string) bool {
	dir := path.Dir(rel)
	if dir == "." {
		return true
	}

	return path.Dir(target) == dir || strings.HasPrefix(path.Dir(target)+"/", dir+"/")
}

// Sidecars lists the JSON sidecars that apply to f under the inheritance
// principle, from the least to the most specific.
func (l *Layout) Sidecars(f File) ([]File, error) {
	candidates, err := l.Get(Query{Suffix: f.Suffix, Extensions: []string{".json"}})
	if err != nil {
		return nil, err
	}

	var out []File
	for _, c := range candidates {
		if !c.Entities.Subset(f.Entities) || !within(c.RelPath, f.RelPath) {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if di, dj := depth(out[i].RelPath), depth(out[j].RelPath); di != dj {
			return di < dj
		}
		return len(out[i].Entities) < len(out[j].Entities)
	})

	return out, nil
}

// Metadata merges every sidecar that applies to f, with deeper and more
// specific sidecars overriding shallower ones.
func (l *Layout) Metadata(ctx context.Context, f File) (sdc.Metadata, error) {
	sidecars, err := l.Sidecars(f)
	if err != nil {
		return sdc.Metadata{}, err
	}

	parsed := make([]sdc.Metadata, 0, len(sidecars))
	for _, s := range sidecars {
		m, err := l.readSidecar(ctx, s.Path)
		if err != nil {
			return sdc.Metadata{}, err
		}
		parsed = append(parsed, m)
	}

	return sdc.Merge(parsed...)
}

func (l *Layout) readSidecar(ctx context.Context, p string) (sdc.Metadata, error) {
	r, _, err := sdcprep.MaybeOpenSeekerFromGoogleStorage(ctx, p, l.client)
	if err != nil {
		return sdc.Metadata{}, err
	}
	defer r.Close()

	m, err := sdc.ParseMetadata(r)
	if err != nil {
		return sdc.Metadata{}, fmt.Errorf("%s: %w", p, err)
	}

	return m, nil
}
