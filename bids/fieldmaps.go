package bids

import (
	"context"
	"fmt"
	"sort"

	"github.com/carbocation/sdcprep/sdc"
)

// BIDSURIPrefix marks IntendedFor entries relative to the dataset root.
const BIDSURIPrefix = "bids::"

var primaryFieldmapSuffixes = map[string]sdc.Strategy{
	"epi":       sdc.StrategyPEPolar,
	"fieldmap":  sdc.StrategyFieldmap,
	"phasediff": sdc.StrategyPhaseDiff,
	"phase1":    sdc.StrategyPhase,
	"phase2":    sdc.StrategyPhase,
}

// FieldmapSet is a group of fmap files that together estimate one B0 field.
type FieldmapSet struct {
	Strategy sdc.Strategy
	// Key names the entities the files share, e.g. "sub-01_acq-gre".
	Key   string
	Files []File
}

// First returns the first file with the given suffix.
func (s FieldmapSet) First(suffix string) (File, bool) {
	for _, f := range s.Files {
		if f.Suffix == suffix {
			return f, true
		}
	}

	return File{}, false
}

// All returns every file with the given suffix.
func (s FieldmapSet) All(suffix string) []File {
	var out []File
	for _, f := range s.Files {
		if f.Suffix == suffix {
			out = append(out, f)
		}
	}

	return out
}

// intends reports whether the fmap sidecar points at target, either through
// IntendedFor or through B0FieldIdentifier/B0FieldSource.
func intends(fmapMeta, targetMeta sdc.Metadata, target File) bool {
	for _, entry := range fmapMeta.IntendedFor {
		switch entry {
		case target.SubjectRelPath(), target.RelPath, BIDSURIPrefix + target.RelPath:
			return true
		}
	}

	for _, id := range fmapMeta.B0FieldIdentifier {
		for _, src := range targetMeta.B0FieldSource {
			if id == src {
				return true
			}
		}
	}

	return false
}

// Fieldmaps finds the fieldmap sets that apply to target. Sets that lack a
// required file are not returned; the reasons they were dropped are.
func (l *Layout) Fieldmaps(ctx context.Context, target File) ([]FieldmapSet, []string, error) {
	targetMeta, err := l.Metadata(ctx, target)
	if err != nil {
		return nil, nil, err
	}

	fmaps, err := l.Get(Query{
		Subject:    target.Subject(),
		Datatype:   "fmap",
		Extensions: []string{".nii.gz", ".nii"},
	})
	if err != nil {
		return nil, nil, err
	}

	groups := make(map[string][]File)
	intended := make(map[string]bool)
	for _, f := range fmaps {
		key := f.Entities.Without("dir").String()
		groups[key] = append(groups[key], f)

		if _, ok := primaryFieldmapSuffixes[f.Suffix]; !ok {
			continue
		}
		meta, err := l.Metadata(ctx, f)
		if err != nil {
			return nil, nil, err
		}
		if intends(meta, targetMeta, target) {
			intended[key] = true
		}
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		if intended[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var sets []FieldmapSet
	var dropped []string
	for _, key := range keys {
		s, d := assemble(key, groups[key])
		sets = append(sets, s...)
		dropped = append(dropped, d...)
	}

	sort.SliceStable(sets, func(i, j int) bool {
		return sets[i].Strategy.Priority() < sets[j].Strategy.Priority()
	})

	return sets, dropped, nil
}

// assemble sorts the files of one group into complete fieldmap sets.
func assemble(key string, files []File) ([]FieldmapSet, []string) {
	bySuffix := make(map[string][]File)
	for _, f := range files {
		bySuffix[f.Suffix] = append(bySuffix[f.Suffix], f)
	}
	has := func(suffix string) bool { return len(bySuffix[suffix]) > 0 }
	magnitudes := func(suffixes ...string) []File {
		var out []File
		for _, s := range suffixes {
			out = append(out, bySuffix[s]...)
		}
		return out
	}

	var sets []FieldmapSet
	var dropped []string

	if has("epi") {
		sets = append(sets, FieldmapSet{Strategy: sdc.StrategyPEPolar, Key: key, Files: bySuffix["epi"]})
	}

	if has("fieldmap") {
		if has("magnitude") {
			files := append(append([]File{}, bySuffix["fieldmap"]...), bySuffix["magnitude"]...)
			sets = append(sets, FieldmapSet{Strategy: sdc.StrategyFieldmap, Key: key, Files: files})
		} else {
			dropped = append(dropped, fmt.Sprintf("%s: fieldmap without magnitude", key))
		}
	}

	if has("phasediff") {
		if has("magnitude1") {
			files := append(append([]File{}, bySuffix["phasediff"]...), magnitudes("magnitude1", "magnitude2")...)
			sets = append(sets, FieldmapSet{Strategy: sdc.StrategyPhaseDiff, Key: key, Files: files})
		} else {
			dropped = append(dropped, fmt.Sprintf("%s: phasediff without magnitude1", key))
		}
	}

	if has("phase1") || has("phase2") {
		switch {
		case !has("phase1") || !has("phase2"):
			dropped = append(dropped, fmt.Sprintf("%s: phase1 and phase2 must both be present", key))
		case !has("magnitude1"):
			dropped = append(dropped, fmt.Sprintf("%s: phase images without magnitude1", key))
		default:
			files := append(append([]File{}, bySuffix["phase1"]...), bySuffix["phase2"]...)
			files = append(files, magnitudes("magnitude1", "magnitude2")...)
			sets = append(sets, FieldmapSet{Strategy: sdc.StrategyPhase, Key: key, Files: files})
		}
	}

	return sets, dropped
}
