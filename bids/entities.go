// Package bids indexes and queries datasets laid out according to the Brain
// Imaging Data Structure.
package bids

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// EntityOrder is the order in which entities appear in BIDS filenames.
var EntityOrder = []string{
	"sub", "ses", "sample", "task", "acq", "ce", "trc", "stain", "rec", "dir",
	"run", "mod", "echo", "flip", "inv", "mt", "part", "proc", "hemi", "space",
	"split", "recording", "chunk", "atlas", "res", "den", "label", "desc",
}

var datatypes = map[string]struct{}{
	"anat": {}, "func": {}, "fmap": {}, "dwi": {}, "perf": {}, "beh": {},
	"eeg": {}, "meg": {}, "ieeg": {}, "pet": {}, "micr": {}, "nirs": {}, "motion": {},
}

// Entities are the key-value pairs of a BIDS filename, e.g. sub=01, task=rest.
type Entities map[string]string

// Subset reports whether every entity of e is present with the same value in
// other.
func (e Entities) Subset(other Entities) bool {
	for k, v := range e {
		if other[k] != v {
			return false
		}
	}

	return true
}

// Without returns a copy of e lacking the named keys.
func (e Entities) Without(keys ...string) Entities {
	out := make(Entities, len(e))
	for k, v := range e {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}

	return out
}

// String renders the entities in filename order, e.g. "sub-01_task-rest".
// Unknown entities follow the known ones alphabetically.
func (e Entities) String() string {
	seen := make(map[string]struct{}, len(e))
	parts := make([]string, 0, len(e))
	for _, k := range EntityOrder {
		if v, ok := e[k]; ok {
			parts = append(parts, k+"-"+v)
			seen[k] = struct{}{}
		}
	}

	extra := make([]string, 0)
	for k := range e {
		if _, ok := seen[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		parts = append(parts, k+"-"+e[k])
	}

	return strings.Join(parts, "_")
}

// File is one indexed file of a dataset.
type File struct {
	// Path is absolute, or a gs:// URL for datasets in Google Storage.
	Path string
	// RelPath is relative to the dataset root, using forward slashes.
	RelPath   string
	Entities  Entities
	Suffix    string
	Extension string
	Datatype  string
}

func (f File) Subject() string { return f.Entities["sub"] }
func (f File) Session() string { return f.Entities["ses"] }

// SubjectRelPath is the path relative to the subject directory, the form
// IntendedFor uses.
func (f File) SubjectRelPath() string {
	return strings.TrimPrefix(f.RelPath, "sub-"+f.Subject()+"/")
}

// IsImage reports whether the file is a NIfTI image.
func (f File) IsImage() bool {
	return f.Extension == ".nii" || f.Extension == ".nii.gz"
}

// SplitExtension separates a filename into its stem and its full extension,
// so that "x_bold.nii.gz" gives "x_bold" and ".nii.gz".
func SplitExtension(name string) (stem, ext string) {
	name = path.Base(name)
	if i := strings.Index(name, "."); i > 0 {
		return name[:i], name[i:]
	}

	return name, ""
}

// ParseFilename decodes the entities, suffix and extension of a BIDS
// filename. Directories are ignored.
func ParseFilename(name string) (Entities, string, string, error) {
	stem, ext := SplitExtension(name)
	if stem == "" || strings.HasPrefix(stem, ".") {
		return nil, "", "", fmt.Errorf("%q is not a BIDS filename", name)
	}

	parts := strings.Split(stem, "_")
	suffix := parts[len(parts)-1]
	if strings.Contains(suffix, "-") {
		return nil, "", "", fmt.Errorf("%q has no suffix", name)
	}

	ents := make(Entities, len(parts)-1)
	for _, part := range parts[:len(parts)-1] {
		kv := strings.SplitN(part, "-", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, "", "", fmt.Errorf("%q: malformed entity %q", name, part)
		}
		if _, dup := ents[kv[0]]; dup {
			return nil, "", "", fmt.Errorf("%q: entity %q repeated", name, kv[0])
		}
		ents[kv[0]] = kv[1]
	}

	return ents, suffix, ext, nil
}

// parseRel builds a File from a slash-separated path relative to the dataset
// root.
func parseRel(root, rel string) (File, error) {
	ents, suffix, ext, err := ParseFilename(rel)
	if err != nil {
		return File{}, err
	}

	f := File{
		Path:      joinRoot(root, rel),
		RelPath:   rel,
		Entities:  ents,
		Suffix:    suffix,
		Extension: ext,
	}

	if dir := path.Base(path.Dir(rel)); dir != "." {
		if _, ok := datatypes[dir]; ok {
			f.Datatype = dir
		}
	}

	return f, nil
}
