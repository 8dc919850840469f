package bids

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DerivativePath names a derivative of source inside outDir, in the datatype
// directory of source, e.g.
// <out>/sub-01/ses-1/func/sub-01_ses-1_task-rest_desc-sdc_bold.nii.gz.
func DerivativePath(outDir string, source File, desc, suffix, ext string) string {
	return DerivativeIn(outDir, source.Datatype, source, desc, suffix, ext)
}

// DerivativeIn is DerivativePath with an explicit datatype directory.
func DerivativeIn(outDir, datatype string, source File, desc, suffix, ext string) string {
	ents := source.Entities.Without("desc")
	if desc != "" {
		ents["desc"] = desc
	}

	dir := filepath.Join(outDir, "sub-"+source.Subject())
	if ses := source.Session(); ses != "" {
		dir = filepath.Join(dir, "ses-"+ses)
	}
	if datatype != "" {
		dir = filepath.Join(dir, datatype)
	}

	name := suffix + ext
	if s := ents.String(); s != "" {
		name = s + "_" + name
	}

	return filepath.Join(dir, name)
}

// WriteDerivativeDescription marks outDir as a derivative dataset.
func WriteDerivativeDescription(outDir string, source DatasetDescription, generatedBy GeneratedBy) error {
	desc := DatasetDescription{
		Name:        source.Name + " (sdcprep derivatives)",
		BIDSVersion: source.BIDSVersion,
		DatasetType: "derivative",
		GeneratedBy: []GeneratedBy{generatedBy},
	}
	if desc.BIDSVersion == "" {
		desc.BIDSVersion = "1.8.0"
	}

	b, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(outDir, "dataset_description.json"), append(b, '\n'), 0o644)
}
