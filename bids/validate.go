package bids

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carbocation/sdcprep"
)

// DatasetDescription is dataset_description.json.
type DatasetDescription struct {
	Name        string        `json:"Name"`
	BIDSVersion string        `json:"BIDSVersion"`
	DatasetType string        `json:"DatasetType,omitempty"`
	License     string        `json:"License,omitempty"`
	GeneratedBy []GeneratedBy `json:"GeneratedBy,omitempty"`
}

type GeneratedBy struct {
	Name        string `json:"Name"`
	Version     string `json:"Version,omitempty"`
	CodeURL     string `json:"CodeURL,omitempty"`
	Description string `json:"Description,omitempty"`
}

// ValidationError lists everything wrong with a dataset.
type ValidationError struct {
	Root     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is not a valid BIDS dataset: %s", e.Root, strings.Join(e.Problems, "; "))
}

// Description reads the dataset's dataset_description.json.
func (l *Layout) Description(ctx context.Context) (DatasetDescription, error) {
	p := joinRoot(l.Root, "dataset_description.json")

	r, _, err := sdcprep.MaybeOpenSeekerFromGoogleStorage(ctx, p, l.client)
	if err != nil {
		return DatasetDescription{}, err
	}
	defer r.Close()

	var out DatasetDescription
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return DatasetDescription{}, fmt.Errorf("%s: %w", p, err)
	}

	return out, nil
}

// Validate checks the minimal structure sdcprep relies on: a dataset
// description naming the dataset and its BIDS version, at least one subject,
// and every requested participant label.
func (l *Layout) Validate(ctx context.Context, labels []string) error {
	verr := &ValidationError{Root: l.Root}

	desc, err := l.Description(ctx)
	switch {
	case err != nil:
		verr.Problems = append(verr.Problems, fmt.Sprintf("dataset_description.json: %v", err))
	default:
		if desc.Name == "" {
			verr.Problems = append(verr.Problems, "dataset_description.json has no Name")
		}
		if desc.BIDSVersion == "" {
			verr.Problems = append(verr.Problems, "dataset_description.json has no BIDSVersion")
		}
	}

	subjects, err := l.Subjects()
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		verr.Problems = append(verr.Problems, "no sub-* directories found")
	}

	if missing := MissingSubjects(subjects, labels); len(missing) > 0 {
		verr.Problems = append(verr.Problems, fmt.Sprintf("participant label(s) not found: %s", strings.Join(missing, ", ")))
	}

	if len(verr.Problems) > 0 {
		return verr
	}

	return nil
}

// MissingSubjects returns the requested labels absent from subjects.
func MissingSubjects(subjects, labels []string) []string {
	have := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		have[s] = struct{}{}
	}

	var missing []string
	for _, label := range labels {
		if _, ok := have[strings.TrimPrefix(label, "sub-")]; !ok {
			missing = append(missing, label)
		}
	}

	return missing
}
