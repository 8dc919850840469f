package sdc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPEDirection is returned for phase-encoding directions other than
// i, j or k with an optional trailing "-".
var ErrInvalidPEDirection = errors.New("invalid phase-encoding direction")

// PEDirection is a BIDS PhaseEncodingDirection, e.g. "j-".
type PEDirection string

// Axis returns the voxel axis (0, 1 or 2) along which phase is encoded.
func (pe PEDirection) Axis() (int, error) {
	switch strings.TrimSuffix(string(pe), "-") {
	case "i":
		return 0, nil
	case "j":
		return 1, nil
	case "k":
		return 2, nil
	}

	return -1, fmt.Errorf("%w: %q is an invalid PE string", ErrInvalidPEDirection, string(pe))
}

// Sign is -1 for reversed ("-") directions and +1 otherwise.
func (pe PEDirection) Sign() float64 {
	if strings.HasSuffix(string(pe), "-") {
		return -1
	}

	return 1
}

func (pe PEDirection) Valid() bool {
	_, err := pe.Axis()
	return err == nil
}
