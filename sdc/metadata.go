package sdc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// StringList decodes a JSON value that may be either a single string or a
// list of strings, as IntendedFor and B0FieldSource are in the wild.
type StringList []string

func (s *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}

	if b[0] == '"' {
		var single string
		if err := json.Unmarshal(b, &single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many

	return nil
}

// Metadata holds the sidecar fields that drive distortion correction. Numbers
// are pointers so that absent and zero can be told apart. Raw retains every
// key of the decoded sidecars, including ones not modeled here.
type Metadata struct {
	EffectiveEchoSpacing           *float64    `json:"EffectiveEchoSpacing,omitempty"`
	TotalReadoutTime               *float64    `json:"TotalReadoutTime,omitempty"`
	ParallelReductionFactorInPlane *float64    `json:"ParallelReductionFactorInPlane,omitempty"`
	PhaseEncodingDirection         PEDirection `json:"PhaseEncodingDirection,omitempty"`
	WaterFatShift                  *float64    `json:"WaterFatShift,omitempty"`
	MagneticFieldStrength          *float64    `json:"MagneticFieldStrength,omitempty"`
	EchoTime                       *float64    `json:"EchoTime,omitempty"`
	EchoTime1                      *float64    `json:"EchoTime1,omitempty"`
	EchoTime2                      *float64    `json:"EchoTime2,omitempty"`
	EchoTimeDifference             *float64    `json:"EchoTimeDifference,omitempty"`
	Units                          string      `json:"Units,omitempty"`
	IntendedFor                    StringList  `json:"IntendedFor,omitempty"`
	B0FieldIdentifier              StringList  `json:"B0FieldIdentifier,omitempty"`
	B0FieldSource                  StringList  `json:"B0FieldSource,omitempty"`
	TaskName                       string      `json:"TaskName,omitempty"`
	RepetitionTime                 *float64    `json:"RepetitionTime,omitempty"`
	SliceTiming                    []float64   `json:"SliceTiming,omitempty"`

	Raw map[string]json.RawMessage `json:"-"`
}

// Float returns a pointer to v, for filling optional Metadata fields.
func Float(v float64) *float64 {
	return &v
}

// ParseMetadata decodes one JSON sidecar.
func ParseMetadata(r io.Reader) (Metadata, error) {
	raw := make(map[string]json.RawMessage)
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Metadata{}, fmt.Errorf("decoding sidecar: %w", err)
	}

	return fromRaw(raw)
}

func fromRaw(raw map[string]json.RawMessage) (Metadata, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return Metadata{}, err
	}

	var out Metadata
	if err := json.Unmarshal(b, &out); err != nil {
		return Metadata{}, fmt.Errorf("decoding sidecar: %w", err)
	}
	out.Raw = raw

	return out, nil
}

// Merge combines sidecars in order, with keys from later sidecars replacing
// keys from earlier ones. The merge is shallow, as in the BIDS inheritance
// principle.
func Merge(sidecars ...Metadata) (Metadata, error) {
	raw := make(map[string]json.RawMessage)
	for _, m := range sidecars {
		r, err := m.flatten()
		if err != nil {
			return Metadata{}, err
		}
		for k, v := range r {
			raw[k] = v
		}
	}

	return fromRaw(raw)
}

func (m Metadata) toRaw() (map[string]json.RawMessage, error) {
	type plain Metadata
	b, err := json.Marshal(plain(m))
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage)
	err = json.Unmarshal(b, &out)

	return out, err
}

// MarshalJSON writes the retained raw keys overlaid with the modeled fields.
func (m Metadata) MarshalJSON() ([]byte, error) {
	merged, err := m.flatten()
	if err != nil {
		return nil, err
	}

	return json.Marshal(merged)
}

func (m Metadata) flatten() (map[string]json.RawMessage, error) {
	fields, err := m.toRaw()
	if err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(m.Raw)+len(fields))
	for k, v := range m.Raw {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return merged, nil
}
