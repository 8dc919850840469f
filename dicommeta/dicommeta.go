// Package dicommeta derives the distortion-correction fields of a BIDS sidecar
// from DICOM headers.
package dicommeta

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/carbocation/sdcprep/sdc"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/dicomtag"
	"github.com/suyashkumar/dicom/element"
)

var (
	tagImageType                      = dicomtag.Tag{Group: 0x0008, Element: 0x0008}
	tagAcquisitionDate                = dicomtag.Tag{Group: 0x0008, Element: 0x0022}
	tagAcquisitionTime                = dicomtag.Tag{Group: 0x0008, Element: 0x0032}
	tagManufacturer                   = dicomtag.Tag{Group: 0x0008, Element: 0x0070}
	tagRepetitionTime                 = dicomtag.Tag{Group: 0x0018, Element: 0x0080}
	tagEchoTime                       = dicomtag.Tag{Group: 0x0018, Element: 0x0081}
	tagMagneticFieldStrength          = dicomtag.Tag{Group: 0x0018, Element: 0x0087}
	tagAcquisitionMatrix              = dicomtag.Tag{Group: 0x0018, Element: 0x1310}
	tagInPlanePhaseEncodingDirection  = dicomtag.Tag{Group: 0x0018, Element: 0x1312}
	tagParallelReductionFactorInPlane = dicomtag.Tag{Group: 0x0018, Element: 0x9069}
	tagRows                           = dicomtag.Tag{Group: 0x0028, Element: 0x0010}
	tagColumns                        = dicomtag.Tag{Group: 0x0028, Element: 0x0011}

	// Siemens private CSA field.
	tagBandwidthPerPixelPhaseEncode = dicomtag.Tag{Group: 0x0019, Element: 0x1028}
)

// Result is what could be derived from one DICOM file.
type Result struct {
	Metadata     sdc.Metadata
	Manufacturer string
	Rows         int
	Columns      int
	// AcquiredAt is zero when the acquisition date is missing or unreadable.
	AcquiredAt time.Time
	// PolarityUnknown is set when a phase-encoding axis was found. Standard
	// tags do not say whether it runs forwards or backwards, so the direction
	// is reported without a "-" and must be checked by hand.
	PolarityUnknown bool
}

// SafelyDicomParse consumes panics emitted by the dicom library, which are
// inappropriate and must be captured in order to turn them into recoverable
// errors.
func SafelyDicomParse(p dicom.Parser, opts dicom.ParseOptions) (parsedData *element.DataSet, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	return p.Parse(opts)
}

// TagMap parses a DICOM file, without pixel data, into its tag values.
func TagMap(dicomReader io.Reader) (out map[dicomtag.Tag][]interface{}, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			out, err = nil, fmt.Errorf("reading dicom: %v", panicErr)
		}
	}()

	dcm, err := io.ReadAll(dicomReader)
	if err != nil {
		return nil, err
	}

	p, err := dicom.NewParserFromBytes(dcm, nil)
	if err != nil {
		return nil, err
	}

	parsedData, err := SafelyDicomParse(p, dicom.ParseOptions{
		DropPixelData: true,
	})
	if parsedData == nil || err != nil {
		return nil, fmt.Errorf("error reading dicom: %v", err)
	}

	out = make(map[dicomtag.Tag][]interface{})
	for _, elem := range parsedData.Elements {
		if elem == nil {
			continue
		}
		out[elem.Tag] = elem.Value
	}

	return out, nil
}

// FromReader derives sidecar fields from a DICOM file.
func FromReader(r io.Reader) (Result, error) {
	tags, err := TagMap(r)
	if err != nil {
		return Result{}, err
	}

	return FromTags(tags)
}

// FromTags derives sidecar fields from parsed DICOM tag values. Times are
// converted from milliseconds to seconds. When the phase-encoding bandwidth is
// known, the effective echo spacing and total readout time are computed from
// it and the reconstructed matrix size along the phase-encoding axis.
func FromTags(tags map[dicomtag.Tag][]interface{}) (Result, error) {
	var out Result

	out.Manufacturer, _ = stringValue(tags[tagManufacturer])

	if ms, ok := floatValue(tags[tagEchoTime]); ok {
		out.Metadata.EchoTime = sdc.Float(ms / 1000)
	}
	if ms, ok := floatValue(tags[tagRepetitionTime]); ok {
		out.Metadata.RepetitionTime = sdc.Float(ms / 1000)
	}
	if b0, ok := floatValue(tags[tagMagneticFieldStrength]); ok {
		out.Metadata.MagneticFieldStrength = sdc.Float(b0)
	}
	if acc, ok := floatValue(tags[tagParallelReductionFactorInPlane]); ok && acc > 0 {
		out.Metadata.ParallelReductionFactorInPlane = sdc.Float(acc)
	}

	if v, ok := floatValue(tags[tagRows]); ok {
		out.Rows = int(v)
	}
	if v, ok := floatValue(tags[tagColumns]); ok {
		out.Columns = int(v)
	}

	dir, _ := stringValue(tags[tagInPlanePhaseEncodingDirection])
	var reconMatrixPE int
	switch strings.ToUpper(strings.TrimSpace(dir)) {
	case "ROW":
		out.Metadata.PhaseEncodingDirection = "i"
		reconMatrixPE = out.Columns
	case "COL":
		out.Metadata.PhaseEncodingDirection = "j"
		reconMatrixPE = out.Rows
	case "":
	default:
		return out, fmt.Errorf("unrecognized InPlanePhaseEncodingDirection %q", dir)
	}
	out.PolarityUnknown = out.Metadata.PhaseEncodingDirection != ""

	// Mosaics tile many slices into one frame, so Rows and Columns describe
	// the tile rather than the slice.
	if isMosaic(tags[tagImageType]) && out.Metadata.PhaseEncodingDirection != "" {
		reconMatrixPE = mosaicPELines(tags[tagAcquisitionMatrix], out.Metadata.PhaseEncodingDirection)
	}

	if date, ok := stringValue(tags[tagAcquisitionDate]); ok && date != "" {
		tm, _ := stringValue(tags[tagAcquisitionTime])
		if at, err := acquiredAt(date, tm); err == nil {
			out.AcquiredAt = at
			stamp, _ := json.Marshal(at.Format("2006-01-02T15:04:05.000000"))
			out.Metadata.Raw = map[string]json.RawMessage{"AcquisitionDateTime": stamp}
		}
	}

	bw, ok := floatValue(tags[tagBandwidthPerPixelPhaseEncode])
	if ok && bw > 0 && reconMatrixPE > 1 {
		ees := 1 / (bw * float64(reconMatrixPE))
		out.Metadata.EffectiveEchoSpacing = sdc.Float(ees)
		out.Metadata.TotalReadoutTime = sdc.Float(ees * float64(reconMatrixPE-1))
	}

	return out, nil
}

// acquiredAt combines a DICOM date with an HHMMSS.FFFFFF time of day.
func acquiredAt(date, tm string) (time.Time, error) {
	d, err := dateparse.ParseAny(date)
	if err != nil {
		return time.Time{}, err
	}
	if tm == "" {
		return d, nil
	}

	hms, frac, _ := strings.Cut(tm, ".")
	clock, err := time.Parse("150405", hms)
	if err != nil {
		// Try some known values that are not to the standard
		if clock, err = time.Parse("15:04:05", hms); err != nil {
			return time.Time{}, err
		}
	}

	var nsec int
	if frac != "" {
		frac = (frac + "000000000")[:9]
		if nsec, err = strconv.Atoi(frac); err != nil {
			return time.Time{}, fmt.Errorf("acquisition time %q: %w", tm, err)
		}
	}

	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), clock.Second(), nsec, time.UTC), nil
}

func isMosaic(values []interface{}) bool {
	for _, v := range values {
		if s, ok := v.(string); ok && strings.EqualFold(strings.TrimSpace(s), "MOSAIC") {
			return true
		}
	}

	return false
}

// mosaicPELines reads the phase-encoding line count from AcquisitionMatrix,
// which holds frequency rows, frequency columns, phase rows and phase columns.
func mosaicPELines(values []interface{}, pe sdc.PEDirection) int {
	if len(values) != 4 {
		return 0
	}

	var m [4]int
	for i, v := range values {
		f, ok := floatValue([]interface{}{v})
		if !ok {
			return 0
		}
		m[i] = int(f)
	}

	if pe == "j" {
		return m[2]
	}

	return m[3]
}

func stringValue(values []interface{}) (string, bool) {
	if len(values) == 0 {
		return "", false
	}

	switch v := values[0].(type) {
	case string:
		return strings.TrimSpace(v), true
	case []byte:
		return strings.TrimSpace(strings.TrimRight(string(v), "\x00")), true
	}

	return "", false
}

// floatValue interprets the first value of a tag as a number. Decimal strings,
// the integer and float types the parser produces, and the raw 8-byte
// little-endian doubles of unknown private tags are all accepted.
func floatValue(values []interface{}) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}

	switch v := values[0].(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case uint16:
		return float64(v), true
	case int16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case int32:
		return float64(v), true
	case int:
		return float64(v), true
	case []byte:
		if len(v) == 8 {
			return math.Float64frombits(binary.LittleEndian.Uint64(v)), true
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(string(v), "\x00")), 64)
		return f, err == nil
	}

	return 0, false
}
