package bids

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/sdcprep"
	"github.com/gocarina/gocsv"
)

// Participant is one row of participants.tsv. Columns other than these are
// ignored.
type Participant struct {
	ParticipantID string `csv:"participant_id"`
	Age           string `csv:"age"`
	Sex           string `csv:"sex"`
	Group         string `csv:"group"`
}

// Label is the participant id without its sub- prefix.
func (p Participant) Label() string {
	return strings.TrimPrefix(strings.TrimSpace(p.ParticipantID), "sub-")
}

// ReadParticipants reads a participants table. BIDS mandates tabs, but the
// delimiter is sniffed because hand-edited tables often use commas.
func ReadParticipants(ctx context.Context, path string, client *storage.Client) ([]Participant, error) {
	f, _, err := sdcprep.MaybeOpenSeekerFromGoogleStorage(ctx, path, client)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	delim := sdcprep.DetermineDelimiter(f, '\t')
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, pfx.Err(err)
	}

	r := csv.NewReader(f)
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var out []Participant
	if err := gocsv.UnmarshalCSV(r, &out); err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	return out, nil
}

// Participants reads the dataset's participants.tsv, keyed by label. A local
// dataset without the file yields an empty map.
func (l *Layout) Participants(ctx context.Context) (map[string]Participant, error) {
	p := joinRoot(l.Root, "participants.tsv")
	if !sdcprep.IsGoogleStorage(p) {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return map[string]Participant{}, nil
		}
	}

	rows, err := ReadParticipants(ctx, p, l.client)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Participant, len(rows))
	for _, row := range rows {
		out[row.Label()] = row
	}

	return out, nil
}
