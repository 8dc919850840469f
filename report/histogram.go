package report

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/montanaflynn/stats"
	"github.com/wcharczuk/go-chart/v2"
)

// DefaultBins is the histogram resolution of fieldmap reportlets.
const DefaultBins = 64

// Bins counts values into n equal-width bins over [lo, hi]. It returns the bin
// centers and counts.
func Bins(values []float64, n int, lo, hi float64) (centers, counts []float64) {
	if n <= 0 || hi <= lo {
		return nil, nil
	}

	width := (hi - lo) / float64(n)
	centers = make([]float64, n)
	counts = make([]float64, n)
	for i := range centers {
		centers[i] = lo + width*(float64(i)+0.5)
	}

	for _, v := range values {
		if v < lo || v > hi || math.IsNaN(v) {
			continue
		}
		i := int((v - lo) / width)
		if i == n {
			i--
		}
		counts[i]++
	}

	return centers, counts
}

// Histogram renders the distribution of values (typically fieldmap Hz within
// the brain mask) as a PNG line chart over the 1st-99th percentile range.
func Histogram(w io.Writer, values []float64, title string) error {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return fmt.Errorf("histogram %q: no finite values", title)
	}

	lo, err := stats.Percentile(finite, 1)
	if err != nil {
		return err
	}
	hi, err := stats.Percentile(finite, 99)
	if err != nil {
		return err
	}
	if hi <= lo {
		hi = lo + 1
	}

	centers, counts := Bins(finite, DefaultBins, lo, hi)

	graph := chart.Chart{
		Title:  title,
		Width:  640,
		Height: 320,
		XAxis: chart.XAxis{
			Name: "Hz",
		},
		YAxis: chart.YAxis{
			Name: "voxels",
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    title,
				XValues: centers,
				YValues: counts,
			},
		},
	}

	// Render to a byte buffer
	buffer := bytes.NewBuffer([]byte{})
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return err
	}

	_, err = buffer.WriteTo(w)
	return err
}

// WriteHistogram saves Histogram output to path.
func WriteHistogram(path string, values []float64, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Histogram(f, values, title); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
