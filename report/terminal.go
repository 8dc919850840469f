package report

import (
	"fmt"
	"io"
	"math"

	"github.com/aybabtme/uniplot/histogram"
)

// TerminalHistogram prints the distribution of the finite values as text bars
// of at most width characters.
func TerminalHistogram(w io.Writer, values []float64, bins, width int) error {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return fmt.Errorf("histogram: no finite values")
	}

	hist := histogram.Hist(max(bins, 1), finite)
	return histogram.Fprint(w, hist, histogram.Linear(max(width, 1)))
}
