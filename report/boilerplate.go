package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/carbocation/sdcprep/sdc"
)

// Entry is one BOLD run as described in the methods text.
type Entry struct {
	Subject     string
	Bold        string
	Strategy    sdc.Strategy
	Fieldmaps   []string
	PEDirection sdc.PEDirection
	// TotalReadoutTime in seconds; 0 when unknown.
	TotalReadoutTime float64
	// Reason explains why the run has no correction, if it has none.
	Reason string
}

// Methods holds the run-wide settings that the boilerplate mentions.
type Methods struct {
	Version  string
	Demean   bool
	Jacobian bool
	SyN      bool
	Ignore   []string
	// BSplineSpacing is the knot distance of fieldmap smoothing in mm; 0 when
	// fieldmaps were not smoothed.
	BSplineSpacing float64
}

// Boilerplate writes the Markdown methods section for entries.
func Boilerplate(m Methods, entries []Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Methods\n\n")
	fmt.Fprintf(&b, "Results included in this manuscript come from preprocessing performed using *sdcprep* %s.\n\n", m.Version)

	fmt.Fprintf(&b, "## Susceptibility distortion correction\n\n")

	byStrategy := make(map[sdc.Strategy][]Entry)
	for _, e := range entries {
		byStrategy[e.Strategy] = append(byStrategy[e.Strategy], e)
	}
	strategies := make([]sdc.Strategy, 0, len(byStrategy))
	for s := range byStrategy {
		strategies = append(strategies, s)
	}
	sort.Slice(strategies, func(i, j int) bool { return strategies[i].Priority() < strategies[j].Priority() })

	if len(entries) == 0 {
		b.WriteString("No BOLD runs were selected for preprocessing.\n")
		return b.String()
	}

	for _, s := range strategies {
		n := len(byStrategy[s])
		fmt.Fprintf(&b, "%s (%d run%s): ", strings.ToUpper(string(s[:1]))+string(s[1:]), n, plural(n))
		b.WriteString(paragraph(s, m))
		b.WriteString("\n\n")
	}

	if len(m.Ignore) > 0 {
		fmt.Fprintf(&b, "The following preprocessing steps were skipped on request: %s.\n\n", strings.Join(m.Ignore, ", "))
	}

	b.WriteString("| Subject | BOLD run | Strategy | Fieldmaps | PE | TRT (s) |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, e := range entries {
		trt := "n/a"
		if e.TotalReadoutTime > 0 {
			trt = fmt.Sprintf("%.5f", e.TotalReadoutTime)
		}
		pe := string(e.PEDirection)
		if pe == "" {
			pe = "n/a"
		}
		strategy := string(e.Strategy)
		if e.Reason != "" {
			strategy += " (" + e.Reason + ")"
		}
		fmaps := strings.Join(e.Fieldmaps, "<br>")
		if fmaps == "" {
			fmaps = "-"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n", e.Subject, e.Bold, strategy, fmaps, pe, trt)
	}

	return b.String()
}

func paragraph(s sdc.Strategy, m Methods) string {
	var p string
	switch s {
	case sdc.StrategyPhaseDiff, sdc.StrategyPhase, sdc.StrategyFieldmap:
		p = fmt.Sprintf("A B0 nonuniformity map was estimated from %s and converted to Hz.", s.Describe())
		if m.Demean {
			p += " The map was demeaned by subtracting its median within a magnitude-derived mask."
		}
		if m.BSplineSpacing > 0 {
			p += fmt.Sprintf(" It was then smoothed with a cubic B-spline kernel with knots %g mm apart.", m.BSplineSpacing)
		}
		p += " The displacement along the phase-encoding direction was computed as the product" +
			" of the field inhomogeneity and the total readout time of the target run, and each" +
			" BOLD series was resampled along that direction"
		if m.Jacobian {
			p += " with Jacobian intensity modulation"
		}
		p += "."
	case sdc.StrategyPEPolar, sdc.StrategySyN:
		p = fmt.Sprintf("Distortion was corrected using %s, estimated by the containerized fMRIPrep pipeline.", s.Describe())
	default:
		p = "No susceptibility distortion correction was applied."
		if !m.SyN {
			p += " Fieldmap-less correction was not requested."
		}
	}
	return p
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
