package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/carbocation/sdcprep/bids"
	"github.com/carbocation/sdcprep/config"
	"github.com/carbocation/sdcprep/report"
	"github.com/carbocation/sdcprep/sdc"
	"github.com/carbocation/sdcprep/volume"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// CitationFile is the boilerplate written to the log directory.
const CitationFile = "CITATION.md"

// Runner carries out native plans for one dataset.
type Runner struct {
	Layout *bids.Layout
	Config *config.Config
	Logger *log.Logger
}

// Outcome reports what happened to one plan.
type Outcome struct {
	Plan RunPlan
	// Outputs lists the files written.
	Outputs []string
	// Skipped explains plans that were not processed.
	Skipped string
	Err     error
	Elapsed time.Duration
}

func (r *Runner) logger() *log.Logger {
	if r.Logger == nil {
		return log.Default()
	}
	return r.Logger
}

// Entries converts plans to boilerplate entries. The readout time of each run
// is filled in when its metadata allows.
func (r *Runner) Entries(ctx context.Context, plans []RunPlan) []report.Entry {
	out := make([]report.Entry, 0, len(plans))
	for _, p := range plans {
		e := report.Entry{
			Subject:  p.Subject,
			Bold:     p.Bold.RelPath,
			Strategy: p.Strategy,
			Reason:   p.Reason,
		}
		if set, ok := p.Fieldmap(); ok {
			for _, f := range set.Files {
				e.Fieldmaps = append(e.Fieldmaps, filepath.Base(f.RelPath))
			}
		}
		if meta, err := r.Layout.Metadata(ctx, p.Bold); err == nil {
			e.PEDirection = meta.PhaseEncodingDirection
			if hdr, err := volume.LoadHeader(p.Bold.Path); err == nil {
				shape := [3]int{int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])}
				if trt, err := sdc.TotalReadoutTimeOrDefault(meta, shape, r.Config.Workflow.AssumeDefaultEES); err == nil {
					e.TotalReadoutTime = trt
				}
			}
		}
		out = append(out, e)
	}
	return out
}

// Boilerplate renders the methods text for plans.
func (r *Runner) Boilerplate(ctx context.Context, plans []RunPlan) string {
	cfg := r.Config
	m := report.Methods{
		Version:  cfg.Execution.Version,
		Demean:   cfg.Workflow.FmapDemean,
		Jacobian: cfg.Workflow.FmapJacobian,
		SyN:      cfg.Workflow.UseSyN,
		Ignore:   cfg.Workflow.Ignore,
	}
	if cfg.Workflow.FmapBSpline {
		m.BSplineSpacing = cfg.Workflow.BSplineSpacing
	}
	return report.Boilerplate(m, r.Entries(ctx, plans))
}

// CleanWorkdir empties the work directory when clean_workdir is set. It must
// run before the dataset index, which lives in the work directory, is built.
func CleanWorkdir(cfg *config.Config, logger *log.Logger) error {
	e := cfg.Execution
	if !e.CleanWorkdir || e.WorkDir == "" {
		return nil
	}

	if logger != nil {
		logger.Info("cleaning work directory", "dir", e.WorkDir)
	}
	if err := os.RemoveAll(e.WorkDir); err != nil {
		return err
	}
	return os.MkdirAll(e.WorkDir, 0o755)
}

func (r *Runner) prepareDirs(ctx context.Context, plans []RunPlan) error {
	e := r.Config.Execution

	for _, dir := range []string{e.WorkDir, e.LogDir, e.OutputDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	if e.WorkDir != "" {
		if err := r.Config.WriteFile(r.Config.DumpPath()); err != nil {
			return err
		}
	}

	if e.LogDir != "" {
		citation := filepath.Join(e.LogDir, CitationFile)
		if err := os.WriteFile(citation, []byte(r.Boilerplate(ctx, plans)), 0o644); err != nil {
			return err
		}
		r.logger().Info("wrote boilerplate", "path", citation)
	}

	return nil
}

// Run processes plans, at most resources.nprocs at a time. Plans that need
// the containerized pipeline, or have no correction, are skipped. Unless
// stop_on_first_crash is set every plan runs and all failures are returned
// together.
func (r *Runner) Run(ctx context.Context, plans []RunPlan) ([]Outcome, error) {
	if err := r.prepareDirs(ctx, plans); err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(plans))
	for i, p := range plans {
		outcomes[i].Plan = p
	}

	if r.Config.Execution.BoilerplateOnly {
		for i := range outcomes {
			outcomes[i].Skipped = "boilerplate only"
		}
		return outcomes, nil
	}

	desc, err := r.Layout.Description(ctx)
	if err != nil {
		r.logger().Warn("dataset_description.json unreadable", "err", err)
		desc.Name = path.Base(r.Layout.Root)
	}
	if err := bids.WriteDerivativeDescription(r.Config.Execution.OutputDir, desc, bids.GeneratedBy{
		Name:    "sdcprep",
		Version: r.Config.Execution.Version,
	}); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Config.Resources.NProcs, 1))

	var mu sync.Mutex
	for i, p := range plans {
		switch {
		case p.Strategy.Delegated():
			outcomes[i].Skipped = fmt.Sprintf("%s correction requires `sdcprep run`", p.Strategy)
			r.logger().Warn("delegating", "bold", p.Bold.RelPath, "strategy", p.Strategy)
			continue
		case !p.Strategy.Native():
			outcomes[i].Skipped = "no distortion correction: " + p.Reason
			r.logger().Warn("not correcting", "bold", p.Bold.RelPath, "reason", p.Reason)
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			outputs, err := r.process(gctx, p)

			mu.Lock()
			outcomes[i].Outputs = outputs
			outcomes[i].Err = err
			outcomes[i].Elapsed = time.Since(start)
			mu.Unlock()

			if err != nil {
				r.logger().Error("run failed", "bold", p.Bold.RelPath, "err", err)
				if r.Config.Resources.StopOnFirstCrash {
					return fmt.Errorf("%s: %w", p.Bold.RelPath, err)
				}
				return nil
			}
			r.logger().Info("run corrected", "bold", p.Bold.RelPath, "strategy", p.Strategy, "elapsed", outcomes[i].Elapsed.Round(time.Millisecond))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Plan.Bold.RelPath, o.Err))
		}
	}

	return outcomes, errors.Join(errs...)
}

func (r *Runner) load(ctx context.Context, f bids.File) (*volume.Volume, sdc.Metadata, error) {
	meta, err := r.Layout.Metadata(ctx, f)
	if err != nil {
		return nil, sdc.Metadata{}, err
	}
	v, err := volume.LoadFrom(ctx, f.Path, r.Layout.Client())
	if err != nil {
		return nil, sdc.Metadata{}, fmt.Errorf("%s: %w", f.RelPath, err)
	}
	return v, meta, nil
}

func (r *Runner) loadFieldmap(ctx context.Context, set bids.FieldmapSet) (FieldmapInputs, error) {
	in := FieldmapInputs{Strategy: set.Strategy}

	var magnitude string
	slots := map[string]struct {
		img  **volume.Volume
		meta *sdc.Metadata
	}{
		"phasediff": {&in.PhaseDiff, &in.PhaseDiffMeta},
		"phase1":    {&in.Phase1, &in.Phase1Meta},
		"phase2":    {&in.Phase2, &in.Phase2Meta},
		"fieldmap":  {&in.Fieldmap, &in.FieldmapMeta},
	}

	switch set.Strategy {
	case sdc.StrategyFieldmap:
		magnitude = "magnitude"
	case sdc.StrategyPhaseDiff, sdc.StrategyPhase:
		magnitude = "magnitude1"
	default:
		return in, fmt.Errorf("strategy %s is not estimated by sdcprep", set.Strategy)
	}

	for _, f := range set.Files {
		if !f.IsImage() {
			continue
		}
		if slot, ok := slots[f.Suffix]; ok {
			v, meta, err := r.load(ctx, f)
			if err != nil {
				return in, err
			}
			*slot.img, *slot.meta = v, meta
		}
	}

	if f, ok := set.First(magnitude); ok {
		v, err := volume.LoadFrom(ctx, f.Path, r.Layout.Client())
		if err != nil {
			return in, fmt.Errorf("%s: %w", f.RelPath, err)
		}
		in.Magnitude = v
	}

	return in, nil
}

// process estimates the fieldmap of p and corrects its BOLD (and SBRef) run.
func (r *Runner) process(ctx context.Context, p RunPlan) ([]string, error) {
	cfg := r.Config
	out := cfg.Execution.OutputDir
	logger := r.logger().With("bold", p.Bold.RelPath)

	set, ok := p.Fieldmap()
	if !ok {
		return nil, fmt.Errorf("no %s fieldmap set in plan", p.Strategy)
	}

	in, err := r.loadFieldmap(ctx, set)
	if err != nil {
		return nil, err
	}
	opts := EstimateOptions{Demean: cfg.Workflow.FmapDemean, MaskFraction: cfg.Workflow.MaskFraction}
	if cfg.Workflow.FmapBSpline {
		opts.BSplineSpacing = cfg.Workflow.BSplineSpacing
	}
	est, err := EstimateFieldmap(in, opts)
	if err != nil {
		return nil, fmt.Errorf("estimating fieldmap %s: %w", set.Key, err)
	}
	logger.Debug("fieldmap estimated", "set", set.Key, "median_hz", est.Median, "mask_voxels", est.Mask.Count())

	var written []string
	save := func(v *volume.Volume, dst string, sidecar map[string]any) error {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := v.Save(dst); err != nil {
			return err
		}
		written = append(written, dst)
		if sidecar == nil {
			return nil
		}
		js := sidecarPath(dst)
		if err := writeJSON(js, sidecar); err != nil {
			return err
		}
		written = append(written, js)
		return nil
	}

	sources := make([]string, 0, len(set.Files))
	for _, f := range set.Files {
		sources = append(sources, bids.BIDSURIPrefix+f.RelPath)
	}

	bold, boldMeta, err := r.load(ctx, p.Bold)
	if err != nil {
		return nil, err
	}
	corr, err := Correct(est.Hz, bold, boldMeta, cfg.Workflow.AssumeDefaultEES, cfg.Workflow.FmapJacobian)
	if err != nil {
		return written, err
	}

	fmapPath := bids.DerivativeIn(out, "fmap", p.Bold, "fieldmap", "fmap", ".nii.gz")
	if err := save(est.Hz, fmapPath, map[string]any{
		"Units":   "Hz",
		"Sources": sources,
		"Method":  p.Strategy.Describe(),
	}); err != nil {
		return written, err
	}

	if err := save(corr.VSM, bids.DerivativeIn(out, "fmap", p.Bold, "vsm", "fmap", ".nii.gz"), map[string]any{
		"Units":                  "voxels",
		"TotalReadoutTime":       corr.TotalReadoutTime,
		"PhaseEncodingDirection": corr.PEDirection,
		"Sources":                []string{bids.BIDSURIPrefix + p.Bold.RelPath},
	}); err != nil {
		return written, err
	}

	correctedMeta := func(source bids.File, meta sdc.Metadata) (map[string]any, error) {
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		m := map[string]any{}
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		m["SkullStripped"] = false
		m["Sources"] = []string{bids.BIDSURIPrefix + source.RelPath, filepath.ToSlash(mustRel(out, fmapPath))}
		return m, nil
	}

	boldSidecar, err := correctedMeta(p.Bold, boldMeta)
	if err != nil {
		return written, err
	}
	if err := save(corr.Corrected, bids.DerivativePath(out, p.Bold, "sdc", "bold", ".nii.gz"), boldSidecar); err != nil {
		return written, err
	}

	// the uncorrected and corrected reference images of the reportlets
	before, after := bold, corr.Corrected
	if p.SBRef != nil {
		sbref, sbrefMeta, err := r.load(ctx, *p.SBRef)
		if err != nil {
			return written, err
		}
		if sbrefMeta.PhaseEncodingDirection == "" {
			sbrefMeta.PhaseEncodingDirection = boldMeta.PhaseEncodingDirection
		}
		sbrefCorr, err := Correct(est.Hz, sbref, sbrefMeta, cfg.Workflow.AssumeDefaultEES, cfg.Workflow.FmapJacobian)
		if err != nil {
			return written, fmt.Errorf("sbref: %w", err)
		}
		before, after = sbref, sbrefCorr.Corrected
		sidecar, err := correctedMeta(*p.SBRef, sbrefMeta)
		if err != nil {
			return written, err
		}
		if err := save(sbrefCorr.Corrected, bids.DerivativePath(out, *p.SBRef, "sdc", "sbref", ".nii.gz"), sidecar); err != nil {
			return written, err
		}
	}

	if cfg.Workflow.Reports {
		var tsnr *volume.Volume
		if corr.Corrected.Frames() > 1 {
			tsnr = volume.TSNR(corr.Corrected)
		}
		figures, err := writeReportlets(out, p, est, corr.VSM, volume.TemporalMean(before), volume.TemporalMean(after), tsnr)
		written = append(written, figures...)
		if err != nil {
			return written, fmt.Errorf("reportlets: %w", err)
		}
	}

	return written, nil
}

// writeReportlets draws the figures of one corrected run. tsnr may be nil for
// single-volume runs.
func writeReportlets(out string, p RunPlan, est *Estimate, vsm, before, after, tsnr *volume.Volume) ([]string, error) {
	var written []string
	figure := func(desc, ext string) (string, error) {
		dst := bids.DerivativeIn(out, "figures", p.Bold, desc, "bold", ext)
		return dst, os.MkdirAll(filepath.Dir(dst), 0o755)
	}

	dst, err := figure("fieldmap", ".png")
	if err != nil {
		return written, err
	}
	if err := report.WriteMosaic(dst, est.Hz, report.MosaicOptions{Signed: true, Slices: 12, Scale: 2}); err != nil {
		return written, err
	}
	written = append(written, dst)

	if dst, err = figure("vsm", ".png"); err != nil {
		return written, err
	}
	if err := report.WriteMosaic(dst, vsm, report.MosaicOptions{Signed: true, Slices: 12, Scale: 2}); err != nil {
		return written, err
	}
	written = append(written, dst)

	if dst, err = figure("sdc", ".png"); err != nil {
		return written, err
	}
	if err := report.WriteMosaic(dst, after, report.MosaicOptions{Slices: 12, Scale: 2}); err != nil {
		return written, err
	}
	written = append(written, dst)

	if dst, err = figure("sdc", ".gif"); err != nil {
		return written, err
	}
	if err := report.WriteFlicker(dst, before, after, report.MosaicOptions{Slices: 12, Scale: 2}); err != nil {
		return written, err
	}
	written = append(written, dst)

	if tsnr != nil {
		if dst, err = figure("tsnr", ".png"); err != nil {
			return written, err
		}
		if err := report.WriteMosaic(dst, tsnr, report.MosaicOptions{Slices: 12, Scale: 2}); err != nil {
			return written, err
		}
		written = append(written, dst)
	}

	values := make([]float64, 0, est.Hz.FrameSize())
	for i, v := range est.Hz.Frame(0).Data {
		if est.Mask == nil || est.Mask[i] {
			values = append(values, float64(v))
		}
	}
	if dst, err = figure("fieldmaphist", ".png"); err != nil {
		return written, err
	}
	if err := report.WriteHistogram(dst, values, fmt.Sprintf("%s fieldmap (Hz)", p.Strategy)); err != nil {
		return written, err
	}
	written = append(written, dst)

	return written, nil
}

func sidecarPath(image string) string {
	stem, _ := bids.SplitExtension(image)
	return filepath.Join(filepath.Dir(image), stem+".json")
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
