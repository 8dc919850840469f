package sdc

import (
	"fmt"
	"strings"
)

// Strategy is a way of estimating the B0 field for distortion correction.
type Strategy string

const (
	StrategyPEPolar   Strategy = "pepolar"
	StrategyFieldmap  Strategy = "fieldmap"
	StrategyPhaseDiff Strategy = "phasediff"
	StrategyPhase     Strategy = "phase"
	StrategySyN       Strategy = "syn"
	StrategyNone      Strategy = "none"
)

// Priority orders strategies when a run has several fieldmaps; lower wins.
func (s Strategy) Priority() int {
	switch s {
	case StrategyPEPolar:
		return 0
	case StrategyFieldmap:
		return 1
	case StrategyPhaseDiff:
		return 2
	case StrategyPhase:
		return 3
	case StrategySyN:
		return 4
	}

	return 99
}

// Native reports whether sdcprep estimates and applies this strategy itself.
// The registration-based strategies are handed to the containerized pipeline.
func (s Strategy) Native() bool {
	return s == StrategyFieldmap || s == StrategyPhaseDiff || s == StrategyPhase
}

// Delegated reports whether the strategy requires the containerized pipeline.
func (s Strategy) Delegated() bool {
	return s == StrategyPEPolar || s == StrategySyN
}

// Describe is a one-line methods description of the strategy.
func (s Strategy) Describe() string {
	switch s {
	case StrategyPEPolar:
		return "two echo-planar images with opposing phase-encoding polarity (PEPOLAR)"
	case StrategyFieldmap:
		return "a directly measured B0 fieldmap"
	case StrategyPhaseDiff:
		return "a phase-difference map from a dual-echo GRE acquisition"
	case StrategyPhase:
		return "two phase images from a dual-echo GRE acquisition"
	case StrategySyN:
		return "fieldmap-less nonlinear registration to the T1w reference (SyN)"
	}

	return "no susceptibility distortion correction"
}

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "epi":
		return StrategyPEPolar, nil
	case StrategyPEPolar, StrategyFieldmap, StrategyPhaseDiff, StrategyPhase, StrategySyN, StrategyNone:
		return st, nil
	}

	return StrategyNone, fmt.Errorf("unknown distortion correction strategy %q", s)
}

// Best returns the highest-priority strategy, or StrategyNone.
func Best(candidates ...Strategy) Strategy {
	best := StrategyNone
	for _, s := range candidates {
		if s.Priority() < best.Priority() {
			best = s
		}
	}

	return best
}
