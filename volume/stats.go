package volume

import (
	"math"

	"github.com/carbocation/runningvariance"
)

// TemporalStats returns the mean over frames, and the temporal standard
// deviation, of every voxel. Non-finite samples are skipped.
func TemporalStats(v *Volume) (mean, std *Volume) {
	mean = NewLike(v, 1)
	std = NewLike(v, 1)

	n := v.FrameSize()
	for i := 0; i < n; i++ {
		rs := runningvariance.NewRunningStat()
		for t := 0; t < v.Frames(); t++ {
			x := float64(v.Data[t*n+i])
			if math.IsNaN(x) || math.IsInf(x, 0) {
				continue
			}
			rs.Push(x)
		}
		if rs.N == 0 {
			continue
		}
		mean.Data[i] = float32(rs.Mean())
		std.Data[i] = float32(rs.StandardDeviation())
	}

	return mean, std
}

// TSNR is the temporal signal-to-noise ratio, mean over standard deviation, of
// every voxel. Voxels that do not vary over time are 0.
func TSNR(v *Volume) *Volume {
	mean, std := TemporalStats(v)
	for i, s := range std.Data {
		if s > 0 {
			mean.Data[i] /= s
		} else {
			mean.Data[i] = 0
		}
	}
	mean.Header.SetDescription("tSNR")

	return mean
}

// TemporalMean is the mean frame of v. A 3D volume is returned as a copy.
func TemporalMean(v *Volume) *Volume {
	if v.Frames() == 1 {
		return v.Clone()
	}
	mean, _ := TemporalStats(v)
	return mean
}
