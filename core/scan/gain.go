package scan

import "math"

// Loudness references. ReplayGain 2.0 targets -18 LUFS; Opus tagging is
// pinned to the EBU R128 target of -23 LUFS, so Opus-only material gets a
// fixed -5 dB pre-gain adjustment.
const (
	ReferenceLoudnessLUFS = -18.0
	OpusReferenceLUFS     = -23.0
)

// LoudnessToGain converts a measured loudness into the gain that brings it to
// the ReplayGain reference.
func LoudnessToGain(loudnessLUFS float64) float64 {
	return ReferenceLoudnessLUFS - loudnessLUFS
}

// EffectivePreGain adjusts the user pre-gain for Opus material.
func EffectivePreGain(preGainDB float64, opus bool) float64 {
	if opus {
		return preGainDB + (OpusReferenceLUFS - ReferenceLoudnessLUFS)
	}
	return preGainDB
}

// ReferenceLoudness is the loudness the computed gain normalizes to, shifted
// by the effective pre-gain.
func ReferenceLoudness(effectivePreGainDB float64) float64 {
	return ReferenceLoudnessLUFS + effectivePreGainDB
}

// Resolution is the outcome of clipping resolution for one gain/peak pair.
type Resolution struct {
	Gain      float64 // dB, possibly reduced to prevent clipping
	NewPeak   float64 // linear peak after applying Gain
	Clips     bool    // signal would exceed the ceiling (only when not prevented)
	Prevented bool    // gain was reduced on this pass
}

// ResolveClipping checks whether applying gain pushes the peak above the
// true-peak ceiling and, if prevention is enabled, reduces the gain by the
// overshoot. The correction reuses the gained peak from the detection pass.
// Applying it again to a corrected pair is a no-op.
func ResolveClipping(gainDB, peakLinear, maxTruePeakDB float64, prevent bool) Resolution {
	gained := math.Pow(10.0, gainDB/20.0) * peakLinear
	limit := math.Pow(10.0, maxTruePeakDB/20.0)

	r := Resolution{Gain: gainDB}
	if gained > limit {
		r.Clips = true
	}
	if r.Clips && prevent {
		r.Gain = gainDB - 20.0*math.Log10(gained/limit)
		r.Clips = false
		r.Prevented = true
	}
	r.NewPeak = math.Pow(10.0, r.Gain/20.0) * peakLinear
	return r
}
