package tagio

import (
	"fmt"
	"math"

	"gainscan/model"
)

// Fields is the canonical ReplayGain field set handed to a tag codec. Values
// are numeric; each codec owns their container-specific encoding.
type Fields struct {
	TrackGain         float64 // dB
	TrackPeak         float64 // linear
	TrackRange        float64 // LU
	AlbumGain         float64
	AlbumPeak         float64
	AlbumRange        float64
	ReferenceLoudness float64 // LUFS

	HasAlbum bool // album fields are defined
	Extra    bool // write reference loudness and ranges
	UnitLU   bool // label gain/range values LU instead of dB
}

// FieldsFromTrack snapshots a successfully scanned track into a field set.
func FieldsFromTrack(t *model.Track, albumMode, extra, unitLU bool) Fields {
	return Fields{
		TrackGain:         t.TrackGain,
		TrackPeak:         t.TrackPeak,
		TrackRange:        t.TrackLoudnessRange,
		AlbumGain:         t.AlbumGain,
		AlbumPeak:         t.AlbumPeak,
		AlbumRange:        t.AlbumLoudnessRange,
		ReferenceLoudness: t.LoudnessReference,
		HasAlbum:          albumMode,
		Extra:             extra,
		UnitLU:            unitLU,
	}
}

func (f Fields) unit() string {
	if f.UnitLU {
		return "LU"
	}
	return "dB"
}

func (f Fields) gainString(gain float64) string {
	return fmt.Sprintf("%.2f %s", gain, f.unit())
}

func (f Fields) peakString(peak float64) string {
	return fmt.Sprintf("%.6f", peak)
}

func (f Fields) rangeString(lra float64) string {
	return fmt.Sprintf("%.2f %s", lra, f.unit())
}

func (f Fields) referenceString() string {
	return fmt.Sprintf("%.2f LUFS", f.ReferenceLoudness)
}

// GainToQ78 converts a dB gain into the Q7.8 fixed-point integer used by the
// R128_*_GAIN tags of the Opus family, saturating at the int16 bounds.
func GainToQ78(gainDB float64) int {
	v := int(math.Round(gainDB * 256.0))
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return v
}
