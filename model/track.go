package model

import "path/filepath"

// ScanStatus records the outcome of a track scan.
type ScanStatus int

const (
	NotScanned ScanStatus = iota
	Failed
	Succeeded
)

// Measurement is the opaque loudness-measurement state owned by a Track. It is
// created when the track is scanned and read by album aggregation afterwards.
type Measurement interface {
	AddFramesInt16(samples []int16) error
	IntegratedLoudness() (float64, error)
	LoudnessRange() (float64, error)
	TruePeak(channel int) float64
	Channels() int
}

// Track represents one audio file under analysis. Gain and loudness fields are
// only meaningful once Status == Succeeded; the album-level mirrors are only
// meaningful in album mode after aggregation.
type Track struct {
	FilePath  string
	Status    ScanStatus
	Codec     string // codec name as reported by the probe, e.g. "opus"
	Container string // container short name, e.g. "flac"

	TrackLoudness       float64 // LUFS
	TrackLoudnessRange  float64 // LU
	TrackPeak           float64 // linear amplitude
	NewTrackPeak        float64 // linear amplitude after gain
	TrackGain           float64 // dB
	TrackClips          bool
	TrackClipPrevention bool

	AlbumLoudness       float64
	AlbumLoudnessRange  float64
	AlbumPeak           float64
	NewAlbumPeak        float64
	AlbumGain           float64
	AlbumClips          bool
	AlbumClipPrevention bool

	LoudnessReference float64 // LUFS

	// Meter holds the measurement state from a successful scan. Owned by the
	// scanning worker until the aggregation barrier.
	Meter Measurement
}

// NewTrack creates a track for the given path with NotScanned status.
func NewTrack(path string) *Track {
	return &Track{FilePath: path}
}

// FileName returns the base name of the track's file, used in diagnostics.
func (t *Track) FileName() string {
	return filepath.Base(t.FilePath)
}

// Directory returns the folder the track lives in.
func (t *Track) Directory() string {
	return filepath.Dir(t.FilePath)
}

// IsOpus reports whether the track's codec is Opus, whose tagging convention
// is pinned to -23 LUFS instead of the -18 LUFS ReplayGain 2.0 target.
func (t *Track) IsOpus() bool {
	return t.Codec == "opus"
}
