package scan

import (
	"fmt"

	"gainscan/logger"
	"gainscan/model"
)

// AggregateAlbum combines the members' measurement states into album-level
// loudness, range and peak, and stamps the identical album values onto every
// member. It runs only after the scheduler's idle barrier, so member states
// are read without further locking.
//
// Preconditions: every member scan succeeded, and the album does not mix Opus
// with other codecs. On failure no member is mutated.
func (s *Scanner) AggregateAlbum(a *model.Album) error {
	if a.Count() == 0 {
		return fmt.Errorf("%w: %s: empty album", ErrAggregation, a.Directory)
	}
	if !a.AllScanned() {
		return fmt.Errorf("%w: %s: not all member scans succeeded", ErrAggregation, a.Directory)
	}

	meters := make([]model.Measurement, len(a.Tracks))
	for i, t := range a.Tracks {
		meters[i] = t.Meter
	}

	loudness, lra, err := s.suite.Combine(meters)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAggregation, a.Directory, err)
	}

	if a.HasDifferentContainers() || a.HasDifferentCodecs() {
		if a.HasOpus() {
			return fmt.Errorf("%w: %s", ErrMixedOpus, a.Directory)
		}
		logger.Warn("album mixes file types", logger.String("album", a.Directory))
	}

	// Opus-only by now: the whole album shifts to the -23 LUFS reference.
	effective := EffectivePreGain(s.preGain, a.HasOpus())

	var peak float64
	for _, t := range a.Tracks {
		if t.TrackPeak > peak {
			peak = t.TrackPeak
		}
	}

	gain := LoudnessToGain(loudness) + effective
	for _, t := range a.Tracks {
		t.AlbumGain = gain
		t.AlbumPeak = peak
		t.AlbumLoudness = loudness
		t.AlbumLoudnessRange = lra
	}
	return nil
}
