// Package scan measures per-track loudness, aggregates tracks into album
// statistics, and resolves final gain values with clipping prevention.
package scan

import (
	"errors"
	"fmt"

	"gainscan/core/decode"
	"gainscan/core/ebur128"
	"gainscan/logger"
	"gainscan/model"
)

var (
	// ErrMeasurementInit means the loudness meter could not be created.
	ErrMeasurementInit = errors.New("scan: could not initialize loudness meter")
	// ErrMeasurement means feeding or reading the loudness meter failed.
	ErrMeasurement = errors.New("scan: loudness measurement failed")
	// ErrAggregation means album-level aggregation failed.
	ErrAggregation = errors.New("scan: album aggregation failed")
	// ErrMixedOpus means an album mixes Opus with other codecs, which makes
	// the album reference loudness ambiguous.
	ErrMixedOpus = fmt.Errorf("%w: cannot mix Opus and non-Opus tracks", ErrAggregation)
)

// Source opens audio files and decodes their audio stream.
type Source interface {
	Probe(path string) (decode.StreamInfo, error)
	DecodeS16(path string, info decode.StreamInfo, sink func(samples []int16) error) error
}

// Suite creates loudness meters and combines finished ones into album-level
// readings. Meters passed to Combine must have been created by the same suite.
type Suite interface {
	New(channels, rate int) (model.Measurement, error)
	Combine(meters []model.Measurement) (loudness, lra float64, err error)
}

// R128Suite is the production Suite backed by the ebur128 package.
type R128Suite struct{}

// New creates an EBU R128 measurement state.
func (R128Suite) New(channels, rate int) (model.Measurement, error) {
	return ebur128.New(channels, rate)
}

// Combine computes album loudness and range over the members' states.
func (R128Suite) Combine(meters []model.Measurement) (float64, float64, error) {
	states := make([]*ebur128.State, 0, len(meters))
	for _, m := range meters {
		st, ok := m.(*ebur128.State)
		if !ok {
			return 0, 0, fmt.Errorf("%w: foreign measurement state %T", ErrAggregation, m)
		}
		states = append(states, st)
	}
	loudness, err := ebur128.CombinedLoudness(states)
	if err != nil {
		return 0, 0, err
	}
	lra, err := ebur128.CombinedRange(states)
	if err != nil {
		return 0, 0, err
	}
	return loudness, lra, nil
}

// Scanner is the track scan unit. It is safe for concurrent use: each scan
// mutates only the track it was given.
type Scanner struct {
	source  Source
	suite   Suite
	preGain float64
	verbose bool
}

// NewScanner wires a scanner to its decode source and measurement suite.
func NewScanner(source Source, suite Suite, preGainDB float64, verbose bool) *Scanner {
	return &Scanner{source: source, suite: suite, preGain: preGainDB, verbose: verbose}
}

// ScanTrack opens, decodes and measures one track, then stores loudness, peak
// and the computed track gain on it. Any failure sets Status to Failed and is
// returned; the caller must not trust gain fields afterwards.
func (s *Scanner) ScanTrack(t *model.Track) error {
	info, err := s.source.Probe(t.FilePath)
	if err != nil {
		t.Status = model.Failed
		logger.Error("probe failed", logger.String("file", t.FileName()), logger.ErrorField(err))
		return err
	}
	t.Codec = info.CodecName
	t.Container = info.Container

	if s.verbose {
		logger.Info("scanning stream",
			logger.String("file", t.FileName()),
			logger.String("container", info.ContainerLong),
			logger.String("codec", info.CodecLongName),
			logger.Int("channels", info.Channels),
			logger.Int("sampleRate", info.SampleRate))
	}

	meter, err := s.suite.New(info.Channels, info.SampleRate)
	if err != nil {
		t.Status = model.Failed
		err = fmt.Errorf("%w: %s: %v", ErrMeasurementInit, t.FileName(), err)
		logger.Error("meter init failed", logger.String("file", t.FileName()), logger.ErrorField(err))
		return err
	}

	if err := s.source.DecodeS16(t.FilePath, info, meter.AddFramesInt16); err != nil {
		t.Status = model.Failed
		if !errors.Is(err, decode.ErrDecode) {
			err = fmt.Errorf("%w: %s: %v", ErrMeasurement, t.FileName(), err)
		}
		logger.Error("decode failed", logger.String("file", t.FileName()), logger.ErrorField(err))
		return err
	}

	loudness, err := meter.IntegratedLoudness()
	if err != nil {
		t.Status = model.Failed
		return fmt.Errorf("%w: %s: %v", ErrMeasurement, t.FileName(), err)
	}
	lra, err := meter.LoudnessRange()
	if err != nil {
		t.Status = model.Failed
		return fmt.Errorf("%w: %s: %v", ErrMeasurement, t.FileName(), err)
	}

	var peak float64
	for ch := 0; ch < meter.Channels(); ch++ {
		if p := meter.TruePeak(ch); p > peak {
			peak = p
		}
	}

	effective := EffectivePreGain(s.preGain, t.IsOpus())
	t.TrackGain = LoudnessToGain(loudness) + effective
	t.TrackPeak = peak
	t.TrackLoudness = loudness
	t.TrackLoudnessRange = lra
	t.LoudnessReference = ReferenceLoudness(effective)
	t.Meter = meter
	t.Status = model.Succeeded
	return nil
}

// ResolveTrack runs clipping resolution on the track's own gain/peak and, in
// album mode, independently on its album-level mirrors. Prevention flags
// accumulate across passes so re-resolution stays a no-op.
func ResolveTrack(t *model.Track, maxTruePeakDB float64, prevent, albumMode bool) {
	if t.Status != model.Succeeded {
		return
	}

	r := ResolveClipping(t.TrackGain, t.TrackPeak, maxTruePeakDB, prevent)
	t.TrackGain = r.Gain
	t.NewTrackPeak = r.NewPeak
	t.TrackClips = r.Clips
	if r.Prevented {
		t.TrackClipPrevention = true
	}

	if albumMode {
		r := ResolveClipping(t.AlbumGain, t.AlbumPeak, maxTruePeakDB, prevent)
		t.AlbumGain = r.Gain
		t.NewAlbumPeak = r.NewPeak
		t.AlbumClips = r.Clips
		if r.Prevented {
			t.AlbumClipPrevention = true
		}
	}
}
