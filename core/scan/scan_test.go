package scan

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gainscan/core/decode"
	"gainscan/model"
)

// fakeMeter reports canned readings instead of measuring audio.
type fakeMeter struct {
	loudness float64
	lra      float64
	peaks    []float64
	fed      int
}

func (m *fakeMeter) AddFramesInt16(samples []int16) error {
	m.fed += len(samples)
	return nil
}
func (m *fakeMeter) IntegratedLoudness() (float64, error) { return m.loudness, nil }
func (m *fakeMeter) LoudnessRange() (float64, error)      { return m.lra, nil }
func (m *fakeMeter) TruePeak(ch int) float64              { return m.peaks[ch] }
func (m *fakeMeter) Channels() int                        { return len(m.peaks) }

// fakeSuite hands out prepared meters in order and combines them by plain
// energy averaging, as the real measurement library does.
type fakeSuite struct {
	queue []*fakeMeter
}

func (s *fakeSuite) New(channels, rate int) (model.Measurement, error) {
	if len(s.queue) == 0 {
		return nil, errors.New("fakeSuite: no meter prepared")
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	return m, nil
}

func (s *fakeSuite) Combine(meters []model.Measurement) (float64, float64, error) {
	var energy, lra float64
	for _, m := range meters {
		fm := m.(*fakeMeter)
		energy += math.Pow(10.0, fm.loudness/10.0)
		if fm.lra > lra {
			lra = fm.lra
		}
	}
	return 10.0 * math.Log10(energy/float64(len(meters))), lra, nil
}

// fakeSource probes canned stream infos and feeds no audio.
type fakeSource struct {
	infos     map[string]decode.StreamInfo
	probeErr  error
	decodeErr error
}

func (s *fakeSource) Probe(path string) (decode.StreamInfo, error) {
	if s.probeErr != nil {
		return decode.StreamInfo{}, s.probeErr
	}
	info, ok := s.infos[path]
	if !ok {
		return decode.StreamInfo{}, fmt.Errorf("%w: %s", decode.ErrOpen, path)
	}
	return info, nil
}

func (s *fakeSource) DecodeS16(path string, info decode.StreamInfo, sink func([]int16) error) error {
	if s.decodeErr != nil {
		return s.decodeErr
	}
	return sink(make([]int16, 2*info.Channels))
}

func flacInfo() decode.StreamInfo {
	return decode.StreamInfo{CodecName: "flac", Container: "flac", Channels: 2, SampleRate: 44100}
}

func opusInfo() decode.StreamInfo {
	return decode.StreamInfo{CodecName: "opus", Container: "ogg", Channels: 2, SampleRate: 48000}
}

func TestTrackGainFormula(t *testing.T) {
	source := &fakeSource{infos: map[string]decode.StreamInfo{"a.flac": flacInfo()}}
	suite := &fakeSuite{queue: []*fakeMeter{{loudness: -20, lra: 4, peaks: []float64{0.5, 0.4}}}}
	s := NewScanner(source, suite, 0, false)

	track := model.NewTrack("a.flac")
	require.NoError(t, s.ScanTrack(track))

	assert.Equal(t, model.Succeeded, track.Status)
	assert.InDelta(t, 2.00, track.TrackGain, 1e-9)
	assert.InDelta(t, -20.0, track.TrackLoudness, 1e-9)
	assert.InDelta(t, 0.5, track.TrackPeak, 1e-9, "max true peak across channels")
	assert.InDelta(t, -18.0, track.LoudnessReference, 1e-9)
	assert.NotNil(t, track.Meter)
}

func TestOpusGainUsesLowReference(t *testing.T) {
	source := &fakeSource{infos: map[string]decode.StreamInfo{"a.opus": opusInfo()}}
	suite := &fakeSuite{queue: []*fakeMeter{{loudness: -23, peaks: []float64{0.5, 0.5}}}}
	s := NewScanner(source, suite, 0, false)

	track := model.NewTrack("a.opus")
	require.NoError(t, s.ScanTrack(track))

	assert.InDelta(t, 0.00, track.TrackGain, 1e-9)
	assert.InDelta(t, -23.0, track.LoudnessReference, 1e-9)
}

func TestFailedProbeMarksTrackFailed(t *testing.T) {
	source := &fakeSource{probeErr: fmt.Errorf("%w: nope", decode.ErrOpen)}
	s := NewScanner(source, &fakeSuite{}, 0, false)

	track := model.NewTrack("missing.flac")
	err := s.ScanTrack(track)
	require.Error(t, err)
	assert.ErrorIs(t, err, decode.ErrOpen)
	assert.Equal(t, model.Failed, track.Status)

	// The gain stage must be a no-op on a failed track.
	ResolveTrack(track, -1.0, true, false)
	assert.Zero(t, track.TrackGain)
	assert.False(t, track.TrackClips)
}

func TestDecodeErrorPropagates(t *testing.T) {
	source := &fakeSource{
		infos:     map[string]decode.StreamInfo{"a.flac": flacInfo()},
		decodeErr: fmt.Errorf("%w: truncated", decode.ErrDecode),
	}
	suite := &fakeSuite{queue: []*fakeMeter{{loudness: -20, peaks: []float64{0.5, 0.5}}}}
	s := NewScanner(source, suite, 0, false)

	track := model.NewTrack("a.flac")
	err := s.ScanTrack(track)
	assert.ErrorIs(t, err, decode.ErrDecode)
	assert.Equal(t, model.Failed, track.Status)
}

func TestClippingPreventionAndIdempotence(t *testing.T) {
	track := &model.Track{Status: model.Succeeded, TrackGain: 3.0, TrackPeak: 1.0}

	ResolveTrack(track, -1.0, true, false)
	assert.False(t, track.TrackClips)
	assert.True(t, track.TrackClipPrevention)
	assert.InDelta(t, -1.0, track.TrackGain, 1e-9, "gain reduced to hit the -1 dBTP ceiling")
	assert.InDelta(t, math.Pow(10.0, -1.0/20.0), track.NewTrackPeak, 1e-9)

	// Second pass must change nothing.
	gain, peak := track.TrackGain, track.NewTrackPeak
	ResolveTrack(track, -1.0, true, false)
	assert.False(t, track.TrackClips)
	assert.True(t, track.TrackClipPrevention)
	assert.InDelta(t, gain, track.TrackGain, 1e-9)
	assert.InDelta(t, peak, track.NewTrackPeak, 1e-9)
}

func TestClipWarningWithoutPrevention(t *testing.T) {
	track := &model.Track{Status: model.Succeeded, TrackGain: 3.0, TrackPeak: 1.0}

	ResolveTrack(track, -1.0, false, false)
	assert.True(t, track.TrackClips, "clip flag stays set as a warning")
	assert.False(t, track.TrackClipPrevention)
	assert.InDelta(t, 3.0, track.TrackGain, 1e-9, "gain untouched")
}

func TestNoClipBelowCeiling(t *testing.T) {
	r := ResolveClipping(2.0, 0.5, -1.0, true)
	assert.False(t, r.Clips)
	assert.False(t, r.Prevented)
	assert.InDelta(t, 2.0, r.Gain, 1e-9)
}

func scannedTrack(path, codec, container string, loudness, peak float64) *model.Track {
	return &model.Track{
		FilePath:      path,
		Status:        model.Succeeded,
		Codec:         codec,
		Container:     container,
		TrackLoudness: loudness,
		TrackPeak:     peak,
		Meter:         &fakeMeter{loudness: loudness, peaks: []float64{peak, peak}},
	}
}

func TestAggregateStampsIdenticalAlbumValues(t *testing.T) {
	tracks := []*model.Track{
		scannedTrack("a/1.flac", "flac", "flac", -20, 0.5),
		scannedTrack("a/2.flac", "flac", "flac", -22, 0.5),
		scannedTrack("a/3.flac", "flac", "flac", -18, 0.5),
	}
	// Track gains as the scan unit would set them.
	for _, tr := range tracks {
		tr.TrackGain = LoudnessToGain(tr.TrackLoudness)
	}
	album := model.NewAlbum("a", tracks)

	s := NewScanner(&fakeSource{}, &fakeSuite{}, 0, false)
	require.NoError(t, s.AggregateAlbum(album))

	// Energy mean of -20/-22/-18 LUFS, not the arithmetic average (-20).
	wantLoudness := 10.0 * math.Log10((math.Pow(10, -2.0)+math.Pow(10, -2.2)+math.Pow(10, -1.8))/3.0)
	assert.InDelta(t, -19.698, wantLoudness, 0.001, "sanity check on the fixture math")

	for _, tr := range tracks {
		assert.InDelta(t, wantLoudness, tr.AlbumLoudness, 1e-9)
		assert.InDelta(t, LoudnessToGain(wantLoudness), tr.AlbumGain, 1e-9)
		assert.InDelta(t, 0.5, tr.AlbumPeak, 1e-9)
	}
	assert.NotEqual(t, tracks[0].TrackGain, tracks[1].TrackGain, "track gains stay individual")
}

func TestAggregateFailsOnMixedOpus(t *testing.T) {
	tracks := []*model.Track{
		scannedTrack("a/1.opus", "opus", "ogg", -23, 0.5),
		scannedTrack("a/2.flac", "flac", "flac", -20, 0.5),
	}
	album := model.NewAlbum("a", tracks)

	s := NewScanner(&fakeSource{}, &fakeSuite{}, 0, false)
	err := s.AggregateAlbum(album)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMixedOpus)
	assert.ErrorIs(t, err, ErrAggregation)

	for _, tr := range tracks {
		assert.Zero(t, tr.AlbumGain, "failed aggregation must not mutate members")
		assert.Zero(t, tr.AlbumPeak)
	}
}

func TestAggregateRequiresAllScansSucceeded(t *testing.T) {
	good := scannedTrack("a/1.flac", "flac", "flac", -20, 0.5)
	bad := model.NewTrack("a/2.flac")
	bad.Status = model.Failed
	album := model.NewAlbum("a", []*model.Track{good, bad})

	s := NewScanner(&fakeSource{}, &fakeSuite{}, 0, false)
	err := s.AggregateAlbum(album)
	assert.ErrorIs(t, err, ErrAggregation)
	assert.Zero(t, good.AlbumGain)
}

func TestAggregateToleratesMixedNonOpusFormats(t *testing.T) {
	tracks := []*model.Track{
		scannedTrack("a/1.flac", "flac", "flac", -20, 0.5),
		scannedTrack("a/2.mp3", "mp3", "mp3", -21, 0.4),
	}
	album := model.NewAlbum("a", tracks)

	s := NewScanner(&fakeSource{}, &fakeSuite{}, 0, false)
	require.NoError(t, s.AggregateAlbum(album))
	assert.Equal(t, tracks[0].AlbumGain, tracks[1].AlbumGain)
}

func TestOpusOnlyAlbumShiftsReference(t *testing.T) {
	tracks := []*model.Track{
		scannedTrack("a/1.opus", "opus", "ogg", -23, 0.5),
		scannedTrack("a/2.opus", "opus", "ogg", -23, 0.5),
	}
	album := model.NewAlbum("a", tracks)

	s := NewScanner(&fakeSource{}, &fakeSuite{}, 0, false)
	require.NoError(t, s.AggregateAlbum(album))
	// Combined loudness -23, gain = (-18 - -23) + (-5) = 0.
	assert.InDelta(t, 0.0, tracks[0].AlbumGain, 1e-9)
}
