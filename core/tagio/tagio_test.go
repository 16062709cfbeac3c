package tagio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gainscan/model"
)

func TestForPathDispatch(t *testing.T) {
	cases := map[string]string{
		"x.mp3":  "id3v2",
		"x.flac": "vorbis",
		"x.ogg":  "vorbis",
		"x.opus": "opus",
		"x.m4a":  "mp4",
		"x.ape":  "ape",
		"x.wma":  "asf",
		"x.wav":  "riff",
		"x.aiff": "aiff",
		"x.wv":   "wavpack",
	}
	for path, family := range cases {
		c, err := ForPath(path, Options{})
		require.NoError(t, err, path)
		assert.Equal(t, family, c.(*codec).Family(), path)
	}

	_, err := ForPath("x.txt", Options{})
	assert.Error(t, err)
}

func TestMetadataStandardFields(t *testing.T) {
	c, err := ForPath("x.flac", Options{})
	require.NoError(t, err)

	f := Fields{TrackGain: 2.0, TrackPeak: 0.5, HasAlbum: false}
	md := c.(*codec).metadata(f)

	assert.Equal(t, "2.00 dB", md["REPLAYGAIN_TRACK_GAIN"])
	assert.Equal(t, "0.500000", md["REPLAYGAIN_TRACK_PEAK"])
	assert.Empty(t, md["REPLAYGAIN_ALBUM_GAIN"], "album tags removed outside album mode")
	assert.Empty(t, md["REPLAYGAIN_REFERENCE_LOUDNESS"], "reference removed outside extra mode")
}

func TestMetadataExtraAndAlbumFields(t *testing.T) {
	c, err := ForPath("x.flac", Options{})
	require.NoError(t, err)

	f := Fields{
		TrackGain: 2.0, TrackPeak: 0.5, TrackRange: 6.5,
		AlbumGain: 1.7, AlbumPeak: 0.5, AlbumRange: 7.25,
		ReferenceLoudness: -18.0,
		HasAlbum:          true, Extra: true,
	}
	md := c.(*codec).metadata(f)

	assert.Equal(t, "1.70 dB", md["REPLAYGAIN_ALBUM_GAIN"])
	assert.Equal(t, "-18.00 LUFS", md["REPLAYGAIN_REFERENCE_LOUDNESS"])
	assert.Equal(t, "6.50 dB", md["REPLAYGAIN_TRACK_RANGE"])
	assert.Equal(t, "7.25 dB", md["REPLAYGAIN_ALBUM_RANGE"])
}

func TestMetadataLUUnit(t *testing.T) {
	c, err := ForPath("x.flac", Options{})
	require.NoError(t, err)

	md := c.(*codec).metadata(Fields{TrackGain: 2.0, UnitLU: true})
	assert.Equal(t, "2.00 LU", md["REPLAYGAIN_TRACK_GAIN"])
}

func TestOpusWritesQ78AndClearsReplayGain(t *testing.T) {
	c, err := ForPath("x.opus", Options{})
	require.NoError(t, err)

	f := Fields{TrackGain: 0.5, AlbumGain: -0.5, HasAlbum: true}
	md := c.(*codec).metadata(f)

	assert.Equal(t, "128", md["R128_TRACK_GAIN"])
	assert.Equal(t, "-128", md["R128_ALBUM_GAIN"])
	assert.Empty(t, md["REPLAYGAIN_TRACK_GAIN"], "opus files drop ReplayGain keys")
}

func TestMP4KeysAreLowercase(t *testing.T) {
	c, err := ForPath("x.m4a", Options{})
	require.NoError(t, err)

	md := c.(*codec).metadata(Fields{TrackGain: 2.0, TrackPeak: 0.5})
	assert.Contains(t, md, "replaygain_track_gain")
	assert.NotContains(t, md, "REPLAYGAIN_TRACK_GAIN")
}

func TestID3LowercaseOption(t *testing.T) {
	c, err := ForPath("x.mp3", Options{LowercaseTags: true})
	require.NoError(t, err)

	md := c.(*codec).metadata(Fields{TrackGain: 2.0, TrackPeak: 0.5})
	assert.Contains(t, md, "replaygain_track_gain")
}

func TestGainToQ78(t *testing.T) {
	assert.Equal(t, 0, GainToQ78(0))
	assert.Equal(t, 256, GainToQ78(1.0))
	assert.Equal(t, -1280, GainToQ78(-5.0))
	assert.Equal(t, 32767, GainToQ78(1000), "saturates high")
	assert.Equal(t, -32768, GainToQ78(-1000), "saturates low")
}

func TestFieldsFromTrack(t *testing.T) {
	tr := &model.Track{
		TrackGain: 2.0, TrackPeak: 0.5, TrackLoudnessRange: 6.0,
		AlbumGain: 1.7, AlbumPeak: 0.6, AlbumLoudnessRange: 7.0,
		LoudnessReference: -18.0,
	}
	f := FieldsFromTrack(tr, true, true, false)
	assert.Equal(t, 2.0, f.TrackGain)
	assert.Equal(t, 1.7, f.AlbumGain)
	assert.True(t, f.HasAlbum)
	assert.True(t, f.Extra)
}

func TestRawHasKeyMatchesTXXXPayload(t *testing.T) {
	raw := map[string]interface{}{
		"TXXX:0": "REPLAYGAIN_TRACK_GAIN: 2.00 dB",
		"TALB":   "Some Album",
	}
	assert.True(t, rawHasKey(raw, "replaygain_track_gain"))
	assert.False(t, rawHasKey(raw, "replaygain_album_gain"))
}
