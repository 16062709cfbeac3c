package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gainscan/model"
)

func sampleTrack() *model.Track {
	return &model.Track{
		FilePath:           "/music/a/01.flac",
		Status:             model.Succeeded,
		TrackLoudness:      -20.0,
		TrackLoudnessRange: 6.5,
		TrackPeak:          0.5,
		NewTrackPeak:       0.62946,
		TrackGain:          2.0,
		LoudnessReference:  -18.0,
	}
}

func TestTrackRowColumns(t *testing.T) {
	w := &Writer{opts: Options{TabOutput: true}, out: &bytes.Buffer{}}

	row := w.trackRow(sampleTrack())
	require.Len(t, row, len(columns))
	assert.Equal(t, "/music/a/01.flac", row[0])
	assert.Equal(t, "-20.00", row[1])
	assert.Equal(t, "2.00", row[3])
	assert.Equal(t, "0.500000", row[5])
	assert.Equal(t, "-6.02", row[6], "0.5 linear is -6.02 dBTP")
	assert.Equal(t, "N", row[9])
}

func TestTabOutputIsTabDelimited(t *testing.T) {
	var buf bytes.Buffer
	w := &Writer{opts: Options{TabOutput: true}, out: &buf}

	require.NoError(t, w.Track(sampleTrack()))

	line := strings.TrimRight(buf.String(), "\n")
	assert.Len(t, strings.Split(line, "\t"), len(columns))
}

func TestCSVExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	w, err := New(Options{CSVPath: path})
	require.NoError(t, err)

	require.NoError(t, w.Track(sampleTrack()))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, columns, rows[0])
	assert.Equal(t, "/music/a/01.flac", rows[1][0])
}

func TestAlbumRowUsesDirectoryAndAlbumFields(t *testing.T) {
	tr := sampleTrack()
	tr.AlbumLoudness = -19.7
	tr.AlbumGain = 1.7
	tr.AlbumPeak = 0.5
	tr.NewAlbumPeak = 0.6
	a := model.NewAlbum("/music/a", []*model.Track{tr})

	w := &Writer{opts: Options{TabOutput: true}, out: &bytes.Buffer{}}
	row := w.albumRow(a)
	assert.Equal(t, "/music/a", row[0])
	assert.Equal(t, "-19.70", row[1])
	assert.Equal(t, "1.70", row[3])
}

func TestVerboseSummary(t *testing.T) {
	var buf bytes.Buffer
	w := &Writer{opts: Options{Verbosity: 2}, out: &buf}

	require.NoError(t, w.Track(sampleTrack()))

	out := buf.String()
	assert.Contains(t, out, "Track: /music/a/01.flac")
	assert.Contains(t, out, "Loudness: -20.00 LUFS")
	assert.Contains(t, out, "Gain:     2.00 dB")
}

func TestLUUnitLabel(t *testing.T) {
	var buf bytes.Buffer
	w := &Writer{opts: Options{Verbosity: 2, UnitLU: true}, out: &buf}

	require.NoError(t, w.Track(sampleTrack()))
	assert.Contains(t, buf.String(), "Gain:     2.00 LU")
}

func TestSilentPeakRendersMinusInf(t *testing.T) {
	assert.Equal(t, "-inf", dbtp(0))
}
