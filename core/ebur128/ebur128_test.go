package ebur128

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sineState feeds seconds of a 997 Hz sine at the given linear amplitude into
// channel 0 of a fresh stereo 48 kHz state. Channel 1 stays silent.
func sineState(t *testing.T, amplitude float64, seconds int) *State {
	t.Helper()
	s, err := New(2, 48000)
	require.NoError(t, err)

	frames := 48000 * seconds
	buf := make([]int16, 0, 2*4800)
	for i := 0; i < frames; i++ {
		v := amplitude * math.Sin(2.0*math.Pi*997.0*float64(i)/48000.0)
		buf = append(buf, int16(v*32767.0), 0)
		if len(buf) == cap(buf) {
			require.NoError(t, s.AddFramesInt16(buf))
			buf = buf[:0]
		}
	}
	require.NoError(t, s.AddFramesInt16(buf))
	return s
}

func TestFullScaleSineCalibration(t *testing.T) {
	// BS.1770: a 0 dBFS 997 Hz sine on a single front channel reads -3.01 LKFS.
	s := sineState(t, 1.0, 10)

	l, err := s.IntegratedLoudness()
	require.NoError(t, err)
	assert.InDelta(t, -3.01, l, 0.15)
}

func TestRelativeLevelTracksAmplitude(t *testing.T) {
	loud := sineState(t, 1.0, 5)
	quiet := sineState(t, 0.5, 5)

	ll, err := loud.IntegratedLoudness()
	require.NoError(t, err)
	ql, err := quiet.IntegratedLoudness()
	require.NoError(t, err)
	assert.InDelta(t, 6.02, ll-ql, 0.1, "halving amplitude must cost 6.02 LU")
}

func TestTruePeakOfSine(t *testing.T) {
	s := sineState(t, 1.0, 2)

	assert.InDelta(t, 1.0, s.TruePeak(0), 0.05)
	assert.InDelta(t, 0.0, s.TruePeak(1), 0.001)
	assert.InDelta(t, 1.0, s.MaxTruePeak(), 0.05)
	assert.Zero(t, s.TruePeak(5), "out-of-range channel")
}

func TestSilenceIsBelowAbsoluteGate(t *testing.T) {
	s, err := New(2, 48000)
	require.NoError(t, err)
	require.NoError(t, s.AddFramesInt16(make([]int16, 2*48000*2)))

	l, err := s.IntegratedLoudness()
	require.NoError(t, err)
	assert.True(t, math.IsInf(l, -1), "silence must read -Inf, got %v", l)
}

func TestSteadySignalHasZeroRange(t *testing.T) {
	s := sineState(t, 0.8, 10)

	lra, err := s.LoudnessRange()
	require.NoError(t, err)
	assert.InDelta(t, 0.0, lra, 0.1)
}

func TestCombineOfIdenticalStatesMatchesSingle(t *testing.T) {
	a := sineState(t, 0.7, 5)
	b := sineState(t, 0.7, 5)

	single, err := a.IntegratedLoudness()
	require.NoError(t, err)
	combined, err := CombinedLoudness([]*State{a, b})
	require.NoError(t, err)
	assert.InDelta(t, single, combined, 0.01)
}

func TestCombineIsEnergyMeanNotAverage(t *testing.T) {
	loud := sineState(t, 1.0, 5)
	quiet := sineState(t, 0.5, 5)

	ll, err := loud.IntegratedLoudness()
	require.NoError(t, err)
	ql, err := quiet.IntegratedLoudness()
	require.NoError(t, err)

	combined, err := CombinedLoudness([]*State{loud, quiet})
	require.NoError(t, err)

	// Energy-domain combination sits above the arithmetic mean of the two
	// loudness readings and below the louder one.
	assert.Greater(t, combined, (ll+ql)/2.0)
	assert.Less(t, combined, ll)
	assert.InDelta(t, ll-2.04, combined, 0.2)
}

func TestCombinedRangeCoversBothStates(t *testing.T) {
	loud := sineState(t, 1.0, 5)
	quiet := sineState(t, 0.5, 5)

	lra, err := CombinedRange([]*State{loud, quiet})
	require.NoError(t, err)
	// Two steady levels 6 LU apart produce a nonzero combined range.
	assert.Greater(t, lra, 1.0)
}

func TestBadFrameSizeRejected(t *testing.T) {
	s, err := New(2, 44100)
	require.NoError(t, err)
	assert.ErrorIs(t, s.AddFramesInt16(make([]int16, 3)), ErrBadFrameSize)
}

func TestNoAudioErrors(t *testing.T) {
	s, err := New(2, 44100)
	require.NoError(t, err)

	_, err = s.IntegratedLoudness()
	assert.ErrorIs(t, err, ErrNoAudio)
	_, err = s.LoudnessRange()
	assert.ErrorIs(t, err, ErrNoAudio)
	_, err = CombinedLoudness(nil)
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestParameterValidation(t *testing.T) {
	_, err := New(0, 48000)
	assert.Error(t, err)
	_, err = New(2, 1000)
	assert.Error(t, err)
}
