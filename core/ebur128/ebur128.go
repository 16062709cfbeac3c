// Package ebur128 measures program loudness per ITU-R BS.1770-4 and
// EBU R128: K-weighted, gated integrated loudness, loudness range per
// EBU Tech 3342, and true peak via oversampled interpolation.
//
// A State retains its gating-block energies so that several tracks'
// measurements can be combined into one album-level reading.
package ebur128

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	// energyOffsetLU is the -0.691 term of BS.1770's loudness equation.
	energyOffsetLU = -0.691

	absoluteGateLUFS = -70.0
	relativeGateLU   = 10.0 // integrated loudness gate below ungated mean
	rangeGateLU      = 20.0 // loudness range gate per EBU Tech 3342

	stepsPerSecond    = 10 // 100 ms gating steps
	stepsPerMomentary = 4  // 400 ms momentary blocks
	stepsPerShortTerm = 30 // 3 s short-term blocks

	maxChannels = 64
)

var (
	ErrBadFrameSize = errors.New("ebur128: sample count not a multiple of channel count")
	ErrNoAudio      = errors.New("ebur128: no audio has been measured")
)

// biquad is one second-order IIR filter section with per-channel history.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

func (f *biquad) process(x float64) float64 {
	// Direct form II transposed.
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

// kWeighting returns the two cascaded filter stages of the K-weighting curve
// (high-shelf head model plus high-pass), with coefficients derived for the
// given sample rate from the BS.1770 analog prototype.
func kWeighting(rate int) (biquad, biquad) {
	fs := float64(rate)

	// Stage 1: spherical-head high shelf.
	f0 := 1681.974450955533
	g := 3.999843853973347
	q := 0.7071752369554196

	k := math.Tan(math.Pi * f0 / fs)
	vh := math.Pow(10.0, g/20.0)
	vb := math.Pow(vh, 0.4996667741545416)
	a0 := 1.0 + k/q + k*k

	shelf := biquad{
		b0: (vh + vb*k/q + k*k) / a0,
		b1: 2.0 * (k*k - vh) / a0,
		b2: (vh - vb*k/q + k*k) / a0,
		a1: 2.0 * (k*k - 1.0) / a0,
		a2: (1.0 - k/q + k*k) / a0,
	}

	// Stage 2: high-pass.
	f0 = 38.13547087602444
	q = 0.5003270373238773
	k = math.Tan(math.Pi * f0 / fs)
	a0 = 1.0 + k/q + k*k

	highpass := biquad{
		b0: 1.0,
		b1: -2.0,
		b2: 1.0,
		a1: 2.0 * (k*k - 1.0) / a0,
		a2: (1.0 - k/q + k*k) / a0,
	}
	return shelf, highpass
}

// channelWeights maps channel index to its BS.1770 weight when only a channel
// count is known: front channels weigh 1.0, the LFE slot of a 5.1 layout is
// excluded, surrounds weigh 1.41.
func channelWeights(channels int) []float64 {
	w := make([]float64, channels)
	for i := range w {
		switch {
		case i < 3:
			w[i] = 1.0
		case channels == 6 && i == 3:
			w[i] = 0.0 // LFE
		case i >= channels-2:
			w[i] = 1.41
		default:
			w[i] = 1.0
		}
	}
	return w
}

// State measures one stream of interleaved audio.
type State struct {
	channels int
	rate     int
	weights  []float64

	shelf    []biquad
	highpass []biquad

	samplesPerStep int
	stepPos        int
	stepSumSq      []float64 // per channel, current 100 ms step
	recentSteps    []float64 // weighted step energies, newest last
	stepsSeen      int

	blockPowers []float64 // 400 ms gating block mean powers
	stPowers    []float64 // 3 s short-term block mean powers

	peaks  []float64 // per-channel true peak, linear
	interp *interpolator
}

// New creates a measurement state for the given channel count and sample rate.
func New(channels, rate int) (*State, error) {
	if channels < 1 || channels > maxChannels {
		return nil, fmt.Errorf("ebur128: unsupported channel count %d", channels)
	}
	if rate < 8000 || rate > 384000 {
		return nil, fmt.Errorf("ebur128: unsupported sample rate %d", rate)
	}

	shelf, highpass := kWeighting(rate)
	s := &State{
		channels:       channels,
		rate:           rate,
		weights:        channelWeights(channels),
		shelf:          make([]biquad, channels),
		highpass:       make([]biquad, channels),
		samplesPerStep: rate / stepsPerSecond,
		stepSumSq:      make([]float64, channels),
		peaks:          make([]float64, channels),
		interp:         newInterpolator(channels, rate),
	}
	for i := 0; i < channels; i++ {
		s.shelf[i] = shelf
		s.highpass[i] = highpass
	}
	return s, nil
}

// Channels returns the channel count the state was created with.
func (s *State) Channels() int { return s.channels }

// Rate returns the sample rate the state was created with.
func (s *State) Rate() int { return s.rate }

// AddFramesInt16 feeds interleaved 16-bit samples. The slice length must be a
// multiple of the channel count.
func (s *State) AddFramesInt16(samples []int16) error {
	if len(samples)%s.channels != 0 {
		return ErrBadFrameSize
	}

	frames := len(samples) / s.channels
	for f := 0; f < frames; f++ {
		base := f * s.channels
		for c := 0; c < s.channels; c++ {
			x := float64(samples[base+c]) / 32768.0

			// True peak runs on the unweighted signal.
			if tp := s.interp.peak(c, x); tp > s.peaks[c] {
				s.peaks[c] = tp
			}

			y := s.shelf[c].process(x)
			y = s.highpass[c].process(y)
			s.stepSumSq[c] += y * y
		}

		s.stepPos++
		if s.stepPos == s.samplesPerStep {
			s.finishStep()
		}
	}
	return nil
}

// finishStep folds the completed 100 ms step into the momentary and
// short-term block series.
func (s *State) finishStep() {
	var energy float64
	for c := 0; c < s.channels; c++ {
		energy += s.weights[c] * s.stepSumSq[c]
		s.stepSumSq[c] = 0
	}
	s.stepPos = 0
	s.stepsSeen++

	s.recentSteps = append(s.recentSteps, energy)
	if len(s.recentSteps) > stepsPerShortTerm {
		s.recentSteps = s.recentSteps[1:]
	}

	if s.stepsSeen >= stepsPerMomentary {
		n := len(s.recentSteps)
		var sum float64
		for _, e := range s.recentSteps[n-stepsPerMomentary:] {
			sum += e
		}
		s.blockPowers = append(s.blockPowers,
			sum/float64(stepsPerMomentary*s.samplesPerStep))
	}

	if s.stepsSeen >= stepsPerShortTerm {
		var sum float64
		for _, e := range s.recentSteps {
			sum += e
		}
		s.stPowers = append(s.stPowers,
			sum/float64(stepsPerShortTerm*s.samplesPerStep))
	}
}

// IntegratedLoudness returns the gated integrated loudness in LUFS.
// Silence (nothing above the absolute gate) yields -Inf.
func (s *State) IntegratedLoudness() (float64, error) {
	if s.stepsSeen == 0 {
		return 0, ErrNoAudio
	}
	return gatedLoudness(s.blockPowers), nil
}

// LoudnessRange returns the loudness range in LU per EBU Tech 3342.
func (s *State) LoudnessRange() (float64, error) {
	if s.stepsSeen == 0 {
		return 0, ErrNoAudio
	}
	return loudnessRange(s.stPowers), nil
}

// TruePeak returns the oversampled true peak of the given channel as linear
// amplitude. Out-of-range channels yield 0.
func (s *State) TruePeak(channel int) float64 {
	if channel < 0 || channel >= s.channels {
		return 0
	}
	return s.peaks[channel]
}

// MaxTruePeak returns the loudest true peak across all channels.
func (s *State) MaxTruePeak() float64 {
	var max float64
	for _, p := range s.peaks {
		if p > max {
			max = p
		}
	}
	return max
}

// CombinedLoudness computes the gated loudness over the union of all states'
// gating blocks, the album-level counterpart of IntegratedLoudness.
func CombinedLoudness(states []*State) (float64, error) {
	if len(states) == 0 {
		return 0, ErrNoAudio
	}
	var blocks []float64
	for _, st := range states {
		blocks = append(blocks, st.blockPowers...)
	}
	return gatedLoudness(blocks), nil
}

// CombinedRange computes the loudness range over the union of all states'
// short-term blocks.
func CombinedRange(states []*State) (float64, error) {
	if len(states) == 0 {
		return 0, ErrNoAudio
	}
	var blocks []float64
	for _, st := range states {
		blocks = append(blocks, st.stPowers...)
	}
	return loudnessRange(blocks), nil
}

func energyToLoudness(power float64) float64 {
	if power <= 0 {
		return math.Inf(-1)
	}
	return energyOffsetLU + 10.0*math.Log10(power)
}

// gatedLoudness applies the BS.1770-4 two-stage gate: drop blocks below
// -70 LUFS, then drop blocks more than 10 LU below the mean of the rest.
func gatedLoudness(blocks []float64) float64 {
	var sum float64
	var n int
	for _, p := range blocks {
		if energyToLoudness(p) > absoluteGateLUFS {
			sum += p
			n++
		}
	}
	if n == 0 {
		return math.Inf(-1)
	}

	relGate := energyToLoudness(sum/float64(n)) - relativeGateLU
	sum, n = 0, 0
	for _, p := range blocks {
		if energyToLoudness(p) > absoluteGateLUFS && energyToLoudness(p) > relGate {
			sum += p
			n++
		}
	}
	if n == 0 {
		return math.Inf(-1)
	}
	return energyToLoudness(sum / float64(n))
}

// loudnessRange is the 10th-to-95th percentile spread of gated short-term
// loudness values.
func loudnessRange(blocks []float64) float64 {
	var sum float64
	var gated []float64
	for _, p := range blocks {
		if energyToLoudness(p) > absoluteGateLUFS {
			sum += p
			gated = append(gated, p)
		}
	}
	if len(gated) == 0 {
		return 0
	}

	relGate := energyToLoudness(sum/float64(len(gated))) - rangeGateLU
	var kept []float64
	for _, p := range gated {
		if energyToLoudness(p) > relGate {
			kept = append(kept, energyToLoudness(p))
		}
	}
	if len(kept) < 2 {
		return 0
	}

	sort.Float64s(kept)
	lo := kept[int(0.10*float64(len(kept)-1)+0.5)]
	hi := kept[int(0.95*float64(len(kept)-1)+0.5)]
	return hi - lo
}
