package ebur128

import "math"

// interpolator estimates inter-sample (true) peaks by polyphase FIR
// upsampling: 4x below 96 kHz, 2x below 192 kHz, none above.
type interpolator struct {
	factor int
	taps   int // per phase
	phases [][]float64
	hist   [][]float64 // per channel, ring buffer of recent input samples
	pos    []int
}

const tapsPerPhase = 12

func newInterpolator(channels, rate int) *interpolator {
	factor := 1
	switch {
	case rate < 96000:
		factor = 4
	case rate < 192000:
		factor = 2
	}

	ip := &interpolator{
		factor: factor,
		taps:   tapsPerPhase,
		hist:   make([][]float64, channels),
		pos:    make([]int, channels),
	}
	for c := range ip.hist {
		ip.hist[c] = make([]float64, tapsPerPhase)
	}
	if factor == 1 {
		return ip
	}

	// Windowed-sinc lowpass split into polyphase branches, each normalized
	// to unity DC gain.
	total := factor * tapsPerPhase
	center := float64(total-1) / 2.0
	h := make([]float64, total)
	for i := 0; i < total; i++ {
		t := (float64(i) - center) / float64(factor)
		window := 0.5 - 0.5*math.Cos(2.0*math.Pi*float64(i)/float64(total-1))
		h[i] = sinc(t) * window
	}

	ip.phases = make([][]float64, factor)
	for p := 0; p < factor; p++ {
		coefs := make([]float64, tapsPerPhase)
		var sum float64
		for j := 0; j < tapsPerPhase; j++ {
			coefs[j] = h[p+j*factor]
			sum += coefs[j]
		}
		if sum != 0 {
			for j := range coefs {
				coefs[j] /= sum
			}
		}
		ip.phases[p] = coefs
	}
	return ip
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// peak consumes one sample of the given channel and returns the largest
// absolute interpolated value it produced, including the raw sample itself.
func (ip *interpolator) peak(channel int, x float64) float64 {
	max := math.Abs(x)
	if ip.factor == 1 {
		return max
	}

	hist := ip.hist[channel]
	pos := ip.pos[channel]
	hist[pos] = x

	for _, coefs := range ip.phases {
		var y float64
		idx := pos
		for _, c := range coefs {
			y += c * hist[idx]
			idx--
			if idx < 0 {
				idx = ip.taps - 1
			}
		}
		if a := math.Abs(y); a > max {
			max = a
		}
	}

	ip.pos[channel] = (pos + 1) % ip.taps
	return max
}
