package voice

import "math"

const (
	stretchFrame = 1024
	stretchHop   = stretchFrame / 2
)

// timeStretch changes playback duration without shifting pitch using
// windowed overlap-add: analysis frames are taken at a hop scaled by
// the speed factor and laid down at the fixed synthesis hop. Output
// length is round(len/factor).
func timeStretch(samples []int, sampleRate int, factor float64) []int {
	if factor <= 0 || len(samples) == 0 {
		return samples
	}
	outLen := int(math.Round(float64(len(samples)) / factor))
	if outLen <= 0 {
		return nil
	}
	if len(samples) < stretchFrame*2 {
		return resampleNearest(samples, outLen)
	}

	anaHop := int(math.Round(stretchHop * factor))
	if anaHop < 1 {
		anaHop = 1
	}

	window := make([]float64, stretchFrame)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(stretchFrame-1)))
	}

	acc := make([]float64, outLen+stretchFrame)
	norm := make([]float64, outLen+stretchFrame)
	outPos := 0
	for anaPos := 0; anaPos+stretchFrame <= len(samples) && outPos < outLen; anaPos += anaHop {
		for i := 0; i < stretchFrame; i++ {
			w := window[i]
			acc[outPos+i] += float64(samples[anaPos+i]) * w
			norm[outPos+i] += w
		}
		outPos += stretchHop
	}

	out := make([]int, outLen)
	for i := range out {
		if norm[i] > 1e-9 {
			out[i] = int(math.Round(acc[i] / norm[i]))
		}
	}
	return out
}

// resampleNearest is the degenerate fallback for inputs shorter than
// two analysis frames, where overlap-add has nothing to work with.
func resampleNearest(samples []int, outLen int) []int {
	out := make([]int, outLen)
	for i := range out {
		src := i * len(samples) / outLen
		out[i] = samples[src]
	}
	return out
}
