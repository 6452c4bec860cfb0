package assemble

import "math"

// resampleLinear converts mono samples between rates with linear
// interpolation. Output length is round(n * toRate / fromRate), so
// duration is preserved to within one sample frame.
func resampleLinear(samples []int, fromRate, toRate int) []int {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	outLen := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	out := make([]int, outLen)
	step := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int(math.Round(float64(samples[j])*(1-frac) + float64(samples[j+1])*frac))
	}
	return out
}

// downmixMono averages interleaved channels into one.
func downmixMono(samples []int, channels int) []int {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / channels
	}
	return mono
}
