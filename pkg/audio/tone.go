package audio

import (
	"math"
	"time"
)

// toneFadeSamples is the length of the linear fade applied to both ends of a
// generated tone (10 ms). The fade avoids audible clicks on cheap speakers.
const toneFadeSamples = SampleRate / 100

// Tone synthesizes a sine tone at the pipeline sample rate. freq is in Hz,
// volume in [0.0, 1.0]. A 10 ms linear fade is applied at both ends.
func Tone(freq float64, d time.Duration, volume float64) []int16 {
	n := int(float64(SampleRate) * d.Seconds())
	if n <= 0 {
		return nil
	}

	out := make([]int16, n)
	fade := toneFadeSamples
	if fade*2 > n {
		fade = n / 2
	}

	for i := range out {
		s := volume * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)
		if fade > 0 {
			if i < fade {
				s *= float64(i) / float64(fade)
			}
			if tail := n - 1 - i; tail < fade {
				s *= float64(tail) / float64(fade)
			}
		}
		out[i] = int16(s * 32767)
	}
	return out
}

// Silence returns d worth of silent samples at the pipeline sample rate.
func Silence(d time.Duration) []int16 {
	n := int(float64(SampleRate) * d.Seconds())
	if n <= 0 {
		return nil
	}
	return make([]int16, n)
}
