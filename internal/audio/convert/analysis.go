package convert

import "math"

// RMS returns the root mean square of interleaved samples.
func RMS(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sumSquares float64
	for _, sample := range frame {
		sumSquares += float64(sample) * float64(sample)
	}
	return math.Sqrt(sumSquares / float64(len(frame)))
}

// DBFS converts an RMS value to decibels relative to full scale. Silence is -Inf.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32767)
}

// Channel extracts one channel from interleaved samples.
func Channel(frame []int16, channels, ch int) []int16 {
	if channels <= 0 || ch < 0 || ch >= channels {
		return nil
	}
	out := make([]int16, 0, len(frame)/channels)
	for i := ch; i < len(frame); i += channels {
		out = append(out, frame[i])
	}
	return out
}

// ZeroCrossings counts sign changes in a single-channel signal.
func ZeroCrossings(mono []int16) int {
	var n int
	for i := 1; i < len(mono); i++ {
		if (mono[i-1] >= 0 && mono[i] < 0) || (mono[i-1] < 0 && mono[i] >= 0) {
			n++
		}
	}
	return n
}

// EstimateFrequency estimates the dominant frequency of a single-channel
// signal from its zero-crossing rate. Only meaningful for tonal input.
func EstimateFrequency(mono []int16, sampleRate int) float64 {
	if len(mono) < 2 || sampleRate <= 0 {
		return 0
	}
	seconds := float64(len(mono)) / float64(sampleRate)
	return float64(ZeroCrossings(mono)) / 2 / seconds
}
