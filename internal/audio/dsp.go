package audio

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// outputLength rounds n and rejects outputs above MaxSamples
func outputLength(n float64) (int, error) {
	if n > MaxSamples {
		return 0, pipeline.InvalidParameter("output of %.0f samples exceeds the limit of %d", n, MaxSamples)
	}
	return int(math.Round(n)), nil
}

func cmplxWithMag(c complex128, mag float64) complex128 {
	abs := cmplx.Abs(c)
	if abs == 0 {
		return complex(mag, 0)
	}
	return c * complex(mag/abs, 0)
}

// Resample converts x from rate to target by linear interpolation
func Resample(x []float64, rate, target int) ([]float64, error) {
	if rate == target || len(x) == 0 {
		return append([]float64(nil), x...), nil
	}
	if rate <= 0 || target <= 0 {
		return nil, pipeline.InvalidParameter("cannot resample from %d Hz to %d Hz", rate, target)
	}
	n, err := outputLength(float64(len(x)) * float64(target) / float64(rate))
	if err != nil {
		return nil, err
	}
	return resampleLength(x, n), nil
}

// resampleLength stretches x to exactly n samples by linear interpolation
func resampleLength(x []float64, n int) []float64 {
	out := make([]float64, n)
	if len(x) == 0 || n == 0 {
		return out
	}
	if len(x) == 1 {
		for i := range out {
			out[i] = x[0]
		}
		return out
	}

	step := float64(len(x)) / float64(n)
	last := len(x) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = x[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = x[j]*(1-frac) + x[j+1]*frac
	}
	return out
}

// Standardize converts every channel to zero mean and unit variance, using
// the statistics of all samples together.
func Standardize(c *Clip) *Clip {
	all := make([]float64, 0, c.Frames()*len(c.Channels))
	for _, ch := range c.Channels {
		all = append(all, ch...)
	}
	if len(all) < 2 {
		return c.Clone()
	}

	mean, std := stat.MeanStdDev(all, nil)
	return c.mapChannels(func(ch []float64) []float64 {
		out := make([]float64, len(ch))
		for i, v := range ch {
			out[i] = (v - mean) / (std + 1e-8)
		}
		return out
	})
}

// SpectralGate zeroes every STFT cell whose magnitude does not exceed
// factor times the median magnitude of its frequency bin.
func SpectralGate(x []float64, factor float64) []float64 {
	spec := STFT(x, NFFT, Hop)
	mags := spec.Magnitudes()
	bins := spec.Bins()

	column := make([]float64, len(mags))
	for k := 0; k < bins; k++ {
		for t := range mags {
			column[t] = mags[t][k]
		}
		sort.Float64s(column)
		threshold := stat.Quantile(0.5, stat.Empirical, column, nil) * factor

		for t := range spec.Frames {
			if mags[t][k] <= threshold {
				spec.Frames[t][k] = 0
			}
		}
	}
	return spec.Inverse()
}

// TimeStretch changes the duration of x by 1/rate keeping its pitch
func TimeStretch(x []float64, rate float64) ([]float64, error) {
	if rate == 1 {
		return append([]float64(nil), x...), nil
	}
	if rate <= 0 {
		return nil, pipeline.InvalidParameter("stretch rate must be positive, got %v", rate)
	}
	if _, err := outputLength(float64(len(x)) / rate); err != nil {
		return nil, err
	}
	return timeStretch(x, rate), nil
}

func timeStretch(x []float64, rate float64) []float64 {
	return STFT(x, NFFT, Hop).Stretch(rate).Inverse()
}

// PitchShift raises x by semitones keeping its duration
func PitchShift(x []float64, semitones float64) []float64 {
	if semitones == 0 || len(x) == 0 {
		return append([]float64(nil), x...)
	}
	ratio := math.Pow(2, semitones/12)
	// Stretch to len*ratio samples, then play back ratio times faster
	stretched := timeStretch(x, 1/ratio)
	return resampleLength(stretched, len(x))
}

// maskFrames zeroes STFT frames [start, start+width) of x
func maskFrames(x []float64, start, width int) []float64 {
	spec := STFT(x, NFFT, Hop)
	for t := start; t < start+width && t < len(spec.Frames); t++ {
		for k := range spec.Frames[t] {
			spec.Frames[t][k] = 0
		}
	}
	return spec.Inverse()
}

// maskBins zeroes FFT bins [lo, hi] in every frame of x
func maskBins(x []float64, lo, hi int) []float64 {
	spec := STFT(x, NFFT, Hop)
	for _, frame := range spec.Frames {
		for k := max(lo, 0); k <= hi && k < len(frame); k++ {
			frame[k] = 0
		}
	}
	return spec.Inverse()
}
