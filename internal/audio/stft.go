package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// STFT parameters shared by every spectral step
const (
	NFFT = 2048
	Hop  = 512
)

// Spectrogram is a short-time Fourier transform. Frames[t][k] is bin k of
// frame t; frame t is centred on sample t*Hop.
type Spectrogram struct {
	NFFT   int
	Hop    int
	Length int
	Frames [][]complex128
}

// Bins returns the number of frequency bins per frame
func (s *Spectrogram) Bins() int {
	return s.NFFT/2 + 1
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// STFT computes the centred, Hann windowed transform of x
func STFT(x []float64, nfft, hop int) *Spectrogram {
	fft := fourier.NewFFT(nfft)
	window := hann(nfft)
	half := nfft / 2

	n := 1 + len(x)/hop
	spec := &Spectrogram{NFFT: nfft, Hop: hop, Length: len(x), Frames: make([][]complex128, n)}

	seq := make([]float64, nfft)
	for t := range spec.Frames {
		start := t*hop - half
		for i := range seq {
			j := start + i
			if j >= 0 && j < len(x) {
				seq[i] = x[j] * window[i]
			} else {
				seq[i] = 0
			}
		}
		spec.Frames[t] = fft.Coefficients(nil, seq)
	}
	return spec
}

// Inverse resynthesises Length samples by windowed overlap-add
func (s *Spectrogram) Inverse() []float64 {
	return s.InverseLength(s.Length)
}

// InverseLength resynthesises length samples by windowed overlap-add
func (s *Spectrogram) InverseLength(length int) []float64 {
	fft := fourier.NewFFT(s.NFFT)
	window := hann(s.NFFT)
	half := s.NFFT / 2

	out := make([]float64, length)
	norm := make([]float64, length)
	seq := make([]float64, s.NFFT)
	coeff := make([]complex128, s.Bins())
	scale := 1 / float64(s.NFFT)

	for t, frame := range s.Frames {
		copy(coeff, frame)
		fft.Sequence(seq, coeff)
		start := t*s.Hop - half
		for i, v := range seq {
			j := start + i
			if j < 0 || j >= length {
				continue
			}
			out[j] += v * scale * window[i]
			norm[j] += window[i] * window[i]
		}
	}

	for i := range out {
		if norm[i] > 1e-11 {
			out[i] /= norm[i]
		}
	}
	return out
}

// Magnitudes returns |X| for every frame and bin
func (s *Spectrogram) Magnitudes() [][]float64 {
	mags := make([][]float64, len(s.Frames))
	for t, frame := range s.Frames {
		mags[t] = make([]float64, len(frame))
		for k, c := range frame {
			mags[t][k] = cmplx.Abs(c)
		}
	}
	return mags
}

// wrapPhase maps a phase to -pi..pi
func wrapPhase(p float64) float64 {
	return p - 2*math.Pi*math.Round(p/(2*math.Pi))
}

// Stretch time-scales the spectrogram by rate with a phase vocoder.
// rate > 1 shortens the signal.
func (s *Spectrogram) Stretch(rate float64) *Spectrogram {
	bins := s.Bins()
	out := &Spectrogram{
		NFFT:   s.NFFT,
		Hop:    s.Hop,
		Length: int(math.Round(float64(s.Length) / rate)),
	}
	if len(s.Frames) == 0 {
		return out
	}

	// Expected phase advance per hop for each bin
	advance := make([]float64, bins)
	for k := range advance {
		advance[k] = 2 * math.Pi * float64(k) * float64(s.Hop) / float64(s.NFFT)
	}

	phase := make([]float64, bins)
	for k := range phase {
		phase[k] = cmplx.Phase(s.Frames[0][k])
	}

	last := len(s.Frames) - 1
	for step := 0.0; step < float64(len(s.Frames)); step += rate {
		t := int(step)
		frac := step - float64(t)
		cur := s.Frames[t]
		next := cur
		if t < last {
			next = s.Frames[t+1]
		}

		frame := make([]complex128, bins)
		for k := 0; k < bins; k++ {
			mag := (1-frac)*cmplx.Abs(cur[k]) + frac*cmplx.Abs(next[k])
			frame[k] = cmplx.Rect(mag, phase[k])

			delta := cmplx.Phase(next[k]) - cmplx.Phase(cur[k]) - advance[k]
			phase[k] += advance[k] + wrapPhase(delta)
		}
		out.Frames = append(out.Frames, frame)
	}
	return out
}
