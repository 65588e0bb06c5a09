package audio

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mel analysis parameters
const (
	NMels = 128
	NMFCC = 13
)

func hzToMel(f float64) float64 {
	return 2595 * math.Log10(1+f/700)
}

func melToHz(m float64) float64 {
	return 700 * (math.Pow(10, m/2595) - 1)
}

// melPoints returns nMels+2 equally spaced mel points from 0 to rate/2
func melPoints(rate, nMels int) []float64 {
	top := hzToMel(float64(rate) / 2)
	pts := make([]float64, nMels+2)
	for i := range pts {
		pts[i] = top * float64(i) / float64(nMels+1)
	}
	return pts
}

// MelFilterbank returns the nMels x (nfft/2+1) triangular filterbank
func MelFilterbank(rate, nfft, nMels int) *mat.Dense {
	bins := nfft/2 + 1
	pts := melPoints(rate, nMels)
	hz := make([]float64, len(pts))
	for i, m := range pts {
		hz[i] = melToHz(m)
	}

	fb := mat.NewDense(nMels, bins, nil)
	for k := 0; k < bins; k++ {
		f := float64(k) * float64(rate) / float64(nfft)
		for m := 0; m < nMels; m++ {
			lo, mid, hi := hz[m], hz[m+1], hz[m+2]
			var w float64
			switch {
			case f > lo && f <= mid && mid > lo:
				w = (f - lo) / (mid - lo)
			case f > mid && f < hi && hi > mid:
				w = (hi - f) / (hi - mid)
			}
			if w > 0 {
				fb.Set(m, k, w)
			}
		}
	}
	return fb
}

// DCTMatrix returns the orthonormal nOut x nIn DCT-II matrix
func DCTMatrix(nOut, nIn int) *mat.Dense {
	d := mat.NewDense(nOut, nIn, nil)
	for i := 0; i < nOut; i++ {
		scale := math.Sqrt(2 / float64(nIn))
		if i == 0 {
			scale = math.Sqrt(1 / float64(nIn))
		}
		for j := 0; j < nIn; j++ {
			d.Set(i, j, scale*math.Cos(math.Pi/float64(nIn)*(float64(j)+0.5)*float64(i)))
		}
	}
	return d
}

// MelBinRange returns the FFT bins covered by mel bands first through last,
// from the lower edge of first to the upper edge of last, inclusive.
func MelBinRange(rate, nfft, nMels, first, last int) (int, int) {
	pts := melPoints(rate, nMels)
	loHz := melToHz(pts[first])
	hiHz := melToHz(pts[last+2])
	binHz := float64(rate) / float64(nfft)
	lo := int(math.Ceil(loHz / binHz))
	hi := int(math.Floor(hiHz / binHz))
	return lo, min(hi, nfft/2)
}

// powerToDB converts power to decibels and clamps at topDB below the peak
func powerToDB(power *mat.Dense, topDB float64) *mat.Dense {
	r, c := power.Dims()
	db := mat.NewDense(r, c, nil)
	peak := math.Inf(-1)
	db.Apply(func(i, j int, v float64) float64 {
		d := 10 * math.Log10(math.Max(v, 1e-10))
		peak = math.Max(peak, d)
		return d
	}, power)
	floor := peak - topDB
	db.Apply(func(i, j int, v float64) float64 {
		return math.Max(v, floor)
	}, db)
	return db
}

// MFCCEnvelope analyses x into NMFCC coefficients and resynthesises the
// smoothed spectral envelope they describe on the phase of x.
func MFCCEnvelope(x []float64, rate int) []float64 {
	spec := STFT(x, NFFT, Hop)
	frames := len(spec.Frames)
	bins := spec.Bins()

	// power is bins x frames
	power := mat.NewDense(bins, frames, nil)
	for t, frame := range spec.Frames {
		for k, c := range frame {
			power.Set(k, t, real(c)*real(c)+imag(c)*imag(c))
		}
	}

	fb := MelFilterbank(rate, NFFT, NMels)
	var melPower mat.Dense
	melPower.Mul(fb, power)

	db := powerToDB(&melPower, 80)

	dct := DCTMatrix(NMFCC, NMels)
	var coeffs, dbHat mat.Dense
	coeffs.Mul(dct, db)
	dbHat.Mul(dct.T(), &coeffs)

	melHat := mat.NewDense(NMels, frames, nil)
	melHat.Apply(func(i, j int, v float64) float64 {
		return math.Pow(10, v/10)
	}, &dbHat)

	// Spread mel power back onto the bins, weighted by filter overlap
	var linear mat.Dense
	linear.Mul(fb.T(), melHat)
	weight := make([]float64, bins)
	for k := 0; k < bins; k++ {
		weight[k] = mat.Sum(fb.ColView(k))
	}

	for t, frame := range spec.Frames {
		for k, c := range frame {
			mag := 0.0
			if weight[k] > 0 {
				mag = math.Sqrt(linear.At(k, t) / weight[k])
			}
			frame[k] = cmplxWithMag(c, mag)
		}
		spec.Frames[t] = frame
	}
	return spec.Inverse()
}
