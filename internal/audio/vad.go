package audio

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// vadRates lists the sample rates WebRTC VAD accepts
var vadRates = []int{8000, 16000, 32000, 48000}

// Detector classifies 30ms frames as speech using WebRTC's VAD
type Detector struct {
	vad  *webrtcvad.VAD
	rate int
	mode int
}

// NewDetector creates a detector for rate with aggressiveness mode 0-3
func NewDetector(rate, mode int) (*Detector, error) {
	if mode < 0 || mode > 3 {
		return nil, pipeline.InvalidParameter("vad mode must be between 0 and 3, got %d", mode)
	}

	validRate := false
	for _, r := range vadRates {
		if rate == r {
			validRate = true
			break
		}
	}
	if !validRate {
		return nil, pipeline.InvalidPayload("silence trim needs a sample rate of %v, got %d", vadRates, rate)
	}

	vad, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC VAD: %w", err)
	}
	if err := vad.SetMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set VAD mode: %w", err)
	}

	return &Detector{vad: vad, rate: rate, mode: mode}, nil
}

// FrameSize returns the samples per 30ms frame
func (d *Detector) FrameSize() int {
	return d.rate * 3 / 100
}

// Speech reports whether a frame of FrameSize samples contains speech
func (d *Detector) Speech(frame []float64) (bool, error) {
	active, err := d.vad.Process(d.rate, int16Bytes(frame))
	if err != nil {
		return false, fmt.Errorf("VAD processing failed: %w", err)
	}
	return active, nil
}

// TrimSilence drops every 30ms frame the detector classifies as non-speech.
// Detection runs on the channel mix; the same frames are kept in every
// channel. A trailing partial frame follows the decision of the frame
// before it.
func TrimSilence(c *Clip, mode int) (*Clip, error) {
	d, err := NewDetector(c.Rate, mode)
	if err != nil {
		return nil, err
	}

	mono := c.Mono()
	size := d.FrameSize()

	var keep [][2]int
	prev := false
	for start := 0; start < len(mono); start += size {
		end := start + size
		var speech bool
		if end <= len(mono) {
			speech, err = d.Speech(mono[start:end])
			if err != nil {
				return nil, err
			}
		} else {
			end = len(mono)
			speech = prev
		}
		if speech {
			keep = append(keep, [2]int{start, end})
		}
		prev = speech
	}

	return c.mapChannels(func(ch []float64) []float64 {
		var out []float64
		for _, r := range keep {
			out = append(out, ch[r[0]:r[1]]...)
		}
		if out == nil {
			out = []float64{}
		}
		return out
	}), nil
}

// int16Bytes converts samples to little-endian 16-bit PCM
func int16Bytes(samples []float64) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(toInt16(s))
		b[i*2] = byte(v)
		b[i*2+1] = byte(v >> 8)
	}
	return b
}
