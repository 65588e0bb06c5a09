// Package audio implements the audio preprocessing and augmentation
// pipelines over PCM WAV clips.
package audio

import (
	"bytes"
	"encoding/json"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"

	"github.com/msto63/mediaprep/internal/codec"
	"github.com/msto63/mediaprep/internal/pipeline"
)

// MaxSamples bounds the decoded clip size over all channels
const MaxSamples = 48000 * 60 * 10 * 2

// Clip is a multi-channel waveform with samples nominally in -1..1
type Clip struct {
	Rate     int
	Channels [][]float64
}

// Frames returns the number of samples per channel
func (c *Clip) Frames() int {
	if len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

// Clone returns a deep copy
func (c *Clip) Clone() *Clip {
	out := &Clip{Rate: c.Rate, Channels: make([][]float64, len(c.Channels))}
	for i, ch := range c.Channels {
		out.Channels[i] = append([]float64(nil), ch...)
	}
	return out
}

// Mono returns the mean of all channels
func (c *Clip) Mono() []float64 {
	n := c.Frames()
	mono := make([]float64, n)
	if len(c.Channels) == 0 {
		return mono
	}
	for _, ch := range c.Channels {
		for i, v := range ch {
			mono[i] += v
		}
	}
	scale := 1 / float64(len(c.Channels))
	for i := range mono {
		mono[i] *= scale
	}
	return mono
}

// mapChannels applies fn to every channel
func (c *Clip) mapChannels(fn func([]float64) []float64) *Clip {
	out := &Clip{Rate: c.Rate, Channels: make([][]float64, len(c.Channels))}
	for i, ch := range c.Channels {
		out.Channels[i] = fn(ch)
	}
	return out
}

// Decode reads a base64 WAV clip (with or without data URL prefix) from a
// JSON string.
func Decode(raw json.RawMessage) (*Clip, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, pipeline.InvalidPayload("audio must be a base64 string")
	}

	b, err := codec.DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	return DecodeWAV(b)
}

// DecodeWAV decodes an integer PCM WAV file
func DecodeWAV(b []byte) (*Clip, error) {
	d := wav.NewDecoder(bytes.NewReader(b))
	if !d.IsValidFile() {
		return nil, pipeline.InvalidPayload("audio is not a valid WAV file")
	}
	if d.WavAudioFormat != 1 {
		return nil, pipeline.InvalidPayload("unsupported WAV format %d, want integer PCM", d.WavAudioFormat)
	}
	if rate := int(d.SampleRate); rate < minRate || rate > maxRate {
		return nil, pipeline.InvalidPayload("wav sample rate %d Hz is outside %d..%d", rate, minRate, maxRate)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrapf(pipeline.ErrInvalidPayload, "wav: %v", err)
	}

	numChannels := buf.Format.NumChannels
	if numChannels < 1 {
		return nil, pipeline.InvalidPayload("wav has no channels")
	}
	if len(buf.Data) > MaxSamples {
		return nil, pipeline.InvalidPayload("wav has %d samples, limit is %d", len(buf.Data), MaxSamples)
	}

	depth := int(d.BitDepth)
	if depth == 0 {
		depth = 16
	}
	scale := 1 / math.Pow(2, float64(depth-1))
	// 8-bit WAV is unsigned
	offset := 0
	if depth == 8 {
		offset = 128
	}

	frames := len(buf.Data) / numChannels
	clip := &Clip{Rate: buf.Format.SampleRate, Channels: make([][]float64, numChannels)}
	for c := range clip.Channels {
		clip.Channels[c] = make([]float64, frames)
	}
	for i := 0; i < frames*numChannels; i++ {
		clip.Channels[i%numChannels][i/numChannels] = float64(buf.Data[i]-offset) * scale
	}
	return clip, nil
}

// EncodeWAV writes the clip as 16-bit PCM WAV. Samples are clipped to -1..1.
func EncodeWAV(c *Clip) ([]byte, error) {
	numChannels := len(c.Channels)
	if numChannels == 0 {
		numChannels = 1
	}

	frames := c.Frames()
	data := make([]int, frames*numChannels)
	for ch, samples := range c.Channels {
		for i, s := range samples {
			data[i*numChannels+ch] = toInt16(s)
		}
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, c.Rate, 16, numChannels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numChannels, SampleRate: c.Rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, errors.Wrap(err, "encode wav")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "finish wav")
	}
	return ws.buf, nil
}

// DataURL returns the clip as a WAV data URL
func DataURL(c *Clip) (any, error) {
	b, err := EncodeWAV(c)
	if err != nil {
		return nil, err
	}
	return codec.EncodeDataURL("audio/wav", b), nil
}

func toInt16(s float64) int {
	if math.IsNaN(s) {
		return 0
	}
	s = math.Max(-1, math.Min(1, s))
	return int(math.Round(s * 32767))
}

// writeSeeker is an in-memory io.WriteSeeker for the WAV encoder, which
// seeks back to patch chunk sizes.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
