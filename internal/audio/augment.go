package audio

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"

	"github.com/msto63/mediaprep/internal/pipeline"
)

const maxSemitones = 24

// AugmentResult is the response of the audio augmentation pipeline
type AugmentResult struct {
	Steps     pipeline.Trace `json:"augmentation_steps"`
	Augmented string         `json:"augmented_audio"`
}

// StepTrace returns the executed steps
func (r *AugmentResult) StepTrace() pipeline.Trace {
	return r.Steps
}

// Augmenter runs the audio augmentation pipeline. It owns its random
// source and is not safe for concurrent use.
type Augmenter struct {
	pipeline *pipeline.Pipeline[*Clip]
	rng      *rand.Rand
}

// NewAugmenter creates an audio augmenter drawing randomness from rng
func NewAugmenter(rng *rand.Rand) *Augmenter {
	a := &Augmenter{rng: rng}
	a.pipeline = pipeline.New("audio.augment", DataURL,
		pipeline.Step[*Clip]{
			Key:   "time_stretch",
			Label: "Time Stretch",
			Help:  "Change duration keeping pitch; multi-channel audio is mixed to mono",
			Params: []pipeline.Param{
				{Key: "rate", Flat: "time_stretch_rate", Default: 1.0, Help: "speed factor"},
			},
			Apply: stretch,
		},
		pipeline.Step[*Clip]{
			Key:   "pitch_shift",
			Label: "Pitch Shift",
			Help:  "Shift pitch keeping duration",
			Params: []pipeline.Param{
				{Key: "steps", Flat: "pitch_shift_steps", Default: 2.0, Help: "semitones"},
			},
			Apply: pitchShift,
		},
		pipeline.Step[*Clip]{
			Key:   "noise",
			Label: "Noise",
			Help:  "Add Gaussian noise and clip to -1..1",
			Params: []pipeline.Param{
				{Key: "level", Flat: "noise_level", Default: 0.01, Help: "standard deviation"},
			},
			Apply: a.addNoise,
		},
		pipeline.Step[*Clip]{
			Key:   "time_mask",
			Label: "Time Mask",
			Help:  "Silence a random span of STFT frames",
			Params: []pipeline.Param{
				{Key: "param", Flat: "time_mask_param", Default: 80, Help: "maximum span in frames"},
			},
			Apply: a.timeMask,
		},
		pipeline.Step[*Clip]{
			Key:   "freq_mask",
			Label: "Frequency Mask",
			Help:  "Silence a random band of mel bands",
			Params: []pipeline.Param{
				{Key: "param", Flat: "freq_mask_param", Default: 80, Help: "maximum band width in mel bands"},
			},
			Apply: a.freqMask,
		},
	)
	return a
}

// Name returns the pipeline name
func (a *Augmenter) Name() string {
	return a.pipeline.Name()
}

// Steps describes the pipeline steps
func (a *Augmenter) Steps() []pipeline.StepInfo {
	return a.pipeline.Steps()
}

// Process decodes the clip and runs the enabled steps
func (a *Augmenter) Process(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (*AugmentResult, error) {
	clip, err := Decode(data)
	if err != nil {
		return nil, err
	}

	res, err := a.pipeline.Run(ctx, clip, opts, runOpts...)
	if err != nil {
		return nil, err
	}

	out, err := DataURL(res.Payload)
	if err != nil {
		return nil, err
	}
	return &AugmentResult{Steps: res.Trace, Augmented: out.(string)}, nil
}

func pitchShift(_ context.Context, c *Clip, args pipeline.Args) (*Clip, error) {
	steps, err := args.Float("steps")
	if err != nil {
		return nil, err
	}
	if math.Abs(steps) > maxSemitones {
		return nil, pipeline.InvalidParameter("pitch shift must be within %d semitones, got %v", maxSemitones, steps)
	}
	return c.mapChannels(func(ch []float64) []float64 {
		return PitchShift(ch, steps)
	}), nil
}

func (a *Augmenter) addNoise(_ context.Context, c *Clip, args pipeline.Args) (*Clip, error) {
	level, err := args.Float("level")
	if err != nil {
		return nil, err
	}
	if level < 0 {
		return nil, pipeline.InvalidParameter("noise level must not be negative, got %v", level)
	}
	return c.mapChannels(func(ch []float64) []float64 {
		out := make([]float64, len(ch))
		for i, v := range ch {
			out[i] = math.Max(-1, math.Min(1, v+a.rng.NormFloat64()*level))
		}
		return out
	}), nil
}

// maskSpan draws a mask width in [0, param) and a start in [0, size-width]
func (a *Augmenter) maskSpan(param, size int) (int, int) {
	width := int(a.rng.Float64() * float64(param))
	width = min(width, size)
	start := int(a.rng.Float64() * float64(size-width))
	return start, width
}

func maskParam(args pipeline.Args) (int, error) {
	param, err := args.Int("param")
	if err != nil {
		return 0, err
	}
	if param < 0 {
		return 0, pipeline.InvalidParameter("mask parameter must not be negative, got %d", param)
	}
	return param, nil
}

// timeMask applies the same span to every channel
func (a *Augmenter) timeMask(_ context.Context, c *Clip, args pipeline.Args) (*Clip, error) {
	param, err := maskParam(args)
	if err != nil {
		return nil, err
	}

	frames := 1 + c.Frames()/Hop
	start, width := a.maskSpan(param, frames)
	if width == 0 {
		return c.Clone(), nil
	}
	return c.mapChannels(func(ch []float64) []float64 {
		return maskFrames(ch, start, width)
	}), nil
}

// freqMask applies the same band to every channel
func (a *Augmenter) freqMask(_ context.Context, c *Clip, args pipeline.Args) (*Clip, error) {
	param, err := maskParam(args)
	if err != nil {
		return nil, err
	}

	first, width := a.maskSpan(min(param, NMels), NMels)
	if width == 0 {
		return c.Clone(), nil
	}
	lo, hi := MelBinRange(c.Rate, NFFT, NMels, first, first+width-1)
	return c.mapChannels(func(ch []float64) []float64 {
		return maskBins(ch, lo, hi)
	}), nil
}
