package audio

import (
	"context"
	"encoding/json"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// Limits for sample rate and stretch parameters
const (
	minRate    = 1000
	maxRate    = 192000
	minStretch = 0.25
	maxStretch = 4.0
)

// PreprocessResult is the response of the audio preprocessing pipeline
type PreprocessResult struct {
	Steps     pipeline.Trace `json:"preprocessing_steps"`
	Processed string         `json:"processed_audio"`
}

// StepTrace returns the executed steps
func (r *PreprocessResult) StepTrace() pipeline.Trace {
	return r.Steps
}

// Preprocessor runs the audio preprocessing pipeline
type Preprocessor struct {
	pipeline *pipeline.Pipeline[*Clip]
}

// NewPreprocessor creates an audio preprocessor
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{pipeline: pipeline.New("audio.preprocess", DataURL,
		pipeline.Step[*Clip]{
			Key:   "resample",
			Label: "Resample",
			Help:  "Convert to a new sample rate by linear interpolation",
			Params: []pipeline.Param{
				{Key: "rate", Flat: "target_sample_rate", Default: 16000, Help: "target rate in Hz"},
			},
			Apply: resample,
		},
		pipeline.Step[*Clip]{
			Key:   "normalize",
			Label: "Normalize",
			Help:  "Standardize to zero mean and unit variance",
			Apply: func(_ context.Context, c *Clip, _ pipeline.Args) (*Clip, error) {
				return Standardize(c), nil
			},
		},
		pipeline.Step[*Clip]{
			Key:   "noise_reduction",
			Label: "Noise Reduction",
			Help:  "Spectral gating at 1.5 times the per-bin median",
			Apply: func(_ context.Context, c *Clip, _ pipeline.Args) (*Clip, error) {
				return c.mapChannels(func(ch []float64) []float64 {
					return SpectralGate(ch, 1.5)
				}), nil
			},
		},
		pipeline.Step[*Clip]{
			Key:   "vad_trim",
			Label: "Silence Trim",
			Help:  "Drop frames without speech (8, 16, 32 or 48 kHz audio)",
			Params: []pipeline.Param{
				{Key: "mode", Flat: "vad_mode", Default: 2, Help: "aggressiveness 0-3"},
			},
			Apply: trimSilence,
		},
		pipeline.Step[*Clip]{
			Key:   "time_stretch",
			Label: "Time Stretch",
			Help:  "Change duration keeping pitch; multi-channel audio is mixed to mono",
			Params: []pipeline.Param{
				{Key: "rate", Flat: "stretch_rate", Default: 1.0, Help: "speed factor"},
			},
			Apply: stretch,
		},
		pipeline.Step[*Clip]{
			Key:   "mfcc",
			Label: "MFCC",
			Help:  "Resynthesise the 13-coefficient MFCC envelope",
			Apply: func(_ context.Context, c *Clip, _ pipeline.Args) (*Clip, error) {
				return c.mapChannels(func(ch []float64) []float64 {
					return MFCCEnvelope(ch, c.Rate)
				}), nil
			},
		},
	)}
}

// Name returns the pipeline name
func (pp *Preprocessor) Name() string {
	return pp.pipeline.Name()
}

// Steps describes the pipeline steps
func (pp *Preprocessor) Steps() []pipeline.StepInfo {
	return pp.pipeline.Steps()
}

// Process decodes the clip and runs the enabled steps
func (pp *Preprocessor) Process(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (*PreprocessResult, error) {
	clip, err := Decode(data)
	if err != nil {
		return nil, err
	}

	res, err := pp.pipeline.Run(ctx, clip, opts, runOpts...)
	if err != nil {
		return nil, err
	}

	out, err := DataURL(res.Payload)
	if err != nil {
		return nil, err
	}
	return &PreprocessResult{Steps: res.Trace, Processed: out.(string)}, nil
}

func resample(_ context.Context, c *Clip, args pipeline.Args) (*Clip, error) {
	target, err := args.Int("rate")
	if err != nil {
		return nil, err
	}
	if target < minRate || target > maxRate {
		return nil, pipeline.InvalidParameter("sample rate must be between %d and %d, got %d", minRate, maxRate, target)
	}

	total := float64(c.Frames()*len(c.Channels)) * float64(target) / float64(c.Rate)
	if _, err := outputLength(total); err != nil {
		return nil, err
	}

	out := &Clip{Rate: target, Channels: make([][]float64, len(c.Channels))}
	for i, ch := range c.Channels {
		if out.Channels[i], err = Resample(ch, c.Rate, target); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func trimSilence(_ context.Context, c *Clip, args pipeline.Args) (*Clip, error) {
	mode, err := args.Int("mode")
	if err != nil {
		return nil, err
	}
	return TrimSilence(c, mode)
}

func stretchRate(args pipeline.Args) (float64, error) {
	rate, err := args.Float("rate")
	if err != nil {
		return 0, err
	}
	if rate < minStretch || rate > maxStretch {
		return 0, pipeline.InvalidParameter("stretch rate must be between %v and %v, got %v", minStretch, maxStretch, rate)
	}
	return rate, nil
}

// stretch mixes down to mono before stretching, unless rate is 1
func stretch(_ context.Context, c *Clip, args pipeline.Args) (*Clip, error) {
	rate, err := stretchRate(args)
	if err != nil {
		return nil, err
	}
	if rate == 1 {
		return c.Clone(), nil
	}
	mono, err := TimeStretch(c.Mono(), rate)
	if err != nil {
		return nil, err
	}
	return &Clip{Rate: c.Rate, Channels: [][]float64{mono}}, nil
}
