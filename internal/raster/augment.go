package raster

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"math"
	"math/rand/v2"

	"github.com/disintegration/imaging"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// AugmentResult is the response of the image augmentation pipeline
type AugmentResult struct {
	Steps     pipeline.Trace `json:"augmentation_steps"`
	Augmented string         `json:"augmented_image"`
}

// StepTrace returns the executed steps
func (r *AugmentResult) StepTrace() pipeline.Trace {
	return r.Steps
}

// Augmenter runs the image augmentation pipeline. It owns its random
// source and is not safe for concurrent use.
type Augmenter struct {
	pipeline *pipeline.Pipeline[*image.NRGBA]
	rng      *rand.Rand
}

// NewAugmenter creates an image augmenter drawing noise from rng
func NewAugmenter(rng *rand.Rand) *Augmenter {
	a := &Augmenter{rng: rng}
	a.pipeline = pipeline.New("image.augment", DataURL,
		pipeline.Step[*image.NRGBA]{
			Key:   "rotation",
			Label: "Rotation",
			Help:  "Rotate counter-clockwise about the centre, keeping the canvas size",
			Params: []pipeline.Param{
				{Key: "angle", Flat: "rotation_angle", Default: 30.0, Help: "degrees"},
			},
			Apply: rotate,
		},
		pipeline.Step[*image.NRGBA]{
			Key:   "flip",
			Label: "Flip",
			Help:  "Mirror horizontally or vertically",
			Params: []pipeline.Param{
				{Key: "direction", Flat: "flip_direction", Default: "vertical", Help: "horizontal, anything else flips vertically"},
			},
			Apply: flip,
		},
		pipeline.Step[*image.NRGBA]{
			Key:   "brightness",
			Label: "Brightness Adjustment",
			Help:  "Scale the HSV value channel",
			Params: []pipeline.Param{
				{Key: "factor", Flat: "brightness_factor", Default: 1.2, Help: "value multiplier"},
			},
			Apply: brighten,
		},
		pipeline.Step[*image.NRGBA]{
			Key:   "noise",
			Label: "Noise Addition",
			Help:  "Add Gaussian noise to every channel",
			Params: []pipeline.Param{
				{Key: "level", Flat: "noise_level", Default: 25.0, Help: "standard deviation in 0-255 units"},
			},
			Apply: a.addNoise,
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

// Process decodes the image and runs the enabled steps
func (a *Augmenter) Process(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (*AugmentResult, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	res, err := a.pipeline.Run(ctx, img, opts, runOpts...)
	if err != nil {
		return nil, err
	}

	out, err := DataURL(res.Payload)
	if err != nil {
		return nil, err
	}
	return &AugmentResult{Steps: res.Trace, Augmented: out.(string)}, nil
}

func rotate(_ context.Context, img *image.NRGBA, args pipeline.Args) (*image.NRGBA, error) {
	angle, err := args.Float("angle")
	if err != nil {
		return nil, err
	}

	black := color.NRGBA{A: 255}
	b := img.Bounds()
	rotated := imaging.Rotate(img, angle, black)
	return imaging.PasteCenter(imaging.New(b.Dx(), b.Dy(), black), rotated), nil
}

func flip(_ context.Context, img *image.NRGBA, args pipeline.Args) (*image.NRGBA, error) {
	direction, err := args.String("direction")
	if err != nil {
		return nil, err
	}
	if direction == "horizontal" {
		return imaging.FlipH(img), nil
	}
	return imaging.FlipV(img), nil
}

func brighten(_ context.Context, img *image.NRGBA, args pipeline.Args) (*image.NRGBA, error) {
	factor, err := args.Float("factor")
	if err != nil {
		return nil, err
	}
	if factor < 0 {
		return nil, pipeline.InvalidParameter("brightness factor must not be negative, got %v", factor)
	}

	// Scaling value at fixed hue and saturation scales all channels alike
	return imaging.AdjustFunc(img, func(px color.NRGBA) color.NRGBA {
		v := max(px.R, px.G, px.B)
		if v == 0 {
			return px
		}
		scale := math.Min(factor, 255/float64(v))
		return color.NRGBA{
			R: clampByte(float64(px.R) * scale),
			G: clampByte(float64(px.G) * scale),
			B: clampByte(float64(px.B) * scale),
			A: px.A,
		}
	}), nil
}

func (a *Augmenter) addNoise(_ context.Context, img *image.NRGBA, args pipeline.Args) (*image.NRGBA, error) {
	level, err := args.Float("level")
	if err != nil {
		return nil, err
	}
	if level < 0 {
		return nil, pipeline.InvalidParameter("noise level must not be negative, got %v", level)
	}

	out := imaging.Clone(img)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			out.Pix[i+c] = clampByte(float64(out.Pix[i+c]) + a.rng.NormFloat64()*level)
		}
	}
	return out, nil
}
