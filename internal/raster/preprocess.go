package raster

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// maxSide bounds resize targets
const maxSide = 8192

// PreprocessResult is the response of the image preprocessing pipeline
type PreprocessResult struct {
	Steps     pipeline.Trace `json:"preprocessing_steps"`
	Processed string         `json:"processed_image"`
}

// StepTrace returns the executed steps
func (r *PreprocessResult) StepTrace() pipeline.Trace {
	return r.Steps
}

// Preprocessor runs the image preprocessing pipeline
type Preprocessor struct {
	pipeline *pipeline.Pipeline[*image.NRGBA]
}

// NewPreprocessor creates an image preprocessor
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{pipeline: pipeline.New("image.preprocess", DataURL,
		pipeline.Step[*image.NRGBA]{
			Key:   "resize",
			Label: "Resize",
			Help:  "Resize with bilinear filtering",
			Params: []pipeline.Param{
				{Key: "width", Flat: "resize_width", Default: 224, Help: "target width in pixels"},
				{Key: "height", Flat: "resize_height", Default: 224, Help: "target height in pixels"},
			},
			Apply: resize,
		},
		pipeline.Step[*image.NRGBA]{
			Key:   "normalize",
			Label: "Normalize",
			Help:  "Stretch each color channel to the full 0-255 range",
			Apply: normalize,
		},
		pipeline.Step[*image.NRGBA]{
			Key:   "grayscale",
			Label: "Grayscale",
			Help:  "Convert to luminance, kept as three channels",
			Apply: grayscale,
		},
		pipeline.Step[*image.NRGBA]{
			Key:   "blur",
			Label: "Blur",
			Help:  "Gaussian blur",
			Params: []pipeline.Param{
				{Key: "kernel", Flat: "blur_kernel", Default: 3, Help: "odd kernel size"},
			},
			Apply: blur,
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

// Process decodes the image and runs the enabled steps
func (pp *Preprocessor) Process(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (*PreprocessResult, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	res, err := pp.pipeline.Run(ctx, img, opts, runOpts...)
	if err != nil {
		return nil, err
	}

	out, err := DataURL(res.Payload)
	if err != nil {
		return nil, err
	}
	return &PreprocessResult{Steps: res.Trace, Processed: out.(string)}, nil
}

func resize(_ context.Context, img *image.NRGBA, args pipeline.Args) (*image.NRGBA, error) {
	w, err := args.Int("width")
	if err != nil {
		return nil, err
	}
	h, err := args.Int("height")
	if err != nil {
		return nil, err
	}
	if w < 1 || h < 1 || w > maxSide || h > maxSide {
		return nil, pipeline.InvalidParameter("resize to %dx%d: sides must be between 1 and %d", w, h, maxSide)
	}
	return imaging.Resize(img, w, h, imaging.Linear), nil
}

func normalize(_ context.Context, img *image.NRGBA, _ pipeline.Args) (*image.NRGBA, error) {
	lo := [3]uint8{255, 255, 255}
	hi := [3]uint8{0, 0, 0}
	for i := 0; i+3 < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := img.Pix[i+c]
			lo[c] = min(lo[c], v)
			hi[c] = max(hi[c], v)
		}
	}

	var lut [3][256]uint8
	for c := 0; c < 3; c++ {
		for v := 0; v < 256; v++ {
			if hi[c] <= lo[c] {
				lut[c][v] = uint8(v)
				continue
			}
			scaled := float64(v-int(lo[c])) * 255 / float64(hi[c]-lo[c])
			lut[c][v] = clampByte(scaled)
		}
	}

	return imaging.AdjustFunc(img, func(px color.NRGBA) color.NRGBA {
		return color.NRGBA{R: lut[0][px.R], G: lut[1][px.G], B: lut[2][px.B], A: px.A}
	}), nil
}

func grayscale(_ context.Context, img *image.NRGBA, _ pipeline.Args) (*image.NRGBA, error) {
	return imaging.Grayscale(img), nil
}

// blurSigma derives the Gaussian sigma from a kernel size the way OpenCV
// does when sigma is 0.
func blurSigma(kernel int) float64 {
	return 0.3*(float64(kernel-1)*0.5-1) + 0.8
}

func blur(_ context.Context, img *image.NRGBA, args pipeline.Args) (*image.NRGBA, error) {
	k, err := args.Int("kernel")
	if err != nil {
		return nil, err
	}
	if k < 1 || k%2 == 0 || k > 255 {
		return nil, pipeline.InvalidParameter("blur kernel must be odd and between 1 and 255, got %d", k)
	}
	if k == 1 {
		return imaging.Clone(img), nil
	}
	return imaging.Blur(img, blurSigma(k)), nil
}

func clampByte(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}
