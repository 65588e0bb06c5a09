package mesh

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// deformPasses is the number of smoothing passes over the deformation field
const deformPasses = 3

// AugmentResult is the response of the mesh augmentation pipeline
type AugmentResult struct {
	Steps     pipeline.Trace `json:"augmentation_steps"`
	Augmented string         `json:"augmented_model"`
}

// StepTrace returns the executed steps
func (r *AugmentResult) StepTrace() pipeline.Trace {
	return r.Steps
}

// Augmenter runs the mesh augmentation pipeline. It owns its random source
// and is not safe for concurrent use.
type Augmenter struct {
	pipeline *pipeline.Pipeline[*Mesh]
	rng      *rand.Rand
}

// NewAugmenter creates a mesh augmenter drawing randomness from rng
func NewAugmenter(rng *rand.Rand) *Augmenter {
	a := &Augmenter{rng: rng}
	a.pipeline = pipeline.New("mesh.augment", Snapshot,
		pipeline.Step[*Mesh]{
			Key:   "3d-rotation",
			Label: "Rotation",
			Help:  "Uniformly random rotation about the origin",
			Apply: a.rotate,
		},
		pipeline.Step[*Mesh]{
			Key:   "scale",
			Label: "Scale",
			Help:  "Scale by 1 + U(-factor, factor)",
			Params: []pipeline.Param{
				{Key: "factor", Flat: "scale_factor", Default: 0.2, Help: "maximum relative change"},
			},
			Apply: a.scale,
		},
		pipeline.Step[*Mesh]{
			Key:   "noise",
			Label: "Noise",
			Help:  "Gaussian vertex displacement",
			Params: []pipeline.Param{
				{Key: "amplitude", Flat: "noise_amplitude", Default: 0.01, Help: "standard deviation"},
			},
			Apply: a.addNoise,
		},
		pipeline.Step[*Mesh]{
			Key:   "deform",
			Label: "Deform",
			Help:  "Smooth random deformation field",
			Params: []pipeline.Param{
				{Key: "strength", Flat: "deform_strength", Default: 0.1, Help: "standard deviation before smoothing"},
			},
			Apply: a.deform,
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

// Process parses the model and runs the enabled steps
func (a *Augmenter) Process(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (*AugmentResult, error) {
	m, err := Decode(data)
	if err != nil {
		return nil, err
	}

	res, err := a.pipeline.Run(ctx, m, opts, runOpts...)
	if err != nil {
		return nil, err
	}
	return &AugmentResult{Steps: res.Trace, Augmented: FormatOFF(res.Payload)}, nil
}

// RandomRotation draws a rotation uniformly from SO(3) (Shoemake's method)
func RandomRotation(rng *rand.Rand) r3.Rotation {
	u1, u2, u3 := rng.Float64(), 2*math.Pi*rng.Float64(), 2*math.Pi*rng.Float64()
	a, b := math.Sqrt(1-u1), math.Sqrt(u1)
	return r3.Rotation(quat.Number{
		Real: b * math.Cos(u3),
		Imag: a * math.Sin(u2),
		Jmag: a * math.Cos(u2),
		Kmag: b * math.Sin(u3),
	})
}

func (a *Augmenter) rotate(_ context.Context, m *Mesh, _ pipeline.Args) (*Mesh, error) {
	rot := RandomRotation(a.rng)
	return m.Transform(func(_ int, v r3.Vec) r3.Vec {
		return rot.Rotate(v)
	}), nil
}

func (a *Augmenter) scale(_ context.Context, m *Mesh, args pipeline.Args) (*Mesh, error) {
	factor, err := args.Float("factor")
	if err != nil {
		return nil, err
	}
	if factor < 0 || factor >= 1 {
		return nil, pipeline.InvalidParameter("scale factor must be in [0, 1), got %v", factor)
	}

	s := 1 + (a.rng.Float64()*2-1)*factor
	return m.Transform(func(_ int, v r3.Vec) r3.Vec {
		return r3.Scale(s, v)
	}), nil
}

func (a *Augmenter) gaussianField(n int, sigma float64) []r3.Vec {
	field := make([]r3.Vec, n)
	for i := range field {
		field[i] = r3.Vec{
			X: a.rng.NormFloat64() * sigma,
			Y: a.rng.NormFloat64() * sigma,
			Z: a.rng.NormFloat64() * sigma,
		}
	}
	return field
}

func sigmaArg(args pipeline.Args, key string) (float64, error) {
	sigma, err := args.Float(key)
	if err != nil {
		return 0, err
	}
	if sigma < 0 {
		return 0, pipeline.InvalidParameter("%s must not be negative, got %v", key, sigma)
	}
	return sigma, nil
}

func (a *Augmenter) addNoise(_ context.Context, m *Mesh, args pipeline.Args) (*Mesh, error) {
	amplitude, err := sigmaArg(args, "amplitude")
	if err != nil {
		return nil, err
	}
	noise := a.gaussianField(len(m.Vertices), amplitude)
	return m.Transform(func(i int, v r3.Vec) r3.Vec {
		return r3.Add(v, noise[i])
	}), nil
}

func (a *Augmenter) deform(_ context.Context, m *Mesh, args pipeline.Args) (*Mesh, error) {
	strength, err := sigmaArg(args, "strength")
	if err != nil {
		return nil, err
	}

	field := a.gaussianField(len(m.Vertices), strength)
	adj := m.Adjacency()
	for i := 0; i < deformPasses; i++ {
		field = neighbourMean(field, adj)
	}
	return m.Transform(func(i int, v r3.Vec) r3.Vec {
		return r3.Add(v, field[i])
	}), nil
}
