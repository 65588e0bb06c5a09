package mesh

import (
	"context"
	"encoding/json"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/msto63/mediaprep/internal/pipeline"
)

const (
	// minVertices is the floor for simplification targets
	minVertices   = 4
	maxResolution = 1 << 12
	maxIterations = 100
)

// PreprocessResult is the response of the mesh preprocessing pipeline
type PreprocessResult struct {
	Steps     pipeline.Trace `json:"preprocessing_steps"`
	Processed string         `json:"processed_model"`
}

// StepTrace returns the executed steps
func (r *PreprocessResult) StepTrace() pipeline.Trace {
	return r.Steps
}

// Preprocessor runs the mesh preprocessing pipeline
type Preprocessor struct {
	pipeline *pipeline.Pipeline[*Mesh]
}

// NewPreprocessor creates a mesh preprocessor
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{pipeline: pipeline.New("mesh.preprocess", Snapshot,
		pipeline.Step[*Mesh]{
			Key:   "normalize",
			Label: "Normalize",
			Help:  "Scale so the longest bounding box side is 1",
			Apply: normalize,
		},
		pipeline.Step[*Mesh]{
			Key:   "center",
			Label: "Center",
			Help:  "Move the area-weighted centroid to the origin",
			Apply: center,
		},
		pipeline.Step[*Mesh]{
			Key:   "simplify",
			Label: "Simplify",
			Help:  "Vertex clustering to a fraction of the vertices",
			Params: []pipeline.Param{
				{Key: "ratio", Flat: "simplify_ratio", Default: 0.5, Help: "fraction of vertices to keep"},
			},
			Apply: simplify,
		},
		pipeline.Step[*Mesh]{
			Key:   "smooth",
			Label: "Smooth",
			Help:  "Laplacian smoothing",
			Params: []pipeline.Param{
				{Key: "iterations", Flat: "smooth_iterations", Default: 1, Help: "smoothing passes"},
			},
			Apply: smooth,
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

// Process parses the model and runs the enabled steps
func (pp *Preprocessor) Process(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (*PreprocessResult, error) {
	m, err := Decode(data)
	if err != nil {
		return nil, err
	}

	res, err := pp.pipeline.Run(ctx, m, opts, runOpts...)
	if err != nil {
		return nil, err
	}
	return &PreprocessResult{Steps: res.Trace, Processed: FormatOFF(res.Payload)}, nil
}

// normalize leaves meshes without extent unchanged
func normalize(_ context.Context, m *Mesh, _ pipeline.Args) (*Mesh, error) {
	extent := m.Extent()
	if extent == 0 {
		return m.Clone(), nil
	}
	return m.Transform(func(_ int, v r3.Vec) r3.Vec {
		return r3.Scale(1/extent, v)
	}), nil
}

func center(_ context.Context, m *Mesh, _ pipeline.Args) (*Mesh, error) {
	c := m.Centroid()
	return m.Transform(func(_ int, v r3.Vec) r3.Vec {
		return r3.Sub(v, c)
	}), nil
}

func simplify(ctx context.Context, m *Mesh, args pipeline.Args) (*Mesh, error) {
	ratio, err := args.Float("ratio")
	if err != nil {
		return nil, err
	}
	if ratio <= 0 || ratio > 1 {
		return nil, pipeline.InvalidParameter("simplify ratio must be in (0, 1], got %v", ratio)
	}

	target := max(int(float64(len(m.Vertices))*ratio), minVertices)
	if target >= len(m.Vertices) || m.Extent() == 0 {
		return m.Clone(), nil
	}

	// Cluster count grows with grid resolution; find the coarsest grid
	// that keeps at least target vertices.
	lo, hi := 1, maxResolution
	for i := 0; lo < hi && i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mid := (lo + hi) / 2
		if _, n := clusters(m, mid); n >= target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return collapse(m, lo), nil
}

type cell [3]int

// clusters assigns every vertex to a grid cell of the bounding box split
// res times along its longest side.
func clusters(m *Mesh, res int) ([]int, int) {
	lo, _ := m.Bounds()
	size := m.Extent() / float64(res)

	ids := make(map[cell]int)
	assign := make([]int, len(m.Vertices))
	for i, v := range m.Vertices {
		d := r3.Sub(v, lo)
		key := cell{gridIndex(d.X, size, res), gridIndex(d.Y, size, res), gridIndex(d.Z, size, res)}
		id, ok := ids[key]
		if !ok {
			id = len(ids)
			ids[key] = id
		}
		assign[i] = id
	}
	return assign, len(ids)
}

func gridIndex(d, size float64, res int) int {
	return min(int(math.Floor(d/size)), res-1)
}

// collapse merges the vertices of every cluster into their mean and drops
// faces that become degenerate or duplicate.
func collapse(m *Mesh, res int) *Mesh {
	assign, n := clusters(m, res)

	sums := make([]r3.Vec, n)
	counts := make([]int, n)
	for i, v := range m.Vertices {
		sums[assign[i]] = r3.Add(sums[assign[i]], v)
		counts[assign[i]]++
	}
	out := &Mesh{Vertices: make([]r3.Vec, n)}
	for i := range sums {
		out.Vertices[i] = r3.Scale(1/float64(counts[i]), sums[i])
	}

	seen := make(map[[3]int]bool)
	for _, f := range m.Faces {
		g := [3]int{assign[f[0]], assign[f[1]], assign[f[2]]}
		if g[0] == g[1] || g[1] == g[2] || g[0] == g[2] {
			continue
		}
		key := g
		slices.Sort(key[:])
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Faces = append(out.Faces, g)
	}
	return out
}

// smooth moves every vertex to the mean of its neighbours
func smooth(ctx context.Context, m *Mesh, args pipeline.Args) (*Mesh, error) {
	iterations, err := args.Int("iterations")
	if err != nil {
		return nil, err
	}
	if iterations < 0 || iterations > maxIterations {
		return nil, pipeline.InvalidParameter("smooth iterations must be between 0 and %d, got %d", maxIterations, iterations)
	}

	adj := m.Adjacency()
	out := m.Clone()
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.Vertices = neighbourMean(out.Vertices, adj)
	}
	return out, nil
}
