// Package mesh implements the 3D preprocessing and augmentation pipelines
// over triangle meshes exchanged as OFF text.
package mesh

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mesh is an indexed triangle mesh
type Mesh struct {
	Vertices []r3.Vec
	Faces    [][3]int
}

// Clone returns a deep copy
func (m *Mesh) Clone() *Mesh {
	return &Mesh{
		Vertices: slices.Clone(m.Vertices),
		Faces:    slices.Clone(m.Faces),
	}
}

// Bounds returns the axis-aligned bounding box corners
func (m *Mesh) Bounds() (lo, hi r3.Vec) {
	if len(m.Vertices) == 0 {
		return lo, hi
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return lo, hi
}

// Extent returns the longest side of the bounding box
func (m *Mesh) Extent() float64 {
	lo, hi := m.Bounds()
	d := r3.Sub(hi, lo)
	return math.Max(d.X, math.Max(d.Y, d.Z))
}

// Centroid returns the area-weighted mean of the face centroids. Meshes
// without area fall back to the mean vertex.
func (m *Mesh) Centroid() r3.Vec {
	var sum r3.Vec
	total := 0.0
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		area := r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a))) / 2
		center := r3.Scale(1.0/3, r3.Add(a, r3.Add(b, c)))
		sum = r3.Add(sum, r3.Scale(area, center))
		total += area
	}
	if total > 0 {
		return r3.Scale(1/total, sum)
	}

	if len(m.Vertices) == 0 {
		return r3.Vec{}
	}
	for _, v := range m.Vertices {
		sum = r3.Add(sum, v)
	}
	return r3.Scale(1/float64(len(m.Vertices)), sum)
}

// Transform returns a copy with fn applied to every vertex
func (m *Mesh) Transform(fn func(i int, v r3.Vec) r3.Vec) *Mesh {
	out := m.Clone()
	for i, v := range out.Vertices {
		out.Vertices[i] = fn(i, v)
	}
	return out
}

// Adjacency returns the sorted edge neighbours of every vertex
func (m *Mesh) Adjacency() [][]int {
	sets := make([]map[int]bool, len(m.Vertices))
	link := func(a, b int) {
		if a == b {
			return
		}
		if sets[a] == nil {
			sets[a] = make(map[int]bool)
		}
		sets[a][b] = true
	}
	for _, f := range m.Faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			link(a, b)
			link(b, a)
		}
	}

	adj := make([][]int, len(m.Vertices))
	for i, set := range sets {
		for j := range set {
			adj[i] = append(adj[i], j)
		}
		slices.Sort(adj[i])
	}
	return adj
}

// neighbourMean replaces every value with the mean of its neighbours.
// Values without neighbours are kept.
func neighbourMean(values []r3.Vec, adj [][]int) []r3.Vec {
	out := make([]r3.Vec, len(values))
	for i, ns := range adj {
		if len(ns) == 0 {
			out[i] = values[i]
			continue
		}
		var sum r3.Vec
		for _, j := range ns {
			sum = r3.Add(sum, values[j])
		}
		out[i] = r3.Scale(1/float64(len(ns)), sum)
	}
	return out
}
