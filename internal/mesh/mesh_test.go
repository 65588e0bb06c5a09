package mesh

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/msto63/mediaprep/internal/pipeline"
)

// cube is a 2x2x2 cube centred on (1,1,1) with quad faces
const cube = `OFF
# cube
8 6 0
0 0 0
2 0 0
2 2 0
0 2 0
0 0 2
2 0 2
2 2 2
0 2 2
4 0 3 2 1
4 4 5 6 7
4 0 1 5 4
4 2 3 7 6
4 1 2 6 5
4 0 4 7 3
`

// grid is an n x n vertex sheet in the z=0 plane
func grid(n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OFF\n%d %d 0\n", n*n, 2*(n-1)*(n-1))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			fmt.Fprintf(&b, "%d %d 0\n", x, y)
		}
	}
	for y := 0; y < n-1; y++ {
		for x := 0; x < n-1; x++ {
			i := y*n + x
			fmt.Fprintf(&b, "3 %d %d %d\n3 %d %d %d\n", i, i+1, i+n+1, i, i+n+1, i+n)
		}
	}
	return b.String()
}

func raw(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func parse(t *testing.T, s string) *Mesh {
	t.Helper()
	m, err := ParseOFF(s)
	if err != nil {
		t.Fatalf("ParseOFF() error = %v", err)
	}
	return m
}

func options(t *testing.T, s string) pipeline.Options {
	t.Helper()
	var opts pipeline.Options
	if err := json.Unmarshal([]byte(s), &opts); err != nil {
		t.Fatalf("invalid options %s: %v", s, err)
	}
	return opts
}

func near(a, b r3.Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= tol
}

func TestParseOFF_Cube(t *testing.T) {
	m := parse(t, cube)
	if len(m.Vertices) != 8 || len(m.Faces) != 12 {
		t.Fatalf("ParseOFF() = %d vertices, %d faces, want 8, 12", len(m.Vertices), len(m.Faces))
	}
	if diff := cmp.Diff([3]int{0, 3, 2}, m.Faces[0]); diff != "" {
		t.Errorf("first fan triangle mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOFF_CountsOnHeader(t *testing.T) {
	m := parse(t, "OFF 3 1 0\n0 0 0\n1 0 0\n0 1 0\n3 0 1 2\n")
	if len(m.Vertices) != 3 || len(m.Faces) != 1 {
		t.Errorf("ParseOFF() = %d vertices, %d faces, want 3, 1", len(m.Vertices), len(m.Faces))
	}
}

func TestParseOFF_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"no header", "3 1 0\n0 0 0\n1 0 0\n0 1 0\n3 0 1 2\n"},
		{"no counts", "OFF\n"},
		{"bad counts", "OFF\nx 1 0\n"},
		{"truncated", "OFF\n3 1 0\n0 0 0\n1 0 0\n"},
		{"short vertex", "OFF\n3 1 0\n0 0\n1 0 0\n0 1 0\n3 0 1 2\n"},
		{"index out of range", "OFF\n3 1 0\n0 0 0\n1 0 0\n0 1 0\n3 0 1 3\n"},
		{"two vertex face", "OFF\n3 1 0\n0 0 0\n1 0 0\n0 1 0\n2 0 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseOFF(tt.in); !errors.Is(err, pipeline.ErrInvalidPayload) {
				t.Errorf("ParseOFF() error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestFormatOFF_RoundTrip(t *testing.T) {
	m := parse(t, cube)
	out := FormatOFF(m)
	if !strings.HasPrefix(out, "OFF\n8 12 0\n") {
		t.Errorf("FormatOFF() header = %q", strings.SplitN(out, "\n", 3)[:2])
	}
	again := parse(t, out)
	if diff := cmp.Diff(m, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Base64(t *testing.T) {
	enc := "data:model/off;base64," + base64.StdEncoding.EncodeToString([]byte(cube))
	m, err := Decode(raw(enc))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(m.Vertices) != 8 {
		t.Errorf("vertices = %d, want 8", len(m.Vertices))
	}

	if _, err := Decode(json.RawMessage(`{"off": 1}`)); !errors.Is(err, pipeline.ErrInvalidPayload) {
		t.Errorf("Decode(object) error = %v, want ErrInvalidPayload", err)
	}
}

func TestCentroid(t *testing.T) {
	if c := parse(t, cube).Centroid(); !near(c, r3.Vec{X: 1, Y: 1, Z: 1}, 1e-12) {
		t.Errorf("Centroid() = %v, want (1,1,1)", c)
	}
	// Without faces the mean vertex is used
	if c := parse(t, "OFF\n2 0 0\n0 0 0\n4 2 0\n").Centroid(); !near(c, r3.Vec{X: 2, Y: 1}, 1e-12) {
		t.Errorf("Centroid() = %v, want (2,1,0)", c)
	}
}

func TestAdjacency(t *testing.T) {
	adj := parse(t, "OFF\n4 1 0\n0 0 0\n1 0 0\n0 1 0\n5 5 5\n3 0 1 2\n").Adjacency()
	want := [][]int{{1, 2}, {0, 2}, {0, 1}, nil}
	if diff := cmp.Diff(want, adj); diff != "" {
		t.Errorf("Adjacency() mismatch (-want +got):\n%s", diff)
	}
}

func TestPreprocessor_NothingEnabled(t *testing.T) {
	res, err := NewPreprocessor().Process(context.Background(), raw(cube), nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(res.Steps) != 0 {
		t.Errorf("steps = %v, want none", res.Steps.Labels())
	}
	if res.Processed != FormatOFF(parse(t, cube)) {
		t.Error("processed model differs from input")
	}
}

func TestPreprocessor_NormalizeCenter(t *testing.T) {
	res, err := NewPreprocessor().Process(context.Background(), raw(cube), options(t, `{"center": true, "normalize": true}`))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	want := []string{"Normalize", "Center"}
	if diff := cmp.Diff(want, res.Steps.Labels()); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}

	m := parse(t, res.Processed)
	if e := m.Extent(); math.Abs(e-1) > 1e-12 {
		t.Errorf("Extent() = %v, want 1", e)
	}
	if c := m.Centroid(); !near(c, r3.Vec{}, 1e-12) {
		t.Errorf("Centroid() = %v, want origin", c)
	}
	// Final payload equals the last snapshot
	if last := res.Steps[len(res.Steps)-1].Value; last != res.Processed {
		t.Error("final model differs from last snapshot")
	}
}

func TestPreprocessor_Simplify(t *testing.T) {
	res, err := NewPreprocessor().Process(context.Background(), raw(grid(10)), options(t, `{"simplify": true}`))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	m := parse(t, res.Processed)
	if n := len(m.Vertices); n < 50 || n >= 100 {
		t.Errorf("vertices = %d, want in [50, 100)", n)
	}
	if len(m.Faces) == 0 {
		t.Error("simplified mesh has no faces")
	}
}

func TestPreprocessor_SimplifyFloor(t *testing.T) {
	res, err := NewPreprocessor().Process(context.Background(), raw(cube), options(t, `{"simplify": true, "simplify_ratio": 0.1}`))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if n := len(parse(t, res.Processed).Vertices); n < minVertices {
		t.Errorf("vertices = %d, want at least %d", n, minVertices)
	}
}

func TestPreprocessor_InvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		opts string
	}{
		{"ratio zero", `{"simplify": true, "simplify_ratio": 0}`},
		{"ratio above one", `{"simplify": {"enabled": true, "ratio": 2}}`},
		{"fractional iterations", `{"smooth": true, "smooth_iterations": 1.5}`},
		{"negative iterations", `{"smooth": {"enabled": true, "iterations": -1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPreprocessor().Process(context.Background(), raw(cube), options(t, tt.opts))
			if !errors.Is(err, pipeline.ErrInvalidParameter) {
				t.Errorf("Process() error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestPreprocessor_Smooth(t *testing.T) {
	res, err := NewPreprocessor().Process(context.Background(), raw(cube), options(t, `{"smooth": {"enabled": true, "iterations": 2}}`))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if e := parse(t, res.Processed).Extent(); e >= 2 {
		t.Errorf("Extent() = %v, want below 2 after smoothing", e)
	}
}

func newAugmenter(seed uint64) *Augmenter {
	return NewAugmenter(rand.New(rand.NewPCG(seed, 7)))
}

func TestAugmenter_RotationPreservesNorms(t *testing.T) {
	src := parse(t, cube)
	res, err := newAugmenter(1).Process(context.Background(), raw(cube), options(t, `{"3d-rotation": {"enabled": true}}`))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	out := parse(t, res.Augmented)
	for i := range src.Vertices {
		if d := math.Abs(r3.Norm(src.Vertices[i]) - r3.Norm(out.Vertices[i])); d > 1e-9 {
			t.Errorf("vertex %d norm changed by %v", i, d)
		}
	}
}

func TestRandomRotation_Unit(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	for i := 0; i < 100; i++ {
		rot := RandomRotation(rng)
		if n := r3.Norm(rot.Rotate(r3.Vec{X: 1})); math.Abs(n-1) > 1e-12 {
			t.Fatalf("rotation %d scales by %v", i, n)
		}
	}
}

func TestAugmenter_ZeroParameters(t *testing.T) {
	res, err := newAugmenter(2).Process(context.Background(), raw(cube),
		options(t, `{"scale": {"enabled": true, "factor": 0}, "noise": {"enabled": true, "amplitude": 0}, "deform": {"enabled": true, "strength": 0}}`))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Augmented != FormatOFF(parse(t, cube)) {
		t.Error("zero parameters changed the model")
	}

	want := []string{"Scale", "Noise", "Deform"}
	if diff := cmp.Diff(want, res.Steps.Labels()); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
}

func TestAugmenter_Seeded(t *testing.T) {
	opts := options(t, `{"3d-rotation": true, "scale": true, "noise": true, "deform": true}`)
	first, err := newAugmenter(9).Process(context.Background(), raw(cube), opts)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	second, err := newAugmenter(9).Process(context.Background(), raw(cube), opts)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if first.Augmented != second.Augmented {
		t.Error("same seed produced different models")
	}
}

func TestAugmenter_InvalidScale(t *testing.T) {
	_, err := newAugmenter(1).Process(context.Background(), raw(cube), options(t, `{"scale": {"enabled": true, "factor": 1.5}}`))
	if !errors.Is(err, pipeline.ErrInvalidParameter) {
		t.Errorf("Process() error = %v, want ErrInvalidParameter", err)
	}
}
