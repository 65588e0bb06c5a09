package mesh

import (
	"bufio"
	"encoding/json"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/msto63/mediaprep/internal/codec"
	"github.com/msto63/mediaprep/internal/pipeline"
)

// Size limits for parsed meshes
const (
	MaxVertices = 1 << 20
	MaxFaces    = 1 << 21
)

// Decode reads a mesh from a JSON string holding OFF text, or OFF text
// encoded as base64 (with or without data URL prefix).
func Decode(raw json.RawMessage) (*Mesh, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, pipeline.InvalidPayload("model must be an OFF string")
	}

	if !strings.HasPrefix(strings.TrimSpace(s), "OFF") {
		b, err := codec.DecodeBase64(s)
		if err != nil {
			return nil, pipeline.InvalidPayload("model is neither OFF text nor base64")
		}
		s = string(b)
	}
	return ParseOFF(s)
}

// ParseOFF parses OFF text. Polygons are triangulated as a fan.
func ParseOFF(s string) (*Mesh, error) {
	var lines [][]string
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, fields)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, pipeline.InvalidPayload("read OFF: %v", err)
	}

	if len(lines) == 0 || lines[0][0] != "OFF" {
		return nil, pipeline.InvalidPayload("missing OFF header")
	}

	// Counts may follow the header on the same line
	counts := lines[0][1:]
	next := 1
	if len(counts) == 0 {
		if len(lines) < 2 {
			return nil, pipeline.InvalidPayload("missing OFF counts")
		}
		counts = lines[1]
		next = 2
	}
	if len(counts) < 2 {
		return nil, pipeline.InvalidPayload("OFF counts need vertex and face numbers")
	}
	nv, err1 := strconv.Atoi(counts[0])
	nf, err2 := strconv.Atoi(counts[1])
	if err1 != nil || err2 != nil || nv < 1 || nf < 0 {
		return nil, pipeline.InvalidPayload("invalid OFF counts %q", strings.Join(counts, " "))
	}
	if nv > MaxVertices || nf > MaxFaces {
		return nil, pipeline.InvalidPayload("mesh has %d vertices and %d faces, limits are %d and %d", nv, nf, MaxVertices, MaxFaces)
	}
	if len(lines) < next+nv+nf {
		return nil, pipeline.InvalidPayload("OFF declares %d vertices and %d faces but has %d data lines", nv, nf, len(lines)-next)
	}

	m := &Mesh{Vertices: make([]r3.Vec, nv), Faces: make([][3]int, 0, nf)}
	for i := 0; i < nv; i++ {
		fields := lines[next+i]
		if len(fields) < 3 {
			return nil, pipeline.InvalidPayload("vertex %d needs 3 coordinates", i)
		}
		var xyz [3]float64
		for k := range xyz {
			v, err := strconv.ParseFloat(fields[k], 64)
			if err != nil {
				return nil, pipeline.InvalidPayload("vertex %d: invalid coordinate %q", i, fields[k])
			}
			xyz[k] = v
		}
		m.Vertices[i] = r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}
	}

	next += nv
	for i := 0; i < nf; i++ {
		fields := lines[next+i]
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 3 || len(fields) < n+1 {
			return nil, pipeline.InvalidPayload("face %d: invalid polygon", i)
		}
		idx := make([]int, n)
		for k := range idx {
			v, err := strconv.Atoi(fields[k+1])
			if err != nil || v < 0 || v >= nv {
				return nil, pipeline.InvalidPayload("face %d: invalid vertex index %q", i, fields[k+1])
			}
			idx[k] = v
		}
		for k := 1; k+1 < n; k++ {
			m.Faces = append(m.Faces, [3]int{idx[0], idx[k], idx[k+1]})
		}
	}
	return m, nil
}

// FormatOFF writes m as OFF text with triangular faces
func FormatOFF(m *Mesh) string {
	var b strings.Builder
	b.WriteString("OFF\n")
	b.WriteString(strconv.Itoa(len(m.Vertices)))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(len(m.Faces)))
	b.WriteString(" 0\n")
	for _, v := range m.Vertices {
		b.WriteString(formatFloat(v.X))
		b.WriteByte(' ')
		b.WriteString(formatFloat(v.Y))
		b.WriteByte(' ')
		b.WriteString(formatFloat(v.Z))
		b.WriteByte('\n')
	}
	for _, f := range m.Faces {
		b.WriteString("3 ")
		b.WriteString(strconv.Itoa(f[0]))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(f[1]))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(f[2]))
		b.WriteByte('\n')
	}
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Snapshot encodes m for the step trace
func Snapshot(m *Mesh) (any, error) {
	return FormatOFF(m), nil
}
