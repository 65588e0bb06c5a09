package service

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/msto63/mediaprep/internal/audio"
	"github.com/msto63/mediaprep/internal/mesh"
	"github.com/msto63/mediaprep/internal/pipeline"
	"github.com/msto63/mediaprep/internal/raster"
	"github.com/msto63/mediaprep/internal/text"
)

// Modalities and kinds of operations
const (
	ModalityText  = "text"
	ModalityImage = "image"
	ModalityAudio = "audio"
	ModalityMesh  = "mesh"

	KindPreprocess = "preprocess"
	KindAugment    = "augment"
)

// modalityAliases maps alternative modality names
var modalityAliases = map[string]string{
	"3d": ModalityMesh,
}

// Result is the response body of a pipeline run
type Result interface {
	StepTrace() pipeline.Trace
}

type runFunc func(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (Result, error)

// processor is a freshly built pipeline ready for one run
type processor struct {
	name  string
	steps []pipeline.StepInfo
	run   runFunc
}

type describer interface {
	Name() string
	Steps() []pipeline.StepInfo
}

func newProcessor[R Result](d describer, fn func(context.Context, json.RawMessage, pipeline.Options, ...pipeline.RunOption) (R, error)) *processor {
	return &processor{
		name:  d.Name(),
		steps: d.Steps(),
		run: func(ctx context.Context, data json.RawMessage, opts pipeline.Options, runOpts ...pipeline.RunOption) (Result, error) {
			res, err := fn(ctx, data, opts, runOpts...)
			if err != nil {
				return nil, err
			}
			return res, nil
		},
	}
}

// builder creates the processor of an operation
type builder func(s *Service, rng *rand.Rand) *processor

var builders = map[string]builder{
	ModalityText + "/" + KindPreprocess: func(s *Service, _ *rand.Rand) *processor {
		p := text.NewPreprocessor(s.lexicon)
		return newProcessor(p, p.Process)
	},
	ModalityText + "/" + KindAugment: func(s *Service, rng *rand.Rand) *processor {
		a := text.NewAugmenter(s.lexicon, s.filler, rng)
		return newProcessor(a, a.Process)
	},
	ModalityImage + "/" + KindPreprocess: func(_ *Service, _ *rand.Rand) *processor {
		p := raster.NewPreprocessor()
		return newProcessor(p, p.Process)
	},
	ModalityImage + "/" + KindAugment: func(_ *Service, rng *rand.Rand) *processor {
		a := raster.NewAugmenter(rng)
		return newProcessor(a, a.Process)
	},
	ModalityAudio + "/" + KindPreprocess: func(_ *Service, _ *rand.Rand) *processor {
		p := audio.NewPreprocessor()
		return newProcessor(p, p.Process)
	},
	ModalityAudio + "/" + KindAugment: func(_ *Service, rng *rand.Rand) *processor {
		a := audio.NewAugmenter(rng)
		return newProcessor(a, a.Process)
	},
	ModalityMesh + "/" + KindPreprocess: func(_ *Service, _ *rand.Rand) *processor {
		p := mesh.NewPreprocessor()
		return newProcessor(p, p.Process)
	},
	ModalityMesh + "/" + KindAugment: func(_ *Service, rng *rand.Rand) *processor {
		a := mesh.NewAugmenter(rng)
		return newProcessor(a, a.Process)
	},
}

// Operation returns the canonical id of "<modality>/<kind>", resolving
// modality aliases. ok is false for unknown operations.
func Operation(id string) (canonical string, ok bool) {
	modality, kind, found := strings.Cut(strings.ToLower(strings.TrimSpace(id)), "/")
	if !found {
		return "", false
	}
	if alias, isAlias := modalityAliases[modality]; isAlias {
		modality = alias
	}
	canonical = modality + "/" + kind
	_, ok = builders[canonical]
	return canonical, ok
}

// Operations lists the canonical operation ids in sorted order
func Operations() []string {
	ids := make([]string, 0, len(builders))
	for id := range builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PipelineInfo describes one operation for the catalog
type PipelineInfo struct {
	Operation string              `json:"operation"`
	Modality  string              `json:"modality"`
	Kind      string              `json:"kind"`
	Pipeline  string              `json:"pipeline"`
	Steps     []pipeline.StepInfo `json:"steps"`
}
