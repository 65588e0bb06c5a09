package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/msto63/mediaprep/pkg/core/logging"
)

// Step is one named transform of a pipeline
type Step[P any] struct {
	// Key selects the step in Options
	Key string
	// Label names the step in the trace
	Label  string
	Help   string
	Params []Param
	Apply  func(ctx context.Context, payload P, args Args) (P, error)
}

// StepInfo describes a step for catalogs
type StepInfo struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Help   string  `json:"help,omitempty"`
	Params []Param `json:"params,omitempty"`
}

// SnapshotFunc encodes a payload for the trace
type SnapshotFunc[P any] func(P) (any, error)

// Pipeline applies its steps in declaration order
type Pipeline[P any] struct {
	name     string
	snapshot SnapshotFunc[P]
	steps    []Step[P]
}

// New creates a pipeline. Step keys and labels must be unique.
func New[P any](name string, snapshot SnapshotFunc[P], steps ...Step[P]) *Pipeline[P] {
	seen := make(map[string]bool, len(steps)*2)
	for _, s := range steps {
		if s.Apply == nil {
			panic(fmt.Sprintf("pipeline %s: step %q has no transform", name, s.Key))
		}
		if seen["k:"+s.Key] || seen["l:"+s.Label] {
			panic(fmt.Sprintf("pipeline %s: duplicate step %q", name, s.Key))
		}
		seen["k:"+s.Key] = true
		seen["l:"+s.Label] = true
	}
	return &Pipeline[P]{name: name, snapshot: snapshot, steps: steps}
}

// Name returns the pipeline name
func (p *Pipeline[P]) Name() string {
	return p.name
}

// Steps describes the steps in execution order
func (p *Pipeline[P]) Steps() []StepInfo {
	infos := make([]StepInfo, len(p.steps))
	for i, s := range p.steps {
		infos[i] = StepInfo{Key: s.Key, Label: s.Label, Help: s.Help, Params: s.Params}
	}
	return infos
}

// Event reports one completed step
type Event struct {
	Pipeline string        `json:"pipeline"`
	Key      string        `json:"key"`
	Step     string        `json:"step"`
	Index    int           `json:"index"`
	Total    int           `json:"total"`
	Duration time.Duration `json:"duration_ns"`
}

// RunOption configures a single run
type RunOption func(*runConfig)

type runConfig struct {
	observer func(Event)
	logger   *logging.Logger
}

// WithObserver calls fn after every completed step
func WithObserver(fn func(Event)) RunOption {
	return func(c *runConfig) {
		c.observer = fn
	}
}

// WithLogger logs step execution to logger
func WithLogger(logger *logging.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// Result is the outcome of a successful run
type Result[P any] struct {
	Payload  P
	Trace    Trace
	Duration time.Duration
}

// Run applies every enabled step to payload in declaration order. Any
// failure, including context cancellation between steps, returns a
// *StepError and no result.
func (p *Pipeline[P]) Run(ctx context.Context, payload P, opts Options, runOpts ...RunOption) (*Result[P], error) {
	cfg := runConfig{logger: logging.Nop()}
	for _, o := range runOpts {
		o(&cfg)
	}

	total := 0
	for _, s := range p.steps {
		if opts.Enabled(s.Key) {
			total++
		}
	}

	start := time.Now()
	trace := make(Trace, 0, total)

	for _, s := range p.steps {
		if !opts.Enabled(s.Key) {
			cfg.logger.Debug("Step skipped", "pipeline", p.name, "step", s.Key)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, &StepError{Pipeline: p.name, Step: s.Label, Err: ctx.Err()}
		default:
		}

		args, err := NewArgs(s.Key, s.Params, opts)
		if err != nil {
			return nil, p.fail(cfg.logger, s, err)
		}

		stepStart := time.Now()
		out, err := s.Apply(ctx, payload, args)
		if err != nil {
			return nil, p.fail(cfg.logger, s, err)
		}

		snap, err := p.snapshot(out)
		if err != nil {
			return nil, p.fail(cfg.logger, s, fmt.Errorf("snapshot: %w", err))
		}
		duration := time.Since(stepStart)

		payload = out
		trace = append(trace, Snapshot{Step: s.Label, Value: snap})

		cfg.logger.Debug("Step executed",
			"pipeline", p.name,
			"step", s.Key,
			"duration_ms", duration.Milliseconds())

		if cfg.observer != nil {
			cfg.observer(Event{
				Pipeline: p.name,
				Key:      s.Key,
				Step:     s.Label,
				Index:    len(trace) - 1,
				Total:    total,
				Duration: duration,
			})
		}
	}

	return &Result[P]{Payload: payload, Trace: trace, Duration: time.Since(start)}, nil
}

func (p *Pipeline[P]) fail(logger *logging.Logger, s Step[P], err error) error {
	logger.Error("Step failed", "pipeline", p.name, "step", s.Key, "error", err)
	return &StepError{Pipeline: p.name, Step: s.Label, Err: err}
}
