// Package service runs the media pipelines on behalf of the HTTP, websocket
// and CLI surfaces and records every run.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/msto63/mediaprep/internal/pipeline"
	"github.com/msto63/mediaprep/internal/store"
	"github.com/msto63/mediaprep/internal/text"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

// ErrUnknownOperation is returned for operation ids without a pipeline
var ErrUnknownOperation = errors.New("unknown operation")

// Request is one pipeline invocation
type Request struct {
	Operation string           `json:"operation"`
	Data      json.RawMessage  `json:"data"`
	Options   pipeline.Options `json:"options"`
	Seed      *uint64          `json:"seed,omitempty"`

	// Observer is notified after every completed step
	Observer func(pipeline.Event) `json:"-"`
}

// Response is the outcome of a successful run
type Response struct {
	RequestID string        `json:"request_id"`
	Operation string        `json:"operation"`
	Pipeline  string        `json:"pipeline"`
	Seed      uint64        `json:"seed"`
	Duration  time.Duration `json:"duration_ns"`
	Result    Result        `json:"result"`
}

// Config holds service dependencies. Filler and Store are optional.
type Config struct {
	Lexicon *text.Lexicon
	Filler  text.MaskFiller
	Store   store.RunStore
	Logger  *logging.Logger
}

// Service builds fresh processors for every request
type Service struct {
	lexicon *text.Lexicon
	filler  text.MaskFiller
	store   store.RunStore
	logger  *logging.Logger
	now     func() time.Time
}

// New creates a service. A nil lexicon loads the embedded one.
func New(cfg Config) (*Service, error) {
	lex := cfg.Lexicon
	if lex == nil {
		var err error
		lex, err = text.DefaultLexicon()
		if err != nil {
			return nil, fmt.Errorf("failed to load lexicon: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("service")
	}

	return &Service{
		lexicon: lex,
		filler:  cfg.Filler,
		store:   cfg.Store,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Store returns the run store, or nil when history is disabled
func (s *Service) Store() store.RunStore {
	return s.store
}

// Process runs the requested pipeline to completion or failure
func (s *Service) Process(ctx context.Context, req *Request) (*Response, error) {
	op, ok := Operation(req.Operation)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}
	if isEmpty(req.Data) {
		return nil, pipeline.InvalidPayload("no data provided")
	}
	if req.Options == nil {
		return nil, pipeline.InvalidPayload("no options provided")
	}

	seed := uint64(s.now().UnixNano())
	if req.Seed != nil {
		seed = *req.Seed
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	id := uuid.NewString()
	logger := s.logger.With("request_id", id, "operation", op)
	proc := builders[op](s, rng)

	var completed []string
	observer := func(ev pipeline.Event) {
		completed = append(completed, ev.Step)
		if req.Observer != nil {
			req.Observer(ev)
		}
	}

	logger.Info("Processing request", "pipeline", proc.name, "input_bytes", len(req.Data))
	start := s.now()
	result, err := proc.run(ctx, req.Data, req.Options, pipeline.WithObserver(observer), pipeline.WithLogger(logger))
	duration := s.now().Sub(start)

	run := &store.Run{
		ID:         id,
		Operation:  op,
		Status:     store.StatusSucceeded,
		Steps:      completed,
		DurationMS: duration.Milliseconds(),
		InputBytes: len(req.Data),
		CreatedAt:  start.UTC(),
	}
	if err != nil {
		run.Status = store.StatusFailed
		run.Error = err.Error()
	}
	s.record(logger, run)

	if err != nil {
		logger.Warn("Request failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, err
	}

	logger.Info("Request completed", "steps", len(completed), "duration_ms", duration.Milliseconds())
	return &Response{
		RequestID: id,
		Operation: op,
		Pipeline:  proc.name,
		Seed:      seed,
		Duration:  duration,
		Result:    result,
	}, nil
}

// record stores the run; history failures never fail the request
func (s *Service) record(logger *logging.Logger, run *store.Run) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordRun(ctx, run); err != nil {
		logger.Warn("Failed to record run", "error", err)
	}
}

// Catalog describes every operation with its steps and parameters
func (s *Service) Catalog() []PipelineInfo {
	rng := rand.New(rand.NewPCG(0, 0))
	infos := make([]PipelineInfo, 0, len(builders))
	for _, op := range Operations() {
		proc := builders[op](s, rng)
		modality, kind, _ := strings.Cut(op, "/")
		infos = append(infos, PipelineInfo{
			Operation: op,
			Modality:  modality,
			Kind:      kind,
			Pipeline:  proc.name,
			Steps:     proc.steps,
		})
	}
	return infos
}

func isEmpty(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == `""`
}
