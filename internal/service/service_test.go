package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/msto63/mediaprep/internal/mesh"
	"github.com/msto63/mediaprep/internal/pipeline"
	"github.com/msto63/mediaprep/internal/store"
	"github.com/msto63/mediaprep/internal/text"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

const triangle = "OFF\n3 1 0\n0 0 0\n1 0 0\n0 1 0\n3 0 1 2\n"

type stubFiller struct {
	word string
}

func (f stubFiller) FillMask(context.Context, string) (string, error) {
	return f.word, nil
}

func newService(t *testing.T, filler text.MaskFiller) (*Service, *store.MemoryRunStore) {
	t.Helper()
	runs := store.NewMemoryRunStore()
	svc, err := New(Config{Filler: filler, Store: runs, Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc, runs
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func options(t *testing.T, s string) pipeline.Options {
	t.Helper()
	var opts pipeline.Options
	if err := json.Unmarshal([]byte(s), &opts); err != nil {
		t.Fatalf("invalid options %s: %v", s, err)
	}
	return opts
}

func seed(v uint64) *uint64 {
	return &v
}

func TestOperation(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"text/preprocess", "text/preprocess", true},
		{"IMAGE/Augment", "image/augment", true},
		{"3d/preprocess", "mesh/preprocess", true},
		{" audio/augment ", "audio/augment", true},
		{"video/preprocess", "video/preprocess", false},
		{"text", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Operation(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Operation(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestOperations(t *testing.T) {
	want := []string{
		"audio/augment", "audio/preprocess",
		"image/augment", "image/preprocess",
		"mesh/augment", "mesh/preprocess",
		"text/augment", "text/preprocess",
	}
	if diff := cmp.Diff(want, Operations()); diff != "" {
		t.Errorf("Operations() mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_Text(t *testing.T) {
	svc, runs := newService(t, nil)

	resp, err := svc.Process(context.Background(), &Request{
		Operation: "text/preprocess",
		Data:      jsonString("The Quick, brown fox!"),
		Options:   options(t, `{"case_normalization": true, "punctuation_removal": true}`),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	res, ok := resp.Result.(*text.PreprocessResult)
	if !ok {
		t.Fatalf("Result = %T, want *text.PreprocessResult", resp.Result)
	}
	if diff := cmp.Diff([]string{"the", "quick", "brown", "fox"}, res.Tokens); diff != "" {
		t.Errorf("Tokens mismatch (-want +got):\n%s", diff)
	}
	if resp.Pipeline != "text.preprocess" || resp.RequestID == "" {
		t.Errorf("Response = %+v, want pipeline text.preprocess and a request id", resp)
	}

	run, err := runs.GetRun(context.Background(), resp.RequestID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != store.StatusSucceeded {
		t.Errorf("run status = %q, want %q", run.Status, store.StatusSucceeded)
	}
	if diff := cmp.Diff([]string{"Case Normalization", "Punctuation Removal"}, run.Steps); diff != "" {
		t.Errorf("run steps mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_RequestErrors(t *testing.T) {
	svc, runs := newService(t, nil)
	tests := []struct {
		name    string
		req     *Request
		wantErr error
	}{
		{"unknown operation", &Request{Operation: "video/preprocess", Data: jsonString("x")}, ErrUnknownOperation},
		{"no data", &Request{Operation: "text/preprocess"}, pipeline.ErrInvalidPayload},
		{"null data", &Request{Operation: "text/preprocess", Data: json.RawMessage("null")}, pipeline.ErrInvalidPayload},
		{"no options", &Request{Operation: "text/preprocess", Data: jsonString("hi")}, pipeline.ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Process(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Process() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	list, _ := runs.ListRuns(context.Background(), 0, 0)
	if len(list) != 0 {
		t.Errorf("recorded %d runs for rejected requests, want 0", len(list))
	}
}

func TestProcess_StepFailureRecorded(t *testing.T) {
	svc, runs := newService(t, nil)

	_, err := svc.Process(context.Background(), &Request{
		Operation: "3d/preprocess",
		Data:      jsonString(triangle),
		Options:   options(t, `{"normalize": true, "simplify": true, "simplify_ratio": 5}`),
	})
	var stepErr *pipeline.StepError
	if !errors.As(err, &stepErr) || stepErr.Step != "Simplify" {
		t.Fatalf("Process() error = %v, want StepError in Simplify", err)
	}

	list, err := runs.ListRuns(context.Background(), 0, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListRuns() = %d runs, %v, want 1", len(list), err)
	}
	run := list[0]
	if run.Status != store.StatusFailed || run.Error == "" || run.Operation != "mesh/preprocess" {
		t.Errorf("run = %+v, want failed mesh/preprocess with error", run)
	}
	if diff := cmp.Diff([]string{"Normalize"}, run.Steps); diff != "" {
		t.Errorf("run steps mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_SeedIsReproducible(t *testing.T) {
	svc, _ := newService(t, nil)
	req := func() *Request {
		return &Request{
			Operation: "mesh/augment",
			Data:      jsonString(triangle),
			Options:   options(t, `{"3d-rotation": true, "noise": true}`),
			Seed:      seed(42),
		}
	}

	first, err := svc.Process(context.Background(), req())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	second, err := svc.Process(context.Background(), req())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	a := first.Result.(*mesh.AugmentResult).Augmented
	b := second.Result.(*mesh.AugmentResult).Augmented
	if a != b {
		t.Error("same seed produced different models")
	}
	if first.Seed != 42 {
		t.Errorf("Seed = %d, want 42", first.Seed)
	}
	if first.RequestID == second.RequestID {
		t.Error("requests share an id")
	}
}

func TestProcess_Observer(t *testing.T) {
	svc, _ := newService(t, stubFiller{word: "cat"})

	var events []pipeline.Event
	_, err := svc.Process(context.Background(), &Request{
		Operation: "text/augment",
		Data:      jsonString("a dog sat on the mat"),
		Options:   options(t, `{"mlm_replacement": {"enabled": true, "n_words": 1}, "random_deletion": {"enabled": true, "n_words": 1}}`),
		Seed:      seed(1),
		Observer:  func(ev pipeline.Event) { events = append(events, ev) },
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	var steps []string
	for _, ev := range events {
		steps = append(steps, ev.Step)
		if ev.Total != 2 {
			t.Errorf("event %s total = %d, want 2", ev.Step, ev.Total)
		}
	}
	if diff := cmp.Diff([]string{"Word Replacement", "Random Deletion"}, steps); diff != "" {
		t.Errorf("observed steps mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_NoFiller(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Process(context.Background(), &Request{
		Operation: "text/augment",
		Data:      jsonString("a dog sat on the mat"),
		Options:   options(t, `{"mlm_replacement": true}`),
	})
	if !errors.Is(err, pipeline.ErrUnavailable) {
		t.Errorf("Process() error = %v, want ErrUnavailable", err)
	}
}

func TestProcess_WithoutStore(t *testing.T) {
	svc, err := New(Config{Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if svc.Store() != nil {
		t.Error("Store() != nil without a configured store")
	}
	if _, err := svc.Process(context.Background(), &Request{Operation: "text/preprocess", Data: jsonString("hi"), Options: pipeline.Options{}}); err != nil {
		t.Errorf("Process() error = %v", err)
	}
}

func TestCatalog(t *testing.T) {
	svc, _ := newService(t, nil)
	catalog := svc.Catalog()
	if len(catalog) != len(Operations()) {
		t.Fatalf("Catalog() has %d entries, want %d", len(catalog), len(Operations()))
	}

	for _, info := range catalog {
		if info.Operation != "text/augment" {
			continue
		}
		var keys []string
		for _, s := range info.Steps {
			keys = append(keys, s.Key)
		}
		want := []string{"synonym_replacement", "mlm_replacement", "vocabulary_replacement", "random_insertion", "random_deletion"}
		if diff := cmp.Diff(want, keys); diff != "" {
			t.Errorf("text/augment steps mismatch (-want +got):\n%s", diff)
		}
		if info.Modality != "text" || info.Kind != "augment" || info.Pipeline != "text.augment" {
			t.Errorf("text/augment info = %+v", info)
		}
		return
	}
	t.Error("Catalog() has no text/augment entry")
}
