package mlm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/msto63/mediaprep/pkg/core/cache"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %v, want http://localhost:11434", cfg.BaseURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}

func TestClient_FillMask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Path = %v, want /api/generate", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Method = %v, want POST", r.Method)
		}

		var req GenerateRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Model != "tiny" {
			t.Errorf("Model = %v, want tiny", req.Model)
		}
		if !strings.Contains(req.Prompt, "[MASK]") {
			t.Errorf("Prompt = %q, want mask token", req.Prompt)
		}
		if req.Stream {
			t.Error("Stream should be false")
		}

		json.NewEncoder(w).Encode(GenerateResponse{Response: `  "cat". It fits.`, Done: true})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/", Model: "tiny", Timeout: 5 * time.Second})

	word, err := client.FillMask(context.Background(), "the [MASK] sat on the mat")
	if err != nil {
		t.Fatalf("FillMask() error = %v", err)
	}
	if word != "cat" {
		t.Errorf("FillMask() = %q, want cat", word)
	}
}

func TestClient_FillMask_NoMask(t *testing.T) {
	client := NewClient(DefaultConfig())

	if _, err := client.FillMask(context.Background(), "nothing to fill"); err == nil {
		t.Error("FillMask() expected error without mask token")
	}
}

func TestClient_FillMask_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal error"))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "tiny", Timeout: 5 * time.Second})

	_, err := client.FillMask(context.Background(), "a [MASK] b")
	if err == nil {
		t.Fatal("FillMask() expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %v, want status code", err)
	}
}

func TestClient_FillMask_EmptyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResponse{Response: "  ", Done: true})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Model: "tiny", Timeout: 5 * time.Second})

	if _, err := client.FillMask(context.Background(), "a [MASK] b"); err == nil {
		t.Error("FillMask() expected error for empty reply")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://mlm.local:11434/"})

	if got := client.HealthURL(); got != "http://mlm.local:11434/api/tags" {
		t.Errorf("HealthURL() = %v, want http://mlm.local:11434/api/tags", got)
	}
	if client.model != DefaultConfig().Model {
		t.Errorf("model = %v, want %v", client.model, DefaultConfig().Model)
	}
	if client.httpClient.Timeout != DefaultConfig().Timeout {
		t.Errorf("Timeout = %v, want %v", client.httpClient.Timeout, DefaultConfig().Timeout)
	}
}

func TestFirstWord(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"cat", "cat"},
		{"  Dog.  ", "Dog"},
		{`"house" is the answer`, "house"},
		{"", ""},
		{"...", ""},
	}

	for _, tt := range tests {
		if got := FirstWord(tt.input); got != tt.expected {
			t.Errorf("FirstWord(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

type countingFiller struct {
	calls int
	err   error
}

func (f *countingFiller) FillMask(_ context.Context, masked string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "word" + strings.Repeat("!", f.calls), nil
}

func TestCachedFiller(t *testing.T) {
	next := &countingFiller{}
	f := NewCachedFiller(next, cache.Config{MaxItems: 8, TTL: time.Minute})

	first, err := f.FillMask(context.Background(), "a [MASK] b")
	if err != nil {
		t.Fatalf("FillMask() error = %v", err)
	}
	second, _ := f.FillMask(context.Background(), "a [MASK] b")
	if first != second || next.calls != 1 {
		t.Errorf("FillMask() = %q then %q with %d calls, want one cached call", first, second, next.calls)
	}

	f.FillMask(context.Background(), "c [MASK] d")
	if next.calls != 2 {
		t.Errorf("calls = %d, want 2 for a new sentence", next.calls)
	}
	if s := f.Stats(); s.Hits != 1 || s.Size != 2 {
		t.Errorf("Stats() = %+v, want 1 hit and size 2", s)
	}
}

func TestCachedFiller_ErrorsNotCached(t *testing.T) {
	next := &countingFiller{err: errors.New("down")}
	f := NewCachedFiller(next, cache.Config{})

	for i := 0; i < 2; i++ {
		if _, err := f.FillMask(context.Background(), "a [MASK]"); err == nil {
			t.Fatal("FillMask() expected error")
		}
	}
	if next.calls != 2 {
		t.Errorf("calls = %d, want 2", next.calls)
	}
}
