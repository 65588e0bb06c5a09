package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/msto63/mediaprep/internal/pipeline"
	"github.com/msto63/mediaprep/internal/service"
	"github.com/msto63/mediaprep/internal/store"
	"github.com/msto63/mediaprep/pkg/core/config"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

const triangle = "OFF\n3 1 0\n0 0 0\n1 0 0\n0 1 0\n3 0 1 2\n"

func newTestServer(t *testing.T, runs store.RunStore) *Server {
	t.Helper()
	svc, err := service.New(service.Config{Store: runs, Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}
	return New(DefaultConfig(), svc)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return v
}

func processBody(data, options string) string {
	b, _ := json.Marshal(data)
	return fmt.Sprintf(`{"data": %s, "options": %s}`, b, options)
}

func TestHandler_LegacyText(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryRunStore())
	rec := do(t, srv.Handler(), http.MethodPost, "/preprocess",
		`{"text": "Hello, World", "options": {"case_normalization": true, "punctuation_removal": true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}

	body := decode[struct {
		Steps    map[string]string `json:"preprocessing_steps"`
		Tokens   []string          `json:"tokens"`
		TokenIDs []int             `json:"token_ids"`
	}](t, rec)
	if diff := cmp.Diff([]string{"hello", "world"}, body.Tokens); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{'h', 'w'}, body.TokenIDs); diff != "" {
		t.Errorf("token_ids mismatch (-want +got):\n%s", diff)
	}
	if body.Steps["Punctuation Removal"] != "hello world" {
		t.Errorf("steps = %v", body.Steps)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("missing request id header")
	}
}

func TestHandler_VersionedMesh(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, path := range []string{"/api/v1/3d/preprocess", "/api/v1/mesh/preprocess", "/preprocess-3d"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, srv.Handler(), http.MethodPost, path, processBody(triangle, `{"center": true}`))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
			}
			body := decode[map[string]json.RawMessage](t, rec)
			if _, ok := body["processed_model"]; !ok {
				t.Errorf("response keys = %v, want processed_model", body)
			}
		})
	}
}

func TestHandler_Seed(t *testing.T) {
	srv := newTestServer(t, nil)
	body := `{"data": "` + strings.ReplaceAll(triangle, "\n", `\n`) + `", "options": {"noise": true}, "seed": 7}`

	first := do(t, srv.Handler(), http.MethodPost, "/augment-3d", body)
	second := do(t, srv.Handler(), http.MethodPost, "/augment-3d", body)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status = %d, %d, want 200", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("same seed produced different responses")
	}
	if got := first.Header().Get(HeaderSeed); got != "7" {
		t.Errorf("%s = %q, want 7", HeaderSeed, got)
	}
}

func TestHandler_Errors(t *testing.T) {
	srv := newTestServer(t, nil)
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"empty body", http.MethodPost, "/preprocess", "", http.StatusBadRequest, "invalid_request"},
		{"invalid json", http.MethodPost, "/preprocess", "{", http.StatusBadRequest, "invalid_request"},
		{"no data", http.MethodPost, "/preprocess", `{"options": {}}`, http.StatusBadRequest, "invalid_request"},
		{"no options", http.MethodPost, "/preprocess", `{"data": "hi"}`, http.StatusBadRequest, "invalid_request"},
		{"bad image", http.MethodPost, "/preprocess-image", `{"data": "aGVsbG8=", "options": {}}`, http.StatusBadRequest, "invalid_request"},
		{"bad parameter", http.MethodPost, "/preprocess", `{"data": "hi", "options": {"padding": true, "padding_length": "long"}}`, http.StatusBadRequest, "invalid_request"},
		{"no mask filler", http.MethodPost, "/augment", `{"data": "a dog sat", "options": {"mlm_replacement": true}}`, http.StatusServiceUnavailable, "service_unavailable"},
		{"wrong method", http.MethodGet, "/preprocess", "", http.StatusMethodNotAllowed, "method_not_allowed"},
		{"unknown operation", http.MethodPost, "/api/v1/video/preprocess", `{"data": "x", "options": {}}`, http.StatusNotFound, "not_found"},
		{"unknown path", http.MethodGet, "/nowhere", "", http.StatusNotFound, "not_found"},
		{"unknown api path", http.MethodGet, "/api/v1/a/b/c", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.Handler(), tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}
			if got := decode[ErrorResponse](t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"payload", pipeline.InvalidPayload("bad"), http.StatusBadRequest, "invalid_request"},
		{"parameter in step", &pipeline.StepError{Step: "Blur", Err: pipeline.InvalidParameter("bad")}, http.StatusBadRequest, "invalid_request"},
		{"step failure", &pipeline.StepError{Step: "Blur", Err: errors.New("boom")}, http.StatusInternalServerError, "processing_failed"},
		{"cancelled step", &pipeline.StepError{Step: "Blur", Err: context.Canceled}, http.StatusInternalServerError, "processing_failed"},
		{"unavailable", &pipeline.StepError{Err: pipeline.ErrUnavailable}, http.StatusServiceUnavailable, "service_unavailable"},
		{"unknown operation", fmt.Errorf("%w: x", service.ErrUnknownOperation), http.StatusNotFound, "not_found"},
		{"other", errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Classify(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("Classify() = %d, %q, want %d, %q", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestHandler_RequestTooLarge(t *testing.T) {
	svc, _ := service.New(service.Config{Logger: logging.Nop()})
	cfg := DefaultConfig()
	cfg.MaxRequestBytes = 16
	srv := New(cfg, svc)

	rec := do(t, srv.Handler(), http.MethodPost, "/preprocess", processBody(strings.Repeat("a", 64), `{}`))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func upload(t *testing.T, h http.Handler, field, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Upload(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := upload(t, srv.Handler(), "file", "notes.txt", "some text")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if got := decode[UploadResponse](t, rec); got.Data != "some text" {
		t.Errorf("data = %q, want %q", got.Data, "some text")
	}

	tests := []struct {
		name, field, filename, content string
	}{
		{"wrong field", "document", "notes.txt", "x"},
		{"no file name", "file", "", "x"},
		{"binary", "file", "blob.bin", "\xff\xfe\xfd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := upload(t, srv.Handler(), tt.field, tt.filename, tt.content); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandler_Runs(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryRunStore())
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/text/preprocess", processBody("a b c", `{"padding": {"enabled": true, "length": 4}}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	id := rec.Header().Get(HeaderRequestID)

	list := decode[RunsResponse](t, do(t, h, http.MethodGet, "/api/v1/runs", ""))
	if list.Total != 1 || list.Runs[0].ID != id {
		t.Fatalf("runs = %+v, want the processed request", list)
	}

	run := decode[store.Run](t, do(t, h, http.MethodGet, "/api/v1/runs/"+id, ""))
	if diff := cmp.Diff([]string{"Padding"}, run.Steps); diff != "" {
		t.Errorf("run steps mismatch (-want +got):\n%s", diff)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/runs/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rec.Code)
	}

	stats := decode[map[string]any](t, do(t, h, http.MethodGet, "/api/v1/runs/stats", ""))
	if stats["total_runs"] != 1.0 {
		t.Errorf("total_runs = %v, want 1", stats["total_runs"])
	}
}

func TestHandler_RunsDisabled(t *testing.T) {
	srv := newTestServer(t, nil)
	if rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/runs", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandler_HealthAndCatalog(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
	report := decode[struct {
		Status string `json:"status"`
		Checks []struct {
			Name string `json:"name"`
		} `json:"checks"`
	}](t, rec)
	if report.Status != "healthy" || len(report.Checks) != 1 || report.Checks[0].Name != "http" {
		t.Errorf("report = %+v, want healthy with http check", report)
	}

	catalog := decode[PipelinesResponse](t, do(t, srv.Handler(), http.MethodGet, "/api/v1/pipelines", ""))
	if catalog.Total != 8 {
		t.Errorf("pipelines total = %d, want 8", catalog.Total)
	}

	if rec := do(t, srv.Handler(), http.MethodGet, "/api/v1", ""); rec.Code != http.StatusOK {
		t.Errorf("root status = %d, want 200", rec.Code)
	}
}

func TestHandler_CORS(t *testing.T) {
	svc, _ := service.New(service.Config{Logger: logging.Nop()})
	tests := []struct {
		name   string
		cors   config.CORSConfig
		origin string
		want   string
	}{
		{"wildcard", config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}}, "http://a.example", "*"},
		{"listed", config.CORSConfig{Enabled: true, AllowedOrigins: []string{"http://a.example"}}, "http://a.example", "http://a.example"},
		{"not listed", config.CORSConfig{Enabled: true, AllowedOrigins: []string{"http://a.example"}}, "http://b.example", ""},
		{"disabled", config.CORSConfig{}, "http://a.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.CORS = tt.cors
			srv := New(cfg, svc)

			req := httptest.NewRequest(http.MethodOptions, "/preprocess", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}
