// Package api exposes the media pipelines over HTTP and websocket.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/msto63/mediaprep/internal/pipeline"
	"github.com/msto63/mediaprep/internal/service"
	"github.com/msto63/mediaprep/internal/store"
	"github.com/msto63/mediaprep/pkg/core/config"
	"github.com/msto63/mediaprep/pkg/core/health"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

// legacyRoutes maps the original single-page endpoints to operations
var legacyRoutes = map[string]string{
	"/preprocess":       "text/preprocess",
	"/augment":          "text/augment",
	"/preprocess-image": "image/preprocess",
	"/augment-image":    "image/augment",
	"/preprocess-audio": "audio/preprocess",
	"/augment-audio":    "audio/augment",
	"/preprocess-3d":    "mesh/preprocess",
	"/augment-3d":       "mesh/augment",
}

// Response headers carrying run metadata
const (
	HeaderRequestID = "X-Request-ID"
	HeaderSeed      = "X-Seed"
)

// healthTimeout bounds a health report
const healthTimeout = 5 * time.Second

// ProcessRequest is the body of a processing endpoint. Text is accepted as
// an alias of Data.
type ProcessRequest struct {
	Data    json.RawMessage  `json:"data"`
	Text    json.RawMessage  `json:"text,omitempty"`
	Options pipeline.Options `json:"options"`
	Seed    *uint64          `json:"seed,omitempty"`
}

// UploadResponse is the body returned by /upload
type UploadResponse struct {
	Data string `json:"data"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// RunsResponse represents a page of run history
type RunsResponse struct {
	Runs  []*store.Run `json:"runs"`
	Total int          `json:"total"`
}

// PipelinesResponse represents the step catalog
type PipelinesResponse struct {
	Pipelines []service.PipelineInfo `json:"pipelines"`
	Total     int                    `json:"total"`
}

// Handler handles HTTP requests
type Handler struct {
	svc       *service.Service
	health    *health.Registry
	logger    *logging.Logger
	cors      config.CORSConfig
	maxBytes  int64
	version   string
	startTime time.Time
}

// HandlerConfig holds handler settings
type HandlerConfig struct {
	CORS            config.CORSConfig
	MaxRequestBytes int64
	Version         string
}

// NewHandler creates a new HTTP handler
func NewHandler(cfg HandlerConfig, svc *service.Service, registry *health.Registry) *Handler {
	maxBytes := cfg.MaxRequestBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	return &Handler{
		svc:       svc,
		health:    registry,
		logger:    logging.New("api"),
		cors:      cfg.CORS,
		maxBytes:  maxBytes,
		version:   cfg.Version,
		startTime: time.Now(),
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.setCORS(w, r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if op, ok := legacyRoutes[strings.TrimSuffix(r.URL.Path, "/")]; ok {
		h.handleProcess(w, r, op)
		return
	}
	if r.URL.Path == "/upload" || r.URL.Path == "/upload/" {
		h.handleUpload(w, r)
		return
	}

	if r.URL.Path != "/api/v1" && !strings.HasPrefix(r.URL.Path, "/api/v1/") {
		h.writeError(w, http.StatusNotFound, "not_found", "Endpoint not found", "")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1"), "/")

	switch {
	case path == "":
		h.handleRoot(w, r)
	case path == "health":
		h.handleHealth(w, r)
	case path == "pipelines":
		h.handlePipelines(w, r)
	case path == "runs":
		h.handleRuns(w, r)
	case path == "runs/stats":
		h.handleRunStats(w, r)
	case strings.HasPrefix(path, "runs/"):
		h.handleRun(w, r, strings.TrimPrefix(path, "runs/"))
	case strings.Count(path, "/") == 1:
		op, ok := service.Operation(path)
		if !ok {
			h.writeError(w, http.StatusNotFound, "not_found", "Unknown operation", path)
			return
		}
		h.handleProcess(w, r, op)
	default:
		h.writeError(w, http.StatusNotFound, "not_found", "Endpoint not found", "")
	}
}

// setCORS adds CORS headers for allowed origins
func (h *Handler) setCORS(w http.ResponseWriter, r *http.Request) {
	if !h.cors.Enabled {
		return
	}

	origin := r.Header.Get("Origin")
	allowed := ""
	for _, o := range h.cors.AllowedOrigins {
		if o == "*" {
			allowed = "*"
			break
		}
		if origin != "" && strings.EqualFold(o, origin) {
			allowed = origin
			w.Header().Add("Vary", "Origin")
			break
		}
	}
	if allowed == "" {
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", allowed)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", HeaderRequestID+", "+HeaderSeed)
}

// handleRoot lists the endpoints
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "mediaprep API",
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
		"endpoints": map[string][]string{
			"core": {
				"GET  /api/v1/health",
				"GET  /api/v1/pipelines",
				"GET  /api/v1/runs",
				"GET  /api/v1/runs/stats",
				"GET  /api/v1/runs/{id}",
				"GET  /api/v1/ws",
			},
			"processing": {
				"POST /api/v1/{modality}/{kind}",
				"POST /upload",
				"POST /preprocess",
				"POST /augment",
				"POST /preprocess-image",
				"POST /augment-image",
				"POST /preprocess-audio",
				"POST /augment-audio",
				"POST /preprocess-3d",
				"POST /augment-3d",
			},
		},
		"operations": service.Operations(),
	}
	h.writeJSON(w, http.StatusOK, info)
}

// handleHealth reports the health registry
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}

	report := h.health.CheckWithTimeout(r.Context(), healthTimeout)
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, report)
}

// handlePipelines returns the step catalog
func (h *Handler) handlePipelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}

	catalog := h.svc.Catalog()
	h.writeJSON(w, http.StatusOK, PipelinesResponse{Pipelines: catalog, Total: len(catalog)})
}

// handleProcess runs one operation
func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request, op string) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST", "")
		return
	}

	var req ProcessRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.writeReadError(w, err)
		return
	}

	data := req.Data
	if len(data) == 0 {
		data = req.Text
	}
	if len(data) == 0 || string(data) == "null" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "No data provided", "")
		return
	}
	resp, err := h.svc.Process(r.Context(), &service.Request{
		Operation: op,
		Data:      data,
		Options:   req.Options,
		Seed:      req.Seed,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set(HeaderRequestID, resp.RequestID)
	w.Header().Set(HeaderSeed, strconv.FormatUint(resp.Seed, 10))
	h.writeJSON(w, http.StatusOK, resp.Result)
}

// handleUpload returns the text content of an uploaded file
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST", "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large", "")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "No file part", "")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "No selected file", "")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read file", err.Error())
		return
	}
	if !utf8.Valid(content) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "File is not UTF-8 text", header.Filename)
		return
	}

	h.writeJSON(w, http.StatusOK, UploadResponse{Data: string(content)})
}

// handleRuns lists run history
func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}
	runs, ok := h.runStore(w)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, err := runs.ListRuns(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list runs", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, RunsResponse{Runs: list, Total: len(list)})
}

// handleRunStats returns run statistics
func (h *Handler) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}
	runs, ok := h.runStore(w)
	if !ok {
		return
	}

	stats, err := runs.Statistics(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read statistics", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// handleRun returns one run
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}
	runs, ok := h.runStore(w)
	if !ok {
		return
	}

	run, err := runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Run not found", id)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get run", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) runStore(w http.ResponseWriter) (store.RunStore, bool) {
	runs := h.svc.Store()
	if runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "service_unavailable", "Run history is disabled", "")
		return nil, false
	}
	return runs, true
}

// Classify maps an error to an HTTP status and error code
func Classify(err error) (int, string) {
	var stepErr *pipeline.StepError
	switch {
	case errors.Is(err, service.ErrUnknownOperation):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pipeline.ErrInvalidPayload), errors.Is(err, pipeline.ErrInvalidParameter):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, pipeline.ErrUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.As(err, &stepErr):
		return http.StatusInternalServerError, "processing_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	message := "Processing failed"
	switch status {
	case http.StatusBadRequest:
		message = "Invalid request"
	case http.StatusNotFound:
		message = "Unknown operation"
	case http.StatusServiceUnavailable:
		message = "Dependency unavailable"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "code", code, "error", err)
	}
	h.writeError(w, status, code, message, err.Error())
}

func (h *Handler) writeReadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large",
			fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
		return
	}
	h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
}

// Helper methods

var errEmptyBody = errors.New("empty request body")

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errEmptyBody
	}
	return json.Unmarshal(body, v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	resp := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}
	h.writeJSON(w, status, resp)
}
