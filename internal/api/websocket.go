package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/msto63/mediaprep/internal/pipeline"
	"github.com/msto63/mediaprep/internal/service"
	"github.com/msto63/mediaprep/pkg/core/logging"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second

	// wsMaxInFlight bounds concurrent runs per connection
	wsMaxInFlight = 1
)

// WebSocketHandler streams step progress of pipeline runs
type WebSocketHandler struct {
	svc      *service.Service
	upgrader websocket.Upgrader
	maxBytes int64
	logger   *logging.Logger
}

// NewWebSocketHandler creates a new WebSocket handler. checkOrigin may be
// nil to accept every origin.
func NewWebSocketHandler(svc *service.Service, maxBytes int64, checkOrigin func(*http.Request) bool) *WebSocketHandler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WebSocketHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		maxBytes: maxBytes,
		logger:   logging.New("api-websocket"),
	}
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string          `json:"type"` // "process", "ping"
	Payload json.RawMessage `json:"payload"`
}

// WSResponse represents a WebSocket response
type WSResponse struct {
	Type    string      `json:"type"` // "step", "result", "error", "pong"
	Payload interface{} `json:"payload"`
}

// WSStepPayload reports one completed step. Snapshots are not streamed.
type WSStepPayload struct {
	Pipeline   string `json:"pipeline"`
	Step       string `json:"step"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	DurationMS int64  `json:"duration_ms"`
}

// WSResultPayload carries the outcome of a run
type WSResultPayload struct {
	RequestID  string         `json:"request_id"`
	Operation  string         `json:"operation"`
	Seed       uint64         `json:"seed"`
	DurationMS int64          `json:"duration_ms"`
	Result     service.Result `json:"result"`
}

// WSErrorPayload represents an error payload
type WSErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// conn serialises writes to a websocket connection
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(resp WSResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteJSON(resp)
}

// ServeHTTP handles WebSocket upgrade and connections
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	h.handleConnection(r.Context(), &conn{ws: ws})
}

func (h *WebSocketHandler) handleConnection(parent context.Context, c *conn) {
	defer c.ws.Close()

	h.logger.Info("WebSocket connection established", "remote", c.ws.RemoteAddr().String())

	var wg sync.WaitGroup
	inFlight := semaphore.NewWeighted(wsMaxInFlight)
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer func() {
		cancel()
		wg.Wait()
	}()

	if h.maxBytes > 0 {
		c.ws.SetReadLimit(h.maxBytes)
	}
	c.ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error", "error", err)
			} else {
				h.logger.Info("WebSocket connection closed")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch msg.Type {
		case "ping":
			h.sendResponse(c, WSResponse{Type: "pong"})

		case "process":
			var req service.Request
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				h.sendError(c, "invalid_request", "Invalid process payload")
				continue
			}

			if !inFlight.TryAcquire(1) {
				h.sendError(c, "busy", "A run is already in progress on this connection")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.handleProcess(ctx, c, &req, func() { inFlight.Release(1) })
			}()

		default:
			h.sendError(c, "unknown_type", "Unknown message type: "+msg.Type)
		}
	}
}

// handleProcess runs a request and streams its progress. done is called
// once the run has finished, before the final message is sent.
func (h *WebSocketHandler) handleProcess(ctx context.Context, c *conn, req *service.Request, done func()) {
	req.Observer = func(ev pipeline.Event) {
		h.sendResponse(c, WSResponse{
			Type: "step",
			Payload: WSStepPayload{
				Pipeline:   ev.Pipeline,
				Step:       ev.Step,
				Index:      ev.Index,
				Total:      ev.Total,
				DurationMS: ev.Duration.Milliseconds(),
			},
		})
	}

	resp, err := h.svc.Process(ctx, req)
	done()
	if err != nil {
		_, code := Classify(err)
		h.sendError(c, code, err.Error())
		return
	}

	h.sendResponse(c, WSResponse{
		Type: "result",
		Payload: WSResultPayload{
			RequestID:  resp.RequestID,
			Operation:  resp.Operation,
			Seed:       resp.Seed,
			DurationMS: resp.Duration.Milliseconds(),
			Result:     resp.Result,
		},
	})
}

func (h *WebSocketHandler) sendResponse(c *conn, resp WSResponse) {
	if err := c.send(resp); err != nil {
		h.logger.Error("WebSocket send error", "error", err)
	}
}

func (h *WebSocketHandler) sendError(c *conn, code, message string) {
	h.sendResponse(c, WSResponse{
		Type: "error",
		Payload: WSErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}
