package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"github.com/google/uuid"

	"github.com/parlor-ai/parlor/internal/agent"
	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/forward"
	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/thread"
)

// Forwarder processes one user turn as a stream of chunks.
// *forward.Forwarder satisfies it.
type Forwarder interface {
	Forward(ctx context.Context, req forward.Request) iter.Seq2[forward.Chunk, error]
}

// ForwardHandler handles the turn forwarding endpoint.
//
// Endpoint:
//   - POST /api/threads/{id}/messages - forward a user turn (SSE stream)
type ForwardHandler struct {
	forwarder Forwarder
	store     *thread.Store
	logger    log.Logger
}

// NewForwardHandler creates a new forward handler. store is used to
// resolve the thread's default agent; it may be nil, in which case the
// request must name an agent explicitly.
func NewForwardHandler(forwarder Forwarder, store *thread.Store, logger log.Logger) *ForwardHandler {
	return &ForwardHandler{forwarder: forwarder, store: store, logger: logger}
}

// RegisterRoutes registers forwarding routes on the given mux.
func (h *ForwardHandler) RegisterRoutes(mux *http.ServeMux) {
	if h.forwarder == nil {
		if h.logger != nil {
			h.logger.Warn("forwarder is nil, forwarding endpoint not registered")
		}
		return
	}
	mux.HandleFunc("POST /api/threads/{id}/messages", h.handleForward)
}

// ForwardRequest is the request body for forwarding a turn.
// Either Text or Content must be set; Text is shorthand for a single
// text unit. Agent overrides the thread's default agent.
type ForwardRequest struct {
	Agent   string        `json:"agent,omitempty"`
	Text    string        `json:"text,omitempty"`
	Content content.Units `json:"content,omitempty"`
}

// SSEChunkData is the data for "chunk" events: one streamed content
// unit in its tagged wire form.
type SSEChunkData struct {
	Unit json.RawMessage `json:"unit"`
}

// SSEMessageData is the data for "message" events: one generated
// message whose content is final.
type SSEMessageData struct {
	Message *content.Message `json:"message"`
}

// SSEDoneData is the data for "done" events.
type SSEDoneData struct {
	ThreadID string             `json:"thread_id"`
	Messages []*content.Message `json:"messages"`
}

// SSEErrorData is the data for "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleForward streams one forwarded turn as Server-Sent Events.
//
// Event types:
//   - chunk:   one content unit {"unit": {...}}
//   - message: a completed generated message {"message": {...}}
//   - done:    final generated messages {"thread_id": "...", "messages": [...]}
//   - error:   error occurred {"code": "...", "message": "..."}
//
// A generated message is reported complete once the turn has moved on
// to a later message; the last message of the turn arrives only in
// the done event.
func (h *ForwardHandler) handleForward(w http.ResponseWriter, r *http.Request) {
	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	threadID := r.PathValue("id")

	var req ForwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	input := req.Content
	if len(input) == 0 && req.Text != "" {
		input = content.Units{&content.Text{ID: content.NewID(), Text: req.Text}}
	}
	if len(input) == 0 {
		h.writeSSEError(w, flusher, "MISSING_CONTENT", "text or content is required")
		return
	}

	agentName, err := h.resolveAgent(r.Context(), threadID, req.Agent)
	if err != nil {
		h.writeSSEError(w, flusher, "THREAD_NOT_FOUND", err.Error())
		return
	}
	if agentName == "" {
		h.writeSSEError(w, flusher, "MISSING_AGENT", "agent is required")
		return
	}

	ctx := r.Context()
	h.logger.Info("SSE stream started", "thread_id", threadID, "agent", agentName)

	var final []*content.Message
	chunks, completed := 0, 0
	for chunk, err := range h.forwarder.Forward(ctx, forward.Request{
		ThreadID: threadID,
		Agent:    agentName,
		Input:    input,
	}) {
		if err != nil {
			h.logger.Error("forward failed", "error", err, "thread_id", threadID)
			h.writeSSEError(w, flusher, errorCode(err), err.Error())
			return
		}
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "thread_id", threadID)
			return
		}

		final = chunk.Messages
		chunks++
		h.writeSSEChunk(w, flusher, chunk.Unit)
		for completed < len(chunk.Messages)-1 {
			h.writeSSEMessage(w, flusher, chunk.Messages[completed])
			completed++
		}
	}

	if ctx.Err() != nil {
		h.logger.Info("client disconnected", "thread_id", threadID)
		return
	}

	h.writeSSEDone(w, flusher, threadID, final)
	h.logger.Info("SSE stream completed",
		"thread_id", threadID,
		"chunks", chunks,
		"messages", len(final))
}

// resolveAgent picks the agent for this turn: the explicit override if
// given, otherwise the thread's configured agent.
func (h *ForwardHandler) resolveAgent(ctx context.Context, threadID, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if h.store == nil {
		return "", nil
	}
	id, err := uuid.Parse(threadID)
	if err != nil {
		return "", fmt.Errorf("invalid thread id %q", threadID)
	}
	t, err := h.store.GetThread(ctx, id)
	if errors.Is(err, thread.ErrNotFound) {
		return "", fmt.Errorf("thread %s not found", threadID)
	}
	if err != nil {
		return "", err
	}
	return t.Agent, nil
}

// errorCode maps a forward error to an SSE error code.
func errorCode(err error) string {
	if errors.Is(err, agent.ErrNotFound) {
		return "AGENT_NOT_FOUND"
	}
	if errors.Is(err, thread.ErrNotFound) {
		return "THREAD_NOT_FOUND"
	}
	return "STREAM_ERROR"
}

// writeSSEChunk writes a chunk event to the SSE stream.
func (h *ForwardHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, unit content.Unit) {
	raw, err := content.MarshalUnit(unit)
	if err != nil {
		h.logger.Error("failed to encode content unit", "error", err)
		return
	}
	data, _ := json.Marshal(SSEChunkData{Unit: raw})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEMessage writes a message event to the SSE stream.
func (h *ForwardHandler) writeSSEMessage(w http.ResponseWriter, flusher http.Flusher, msg *content.Message) {
	data, err := json.Marshal(SSEMessageData{Message: msg})
	if err != nil {
		h.logger.Error("failed to encode message", "error", err)
		return
	}
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEDone writes a done event to the SSE stream.
func (h *ForwardHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, threadID string, msgs []*content.Message) {
	if msgs == nil {
		msgs = []*content.Message{}
	}
	data, _ := json.Marshal(SSEDoneData{ThreadID: threadID, Messages: msgs})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEError writes an error event to the SSE stream.
func (h *ForwardHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}
