package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/thread"
)

// Thread validation constants.
const (
	MaxTitleLength     = 200
	MaxAgentNameLength = 100
	DefaultListLimit   = 100
	MaxListLimit       = 1000
	MaxListOffset      = 100000 // Reasonable upper bound for pagination offset
)

// AgentDirectory lists the registered agent names. *agent.Registry
// satisfies it.
type AgentDirectory interface {
	Names() []string
}

// ThreadHandler handles thread management endpoints.
type ThreadHandler struct {
	store  *thread.Store
	agents AgentDirectory
	logger log.Logger
}

// NewThreadHandler creates a new thread handler.
func NewThreadHandler(store *thread.Store, agents AgentDirectory, logger log.Logger) *ThreadHandler {
	return &ThreadHandler{store: store, agents: agents, logger: logger}
}

// RegisterRoutes registers thread routes on the given mux.
func (h *ThreadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", h.listAgents)
	mux.HandleFunc("GET /api/threads", h.list)
	mux.HandleFunc("POST /api/threads", h.create)
	mux.HandleFunc("GET /api/threads/{id}", h.get)
	mux.HandleFunc("DELETE /api/threads/{id}", h.delete)
	mux.HandleFunc("GET /api/threads/{id}/messages", h.history)
}

// listAgents returns the names of all registered agents.
func (h *ThreadHandler) listAgents(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if h.agents != nil {
		names = h.agents.Names()
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"agents": names})
}

// list returns threads ordered by recency with pagination support.
// Query parameters:
//   - limit: maximum number of threads to return (default: 100, max: 1000)
//   - offset: number of threads to skip (default: 0)
func (h *ThreadHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	// #nosec G115 -- limit and offset are bounded by MaxListLimit (1000) and MaxListOffset (100000)
	threads, err := h.store.ListThreads(r.Context(), int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("failed to list threads", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to list threads")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"threads": threads,
		"total":   len(threads),
		"limit":   limit,
		"offset":  offset,
	})
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// CreateThreadRequest is the request body for creating a thread.
type CreateThreadRequest struct {
	Title string `json:"title"`
	Agent string `json:"agent"`
}

// create creates a new thread.
func (h *ThreadHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if len(req.Title) > MaxTitleLength {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "title too long (max 200 characters)")
		return
	}
	if len(req.Agent) > MaxAgentNameLength {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "agent too long (max 100 characters)")
		return
	}
	if req.Title == "" {
		req.Title = "New Thread"
	}

	t, err := h.store.CreateThread(r.Context(), req.Title, req.Agent)
	if err != nil {
		h.logger.Error("failed to create thread", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to create thread")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, t)
}

// get returns a single thread by ID.
func (h *ThreadHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.threadID(w, r)
	if !ok {
		return
	}

	t, err := h.store.GetThread(r.Context(), id)
	if errors.Is(err, thread.ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "not_found", "thread not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get thread", "error", err, "thread_id", id)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to get thread")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, t)
}

// delete removes a thread and all its messages.
func (h *ThreadHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.threadID(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteThread(r.Context(), id)
	if errors.Is(err, thread.ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "not_found", "thread not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete thread", "error", err, "thread_id", id)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to delete thread")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// history returns the persisted messages of a thread in order.
func (h *ThreadHandler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.threadID(w, r)
	if !ok {
		return
	}

	// Existence check so an unknown thread is a 404, not an empty list.
	if _, err := h.store.GetThread(r.Context(), id); err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		h.logger.Error("failed to get thread", "error", err, "thread_id", id)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to load messages")
		return
	}

	msgs, err := h.store.History(r.Context(), id.String())
	if err != nil {
		h.logger.Error("failed to load history", "error", err, "thread_id", id)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to load messages")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"messages": msgs,
		"total":    len(msgs),
	})
}

// threadID parses the {id} path value, writing a 400 on failure.
func (h *ThreadHandler) threadID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "invalid thread id")
		return uuid.UUID{}, false
	}
	return id, true
}
