package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ttlkv/internal/health"
	"ttlkv/internal/logs"
	"ttlkv/internal/store"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 1000
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	analyzer *health.Analyzer
	logs     *logs.Buffer
	logger   *zap.SugaredLogger
}

// NewHandler creates a new API handler.
func NewHandler(
	st *store.Store,
	analyzer *health.Analyzer,
	buf *logs.Buffer,
	logger *zap.SugaredLogger,
) *Handler {
	return &Handler{
		store:    st,
		analyzer: analyzer,
		logs:     buf,
		logger:   logger,
	}
}

/* ---------------- POST /set ---------------- */

type setRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	// TTL in seconds. Absent or 0 stores a key that never expires.
	TTL *int64 `json:"ttl,omitempty"`
}

func (h *Handler) SetKey(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json body")
		return
	}

	var ttl time.Duration
	if req.TTL != nil {
		if *req.TTL < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "ttl must not be negative")
			return
		}
		d, err := store.TTLFromSeconds(*req.TTL)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		ttl = d
	}

	if err := h.store.Set(r.Context(), req.Key, req.Value, ttl); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Key stored successfully"})
}

/* ---------------- GET /get/{key} ---------------- */

func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := h.store.Get(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Key: key, Value: value})
}

/* ---------------- GET /get/details/{key} ---------------- */

func (h *Handler) GetDetails(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Details(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailsResponse(d))
}

/* ---------------- DELETE /delete/{key} ---------------- */

func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

/* ---------------- GET /exists/{key} ---------------- */

func (h *Handler) KeyExists(w http.ResponseWriter, r *http.Request) {
	exists, err := h.store.Exists(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

/* ---------------- GET /keys ---------------- */

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	resp := make([]detailsResponse, 0, len(entries))
	for _, d := range entries {
		resp = append(resp, toDetailsResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

/* ---------------- PATCH /expire/{key}/{ttl} ---------------- */

func (h *Handler) ExpireKey(w http.ResponseWriter, r *http.Request) {
	secs, err := strconv.ParseInt(chi.URLParam(r, "ttl"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "ttl must be an integer number of seconds")
		return
	}

	ttl, err := store.TTLFromSeconds(secs)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if err := h.store.Expire(r.Context(), chi.URLParam(r, "key"), ttl); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

/* ---------------- GET /ttl/{key} ---------------- */

func (h *Handler) GetTTL(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	ttl, err := h.store.TTL(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	resp := ttlResponse{Key: key, TTL: -1, NoExpiration: true}
	if secs, ok := ttl.Get(); ok {
		resp.TTL = secs
		resp.NoExpiration = false
	}
	writeJSON(w, http.StatusOK, resp)
}

/* ---------------- DELETE /flushall ---------------- */

func (h *Handler) FlushAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.FlushAll(r.Context()); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.logger.Infow("All keys flushed", "remote_addr", r.RemoteAddr)
	writeJSON(w, http.StatusOK, messageResponse{Message: "All keys have been permanently deleted"})
}

/* ---------------- GET /health ---------------- */

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.analyzer.Analyze())
}

/* ---------------- GET /healthz ---------------- */

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if !h.analyzer.Ready() {
		writeError(w, http.StatusServiceUnavailable, "BACKEND_UNHEALTHY", "storage backend unhealthy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

/* ---------------- GET /admin/logs ---------------- */

func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "n must be a non-negative integer")
			return
		}
		n = min(parsed, maxLogLimit)
	}

	entries := []logs.Entry{}
	if h.logs != nil {
		entries = h.logs.GetLast(n)
	}
	writeJSON(w, http.StatusOK, entries)
}
