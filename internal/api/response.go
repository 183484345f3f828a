package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ttlkv/internal/store"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type valueResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type detailsResponse struct {
	Key          string `json:"key"`
	Value        string `json:"value"`
	TTL          *int64 `json:"ttl"`
	NoExpiration bool   `json:"no_expiration"`
}

type ttlResponse struct {
	Key          string `json:"key"`
	TTL          int64  `json:"ttl"`
	NoExpiration bool   `json:"no_expiration"`
}

func toDetailsResponse(d store.Details) detailsResponse {
	resp := detailsResponse{Key: d.Key, Value: d.Value, NoExpiration: d.NoExpiration()}
	if secs, ok := d.TTL.Get(); ok {
		resp.TTL = &secs
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// writeStoreError maps store errors onto HTTP statuses.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "key not found or expired")
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		h.logger.Errorw("Backend unavailable", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "storage backend unavailable")
	default:
		h.logger.Errorw("Store operation failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
