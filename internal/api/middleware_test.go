package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttlkv/internal/logs"
	"ttlkv/internal/metrics"
)

func newTestMiddleware(t *testing.T) (*Middleware, *logs.Buffer) {
	t.Helper()
	buf := logs.NewBuffer(20, logs.DEBUG)
	httpMetrics, err := metrics.SetupHTTP(metrics.NewRegistry(), "ttlkv-test")
	require.NoError(t, err)
	return NewMiddleware(logs.NewBufferedNop(buf), httpMetrics), buf
}

func TestRecoverer(t *testing.T) {
	m, buf := newTestMiddleware(t)

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom!")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	// Must not crash the test
	m.Recoverer(panicHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "internal server error")

	entries := buf.GetLast(1)
	require.Len(t, entries, 1)
	assert.Equal(t, logs.ERROR, entries[0].Level)
	assert.Equal(t, "panic recovered", entries[0].Message)
	assert.Equal(t, "boom!", entries[0].Fields["panic"])
}

func TestRequestID(t *testing.T) {
	m, _ := newTestMiddleware(t)

	var seen string
	h := m.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetReqID(r.Context())
	}))

	t.Run("Generated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rr.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("Propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "abc-123")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", rr.Header().Get(middleware.RequestIDHeader))
	})
}

func TestRequestLogger(t *testing.T) {
	m, buf := newTestMiddleware(t)

	h := m.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/get/x", nil))

	entries := buf.GetLast(1)
	require.Len(t, entries, 1)
	assert.Equal(t, "HTTP request", entries[0].Message)
	assert.EqualValues(t, http.StatusTeapot, entries[0].Fields["status"])
	assert.EqualValues(t, len("short and stout"), entries[0].Fields["size"])
	assert.Equal(t, "/get/x", entries[0].Fields["path"])
}

func TestRateLimit(t *testing.T) {
	m, _ := newTestMiddleware(t)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("BurstThenReject", func(t *testing.T) {
		// 60 rpm gives a burst of 10
		h := m.RateLimit(60)(ok)

		codes := map[int]int{}
		for i := 0; i < 11; i++ {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			codes[rr.Code]++
		}
		assert.Equal(t, 10, codes[http.StatusOK])
		assert.Equal(t, 1, codes[http.StatusTooManyRequests])
	})

	t.Run("Disabled", func(t *testing.T) {
		h := m.RateLimit(0)(ok)
		for i := 0; i < 100; i++ {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			require.Equal(t, http.StatusOK, rr.Code)
		}
	})
}

func TestCORS(t *testing.T) {
	m, _ := newTestMiddleware(t)

	h := m.CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/keys", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
