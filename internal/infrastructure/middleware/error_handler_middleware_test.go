package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tilecast/internal/core/domain"
	"tilecast/pkg/circuitbreaker"
	apperrors "tilecast/pkg/errors"
)

func serveError(t *testing.T, err error) (int, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/test", func(c *gin.Context) {
		_ = c.Error(err)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestErrorHandler_MapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{"app error", apperrors.NewInvalidInputError("bad slot"), http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"session not found", fmt.Errorf("get: %w", domain.ErrSessionNotFound), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"unknown slot", domain.ErrUnknownSlot, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"breaker open", fmt.Errorf("%w: state open", circuitbreaker.ErrOpen), http.StatusServiceUnavailable, apperrors.ErrCodeServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := serveError(t, tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, string(tc.code), body["error"])
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/panic", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type recordedRequest struct {
	method, route string
	status        int
}

type httpMetricsRecorder struct {
	requests []recordedRequest
}

func (r *httpMetricsRecorder) RecordHTTPRequest(method, route string, status int, _ time.Duration) {
	r.requests = append(r.requests, recordedRequest{method, route, status})
}

func TestRequestContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	metrics := &httpMetricsRecorder{}
	router := gin.New()
	router.Use(RequestContextMiddleware(nil, metrics))
	router.GET("/items/:id", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/items/7", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-1", w.Body.String())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/items/8", nil)
	router.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	require.Len(t, metrics.requests, 2)
	assert.Equal(t, recordedRequest{"GET", "/items/:id", http.StatusOK}, metrics.requests[0])
}
