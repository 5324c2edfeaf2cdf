package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-fotoko/internal/common"
)

func TestBodyLimitAllowsWithinLimit(t *testing.T) {
	var captured string
	handler := BodyLimit{Max: 10}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured = string(data)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payload", strings.NewReader("hello")))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "hello", captured)
}

func TestBodyLimitRejectsDeclaredLength(t *testing.T) {
	handler := BodyLimit{Max: 5}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payload", strings.NewReader("excessive")))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Contains(t, rr.Body.String(), "PAYLOAD_TOO_LARGE")
}

func TestBodyLimitCapsStreamingBody(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}
	handler := BodyLimit{Max: 8}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := common.DecodeJSON(r, &p); err != nil {
			common.WriteAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/payload", strings.NewReader(`{"email":"someone@example.com"}`))
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestBodyLimitRouteOverride(t *testing.T) {
	raised := func(r *http.Request) int64 {
		if strings.HasSuffix(r.URL.Path, "/photos") {
			return 16
		}
		return 0
	}
	handler := BodyLimit{Max: 4, For: raised}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/admin/events/1/photos", strings.NewReader("ten bytes!")))
	require.Equal(t, http.StatusOK, rr.Code)

	// The raised cap still applies, declared or streamed.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/admin/events/1/photos", strings.NewReader(strings.Repeat("x", 17))))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Contains(t, rr.Body.String(), "PAYLOAD_TOO_LARGE")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/events/1/photos", strings.NewReader(strings.Repeat("x", 17)))
	req.ContentLength = -1
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader("ten bytes!")))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
