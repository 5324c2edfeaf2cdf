package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestHeadersMiddlewareSetsSecurityHeaders(t *testing.T) {
	handler := Headers{Enable: true, EnableHSTS: true, HSTSIncludeSubdomains: true}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "https://example.com", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "cross-origin", rr.Header().Get("Cross-Origin-Resource-Policy"))
	require.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com", nil))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"))
}

func TestHeadersMiddlewareDisabled(t *testing.T) {
	handler := Headers{Enable: false, EnableHSTS: true}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com", nil))
	require.Empty(t, rr.Header().Get("X-Content-Type-Options"))
}

func TestCORSAllowlist(t *testing.T) {
	handler := CORS([]string{"https://shop.example"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "http://localhost/api/v1/cart", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Cart-Session")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, "https://shop.example", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "http://localhost/api/v1/cart", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
