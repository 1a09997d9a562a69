package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	recovery "github.com/pwm-project/pwm-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP_XForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	assert.Equal(t, "1.2.3.4", ClientIP(req))
}

func TestClientIP_XRealIP_Fallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-Ip", "9.10.11.12")
	assert.Equal(t, "9.10.11.12", ClientIP(req))
}

func TestClientIP_RemoteAddr_Fallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:54321"
	assert.Equal(t, "192.168.1.1", ClientIP(req))
}

func TestClientIP_XForwardedFor_TakesPrecedenceOverXRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.1.1.1")
	req.Header.Set("X-Real-Ip", "2.2.2.2")
	assert.Equal(t, "1.1.1.1", ClientIP(req))
}

type captured struct {
	ip, userAgent, record string
}

func captureHandler(out *captured) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out.ip = recovery.ClientIPFromContext(r.Context())
		out.userAgent = recovery.UserAgentFromContext(r.Context())
		out.record = recovery.AuthRecordFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequestContextCopiesCallerDetails(t *testing.T) {
	var got captured
	h := RequestContext("")(captureHandler(&got))

	req := httptest.NewRequest(http.MethodPost, "/recovery/identify", nil)
	req.RemoteAddr = "10.0.0.7:4000"
	req.Header.Set("User-Agent", "recovery-test/1.0")
	req.AddCookie(&http.Cookie{Name: DefaultAuthRecordCookie, Value: "cookie-record"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "10.0.0.7", got.ip)
	assert.Equal(t, "recovery-test/1.0", got.userAgent)
	assert.Equal(t, "cookie-record", got.record)
}

func TestRequestContextPrefersBearerRecord(t *testing.T) {
	var got captured
	h := RequestContext("custom")(captureHandler(&got))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer header-record")
	req.AddCookie(&http.Cookie{Name: "custom", Value: "cookie-record"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "header-record", got.record)
}

func TestRequestContextWithoutRecord(t *testing.T) {
	var got captured
	h := RequestContext("")(captureHandler(&got))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Empty(t, got.record)
}
