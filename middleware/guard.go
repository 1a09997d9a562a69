package middleware

import (
	"net"
	"net/http"
	"strings"

	recovery "github.com/pwm-project/pwm-sub000"
)

// DefaultAuthRecordCookie is the cookie RequestContext reads the signed authentication
// record from when no bearer token is present.
const DefaultAuthRecordCookie = "recovery_auth"

// RequestContext attaches the caller address, the User-Agent and any signed authentication
// record to the request context so the engine can mark intruders per address and
// satisfy PREVIOUS_AUTH. An empty cookieName selects DefaultAuthRecordCookie.
func RequestContext(cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultAuthRecordCookie
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := recovery.WithClientIP(r.Context(), ClientIP(r))
			if ua := r.UserAgent(); ua != "" {
				ctx = recovery.WithUserAgent(ctx, ua)
			}
			if record, ok := authRecord(r, cookieName); ok {
				ctx = recovery.WithAuthRecord(ctx, record)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-Ip, then the host part of
// RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func authRecord(r *http.Request, cookieName string) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
