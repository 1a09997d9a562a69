package recovery

import "context"

type clientIPContextKey struct{}
type authRecordContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for address-level intruder marks and audit logging.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithAuthRecord attaches a signed authentication record (usually read from a cookie) to
// ctx. When it parses and names the identified user, PREVIOUS_AUTH is satisfied.
func WithAuthRecord(ctx context.Context, record string) context.Context {
	return context.WithValue(ctx, authRecordContextKey{}, record)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit metadata.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// ClientIPFromContext returns the address set by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// AuthRecordFromContext returns the record set by WithAuthRecord, or "".
func AuthRecordFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	record, _ := ctx.Value(authRecordContextKey{}).(string)
	return record
}

func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}
