package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/pwm-project/pwm-sub000/session"
)

const (
	auditEventIdentify     = "recovery_identify"
	auditEventMethodPassed = "recovery_method_passed"
	auditEventMethodFailed = "recovery_method_failed"
	auditEventTokenIssued  = "recovery_token_issued"
	auditEventVerified     = "recovery_verified"
	auditEventAction       = "recovery_action"
	auditEventFatal        = "recovery_fatal"
	auditEventReset        = "recovery_reset"
	auditEventLocaleChange = "recovery_locale_change"
)

// AuditErrorCode defines a public type used by recovery APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrUserInput     AuditErrorCode = "user_input"
	auditErrNotFound      AuditErrorCode = "identity_not_found"
	auditErrConfiguration AuditErrorCode = "configuration"
	auditErrLocked        AuditErrorCode = "locked"
	auditErrDirectory     AuditErrorCode = "directory_unavailable"
	auditErrToken         AuditErrorCode = "token_unavailable"
	auditErrNotification  AuditErrorCode = "notification_failed"
	auditErrUnavailable   AuditErrorCode = "backend_unavailable"
	auditErrInternal      AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	s *session.Session,
	method session.Method,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		IP:        ClientIPFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if s != nil {
		event.SessionID = s.ID
		event.ProfileID = s.Flags.ProfileID
		if s.IdentifiedUser != nil {
			event.UserDN = s.IdentifiedUser.UserDN
			event.GUID = s.IdentifiedUser.GUID
			if event.ProfileID == "" {
				event.ProfileID = s.IdentifiedUser.ProfileID
			}
		}
	}
	if method != session.MethodNone {
		event.Method = method.String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUserInput):
		return auditErrUserInput
	case errors.Is(err, ErrIdentityNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrProfileNotFound):
		return auditErrConfiguration
	case errors.Is(err, ErrLocked):
		return auditErrLocked
	case errors.Is(err, ErrDirectoryUnavailable):
		return auditErrDirectory
	case errors.Is(err, ErrTokenUnavailable):
		return auditErrToken
	case errors.Is(err, ErrNotificationFailed):
		return auditErrNotification
	case errors.Is(err, ErrIntruderUnavailable),
		errors.Is(err, ErrSessionStoreUnavailable),
		errors.Is(err, ErrDeferredActionUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
