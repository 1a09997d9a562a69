package recovery

import (
	"errors"
	"fmt"

	"github.com/pwm-project/pwm-sub000/internal/flows"
)

var (
	// ErrUserInput is an exported constant or variable used by the recovery engine.
	ErrUserInput = errors.New("verification failed")
	// ErrIdentityNotFound is an exported constant or variable used by the recovery engine.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrConfiguration is an exported constant or variable used by the recovery engine.
	ErrConfiguration = errors.New("recovery configuration error")
	// ErrDirectoryUnavailable is an exported constant or variable used by the recovery engine.
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	// ErrLocked is an exported constant or variable used by the recovery engine.
	ErrLocked = errors.New("account locked")
	// ErrEngineNotReady is an exported constant or variable used by the recovery engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrNoIdentity is an exported constant or variable used by the recovery engine.
	ErrNoIdentity = errors.New("recovery session has no identified user")
	// ErrMethodNotAvailable is an exported constant or variable used by the recovery engine.
	ErrMethodNotAvailable = errors.New("verification method not available")
	// ErrInvalidChoice is an exported constant or variable used by the recovery engine.
	ErrInvalidChoice = errors.New("invalid choice")
	// ErrTokenUnavailable is an exported constant or variable used by the recovery engine.
	ErrTokenUnavailable = errors.New("token backend unavailable")
	// ErrNotificationFailed is an exported constant or variable used by the recovery engine.
	ErrNotificationFailed = errors.New("notification delivery failed")
	// ErrProfileNotFound is an exported constant or variable used by the recovery engine.
	ErrProfileNotFound = errors.New("recovery profile not found")
	// ErrIntruderUnavailable is an exported constant or variable used by the recovery engine.
	ErrIntruderUnavailable = errors.New("intruder backend unavailable")
	// ErrSessionStoreUnavailable is an exported constant or variable used by the recovery engine.
	ErrSessionStoreUnavailable = errors.New("recovery session backend unavailable")
	// ErrDeferredActionUnavailable is an exported constant or variable used by the recovery engine.
	ErrDeferredActionUnavailable = errors.New("deferred action backend unavailable")
	// ErrAuthRecordInvalid is an exported constant or variable used by the recovery engine.
	ErrAuthRecordInvalid = errors.New("invalid authentication record")
)

const (
	publicMessageUnable      = "unable to verify your identity"
	publicMessageUnavailable = "service temporarily unavailable, please try again"
	publicMessageInvalid     = "invalid request"
)

// PublicMessage returns the caller-safe message for err. Locked accounts, unknown users,
// wrong answers and configuration problems deliberately share one message.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLocked),
		errors.Is(err, ErrIdentityNotFound),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrUserInput),
		errors.Is(err, ErrProfileNotFound),
		errors.Is(err, ErrNoIdentity):
		return publicMessageUnable
	case errors.Is(err, ErrInvalidChoice),
		errors.Is(err, ErrMethodNotAvailable):
		return publicMessageInvalid
	default:
		return publicMessageUnavailable
	}
}

// IsFatal reports whether err ended the recovery session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrLocked)
}

func mapFault(err error) error {
	if err == nil {
		return nil
	}
	f, ok := flows.AsFault(err)
	if !ok {
		return err
	}

	var sentinel error
	switch f.Kind {
	case flows.FaultConfiguration:
		sentinel = ErrConfiguration
	case flows.FaultLocked:
		sentinel = ErrLocked
	case flows.FaultDirectory:
		sentinel = ErrDirectoryUnavailable
	case flows.FaultTokenStore:
		sentinel = ErrTokenUnavailable
	case flows.FaultNotification:
		sentinel = ErrNotificationFailed
	case flows.FaultIntruder:
		sentinel = ErrIntruderUnavailable
	case flows.FaultDeferred:
		sentinel = ErrDeferredActionUnavailable
	default:
		return err
	}
	if f.Err != nil {
		return fmt.Errorf("%w: %s: %v", sentinel, f.Detail, f.Err)
	}
	return fmt.Errorf("%w: %s", sentinel, f.Detail)
}
