package flows

import (
	"errors"
	"fmt"

	"github.com/pwm-project/pwm-sub000/session"
)

type Verdict uint8

const (
	VerdictFailed Verdict = iota
	VerdictPassed
)

// Outcome is the non-fatal result of evaluating one method.
type Outcome struct {
	Verdict Verdict
	Reason  string
}

func (o Outcome) Passed() bool {
	return o.Verdict == VerdictPassed
}

func passed() Outcome {
	return Outcome{Verdict: VerdictPassed}
}

func failed(reason string) Outcome {
	return Outcome{Verdict: VerdictFailed, Reason: reason}
}

type FaultKind uint8

const (
	FaultConfiguration FaultKind = iota + 1
	FaultDirectory
	FaultLocked
	FaultTokenStore
	FaultNotification
	FaultIntruder
	FaultDeferred
)

func (k FaultKind) String() string {
	switch k {
	case FaultConfiguration:
		return "configuration"
	case FaultDirectory:
		return "directory"
	case FaultLocked:
		return "locked"
	case FaultTokenStore:
		return "token_store"
	case FaultNotification:
		return "notification"
	case FaultIntruder:
		return "intruder"
	case FaultDeferred:
		return "deferred_action"
	default:
		return "unknown"
	}
}

// Fault aborts the current transition. Configuration and Locked faults also end the session.
type Fault struct {
	Kind   FaultKind
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return f.Kind.String() + ": " + f.Detail + ": " + f.Err.Error()
	}
	return f.Kind.String() + ": " + f.Detail
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Fatal reports whether the fault ends the recovery session.
func (f *Fault) Fatal() bool {
	return f.Kind == FaultConfiguration || f.Kind == FaultLocked
}

// AsFault extracts a *Fault from err.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func configFault(format string, args ...any) *Fault {
	return &Fault{Kind: FaultConfiguration, Detail: fmt.Sprintf(format, args...)}
}

func directoryFault(op string, err error) *Fault {
	if f, ok := AsFault(err); ok {
		return f
	}
	return &Fault{Kind: FaultDirectory, Detail: op, Err: err}
}

func lockedFault(detail string) *Fault {
	return &Fault{Kind: FaultLocked, Detail: detail}
}

type StepKind uint8

const (
	StepIdentify StepKind = iota
	StepPresent
	StepPresentChoice
	StepPresentTokenChannel
	StepPresentActionChoice
	StepDispatch
)

func (k StepKind) String() string {
	switch k {
	case StepPresent:
		return "present"
	case StepPresentChoice:
		return "present_choice"
	case StepPresentTokenChannel:
		return "present_token_channel"
	case StepPresentActionChoice:
		return "present_action_choice"
	case StepDispatch:
		return "dispatch"
	default:
		return "identify"
	}
}

type Dispatch uint8

const (
	DispatchNone Dispatch = iota
	DispatchResetPassword
	DispatchSendNewPassword
	DispatchUnlock
)

func (d Dispatch) String() string {
	switch d {
	case DispatchResetPassword:
		return "reset_password"
	case DispatchSendNewPassword:
		return "send_new_password"
	case DispatchUnlock:
		return "unlock"
	default:
		return "none"
	}
}

// NextStep is what advance decided the caller must do next.
type NextStep struct {
	Kind     StepKind
	Method   session.Method
	Choices  session.MethodSet
	Channels []session.Channel
	Actions  []session.ActionChoice
	Dispatch Dispatch
}

func identifyStep() NextStep {
	return NextStep{Kind: StepIdentify}
}

func presentStep(m session.Method) NextStep {
	return NextStep{Kind: StepPresent, Method: m}
}

func dispatchStep(d Dispatch) NextStep {
	return NextStep{Kind: StepDispatch, Dispatch: d}
}
