package httpapi

import (
	"encoding/json"
	"net/http"

	recovery "github.com/pwm-project/pwm-sub000"
	"github.com/pwm-project/pwm-sub000/session"
)

// StepEnvelope is every endpoint's response body.
type StepEnvelope struct {
	Step  *recovery.Step `json:"step,omitempty"`
	Error string         `json:"error,omitempty"`
}

type identifyRequest struct {
	Profile string            `json:"profile"`
	Form    map[string]string `json:"form" validate:"required,min=1"`
}

type valuesRequest struct {
	Values map[string]string `json:"values" validate:"required,min=1"`
}

type codeRequest struct {
	Code string `json:"code" validate:"required,max=128"`
}

type methodRequest struct {
	Method session.Method `json:"method" validate:"required"`
}

type channelRequest struct {
	Channel session.Channel `json:"channel" validate:"required"`
}

type actionRequest struct {
	Action session.ActionChoice `json:"action" validate:"required"`
}

type localeRequest struct {
	Locale string `json:"locale" validate:"required,max=35"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
