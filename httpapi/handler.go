package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	recovery "github.com/pwm-project/pwm-sub000"
	"github.com/pwm-project/pwm-sub000/session"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 64 << 10

// Engine is the part of *recovery.Engine the handlers drive.
type Engine interface {
	NewSession(id, locale string) *session.Session
	Identify(ctx context.Context, s *session.Session, profileID string, form map[string]string) (recovery.Step, error)
	SubmitAttributes(ctx context.Context, s *session.Session, values map[string]string) (recovery.Step, error)
	SubmitResponses(ctx context.Context, s *session.Session, answers map[string]string) (recovery.Step, error)
	SubmitOTP(ctx context.Context, s *session.Session, code string) (recovery.Step, error)
	SubmitToken(ctx context.Context, s *session.Session, code string) (recovery.Step, error)
	ChooseOptionalMethod(ctx context.Context, s *session.Session, m session.Method) (recovery.Step, error)
	ChooseTokenChannel(ctx context.Context, s *session.Session, ch session.Channel) (recovery.Step, error)
	ChooseTerminalAction(ctx context.Context, s *session.Session, choice session.ActionChoice) (recovery.Step, error)
	ChangeLocale(ctx context.Context, s *session.Session, locale string) (recovery.Step, error)
	Reset(ctx context.Context, s *session.Session) (recovery.Step, error)
	Advance(ctx context.Context, s *session.Session) (recovery.Step, error)
}

// SessionStore loads and saves recovery sessions.
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
}

var (
	_ Engine       = (*recovery.Engine)(nil)
	_ SessionStore = (*session.Store)(nil)
)

// Handler serves the recovery endpoints.
type Handler struct {
	engine   Engine
	sessions SessionStore
	logger   *logrus.Logger
	cookies  CookieConfig
}

// CookieConfig names and scopes the cookies the handler sets.
type CookieConfig struct {
	Session    string
	AuthRecord string
	Path       string
	Secure     bool
	MaxAge     time.Duration
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.Session == "" {
		c.Session = "recovery_session"
	}
	if c.AuthRecord == "" {
		c.AuthRecord = "recovery_auth"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 30 * time.Minute
	}
	return c
}

func NewHandler(engine Engine, sessions SessionStore, cookies CookieConfig, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{engine: engine, sessions: sessions, cookies: cookies.withDefaults(), logger: logger}
}

type event func(ctx context.Context, s *session.Session) (recovery.Step, error)

// serve loads the session, runs ev and persists the result before answering. A directory
// outage leaves the stored session as it was so the client can retry the same request.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, ev event) {
	ctx := r.Context()
	s, fresh, err := h.load(ctx, r)
	if err != nil {
		h.logger.WithError(err).Warn("recovery session load failed")
		writeJSON(w, http.StatusServiceUnavailable, StepEnvelope{Error: recovery.PublicMessage(recovery.ErrSessionStoreUnavailable)})
		return
	}

	step, evErr := ev(ctx, s)
	if errors.Is(evErr, recovery.ErrDirectoryUnavailable) {
		h.respond(w, s, step, evErr)
		return
	}

	if err := h.sessions.Save(ctx, s); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, session.ErrConcurrentUpdate) {
			status = http.StatusConflict
		}
		h.logger.WithError(err).WithField("session", s.ID).Warn("recovery session save failed")
		writeJSON(w, status, StepEnvelope{Error: recovery.PublicMessage(recovery.ErrSessionStoreUnavailable)})
		return
	}
	if fresh {
		h.setCookie(w, h.cookies.Session, s.ID)
	}
	if step.Completion != nil && step.Completion.AuthRecord != "" {
		h.setCookie(w, h.cookies.AuthRecord, step.Completion.AuthRecord)
	}

	h.respond(w, s, step, evErr)
}

func (h *Handler) respond(w http.ResponseWriter, s *session.Session, step recovery.Step, err error) {
	generic := recovery.PublicMessage(recovery.ErrIdentityNotFound)

	switch {
	case err == nil && step.Failed && step.Kind == recovery.StepIdentify:
		writeJSON(w, http.StatusOK, StepEnvelope{Step: &recovery.Step{Kind: recovery.StepIdentify, Failed: true}, Error: generic})
	case err == nil && step.Failed:
		writeJSON(w, http.StatusOK, StepEnvelope{Step: &step, Error: generic})
	case err == nil:
		writeJSON(w, http.StatusOK, StepEnvelope{Step: &step})
	case recovery.PublicMessage(err) == generic:
		if recovery.IsFatal(err) {
			h.logger.WithField("session", s.ID).WithError(err).Info("recovery session ended")
		}
		writeJSON(w, http.StatusOK, StepEnvelope{Step: &recovery.Step{Kind: recovery.StepIdentify, Failed: true}, Error: generic})
	case errors.Is(err, recovery.ErrInvalidChoice), errors.Is(err, recovery.ErrMethodNotAvailable):
		writeJSON(w, http.StatusBadRequest, StepEnvelope{Step: &step, Error: recovery.PublicMessage(err)})
	default:
		h.logger.WithField("session", s.ID).WithError(err).Warn("recovery event failed")
		writeJSON(w, http.StatusServiceUnavailable, StepEnvelope{Error: recovery.PublicMessage(err)})
	}
}

// load returns the caller's session, or a new one when the cookie is absent, malformed
// or expired.
func (h *Handler) load(ctx context.Context, r *http.Request) (*session.Session, bool, error) {
	if c, err := r.Cookie(h.cookies.Session); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			s, err := h.sessions.Get(ctx, id.String())
			switch {
			case err == nil:
				return s, false, nil
			case !errors.Is(err, session.ErrSessionNotFound) && !errors.Is(err, session.ErrSessionCorrupt):
				return nil, false, err
			}
		}
	}
	return h.engine.NewSession(uuid.NewString(), r.URL.Query().Get("locale")), true, nil
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.cookies.Path,
		MaxAge:   int(h.cookies.MaxAge / time.Second),
		Secure:   h.cookies.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// decode reads a JSON body into dst and validates it. It answers the request itself on
// failure.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, StepEnvelope{Error: recovery.PublicMessage(recovery.ErrInvalidChoice)})
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, StepEnvelope{Error: recovery.PublicMessage(recovery.ErrInvalidChoice)})
		return false
	}
	return true
}

func (h *Handler) Step(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.engine.Advance)
}

func (h *Handler) Identify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, func(ctx context.Context, s *session.Session) (recovery.Step, error) {
		return h.engine.Identify(ctx, s, req.Profile, req.Form)
	})
}

func (h *Handler) Attributes(w http.ResponseWriter, r *http.Request) {
	var req valuesRequest
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, func(ctx context.Context, s *session.Session) (recovery.Step, error) {
		return h.engine.SubmitAttributes(ctx, s, req.Values)
	})
}

func (h *Handler) Responses(w http.ResponseWriter, r *http.Request) {
	var req valuesRequest
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, func(ctx context.Context, s *session.Session) (recovery.Step, error) {
		return h.engine.SubmitResponses(ctx, s, req.Values)
	})
}

func (h *Handler) OTP(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, func(ctx context.Context, s *session.Session) (recovery.Step, error) {
		return h.engine.SubmitOTP(ctx, s, req.Code)
	})
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, func(ctx context.Context, s *session.Session) (recovery.Step, error) {
		return h.engine.SubmitToken(ctx, s, req.Code)
	})
}

func (h *Handler) ChooseMethod(w http.ResponseWriter, r *http.Request) {
	var req methodRequest
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, func(ctx context.Context, s *session.Session) (recovery.Step, error) {
		return h.engine.ChooseOptionalMethod(ctx, s, req.Method)
	})
}

func (h *Handler) ChooseChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, func(ctx context.Context, s *session.Session) (recovery.Step, error) {
		return h.engine.ChooseTokenChannel(ctx, s, req.Channel)
	})
}

func (h *Handler) ChooseAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, func(ctx context.Context, s *session.Session) (recovery.Step, error) {
		return h.engine.ChooseTerminalAction(ctx, s, req.Action)
	})
}

func (h *Handler) Locale(w http.ResponseWriter, r *http.Request) {
	var req localeRequest
	if !decode(w, r, &req) {
		return
	}
	h.serve(w, r, func(ctx context.Context, s *session.Session) (recovery.Step, error) {
		return h.engine.ChangeLocale(ctx, s, req.Locale)
	})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.engine.Reset)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
