package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	appmiddleware "github.com/pwm-project/pwm-sub000/middleware"
	"golang.org/x/time/rate"
)

// Options configures NewRouter.
type Options struct {
	AllowedOrigins []string
	Cookies        CookieConfig
	// ThrottleRate and ThrottleBurst bound POSTs per client address. A zero rate
	// disables the throttle.
	ThrottleRate  rate.Limit
	ThrottleBurst int
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
}

// Router is the assembled HTTP surface. Close releases the throttle sweeper.
type Router struct {
	http.Handler
	throttle *appmiddleware.Throttle
}

func (rt *Router) Close() {
	if rt != nil && rt.throttle != nil {
		rt.throttle.Close()
	}
}

// NewRouter builds the chi router for h.
func NewRouter(h *Handler, opts Options) *Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appmiddleware.RequestContext(h.cookies.AuthRecord))

	rt := &Router{Handler: r}
	limit := func(next http.Handler) http.Handler { return next }
	if opts.ThrottleRate > 0 {
		burst := opts.ThrottleBurst
		if burst <= 0 {
			burst = 1
		}
		rt.throttle = appmiddleware.NewThrottle(opts.ThrottleRate, burst)
		limit = rt.throttle.Limit
	}

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/recovery", func(r chi.Router) {
		r.Get("/step", h.Step)

		r.Group(func(r chi.Router) {
			r.Use(limit)

			r.Post("/identify", h.Identify)
			r.Post("/attributes", h.Attributes)
			r.Post("/responses", h.Responses)
			r.Post("/otp", h.OTP)
			r.Post("/token", h.Token)
			r.Post("/choose/method", h.ChooseMethod)
			r.Post("/choose/channel", h.ChooseChannel)
			r.Post("/choose/action", h.ChooseAction)
			r.Post("/locale", h.Locale)
			r.Post("/reset", h.Reset)
		})
	})

	return rt
}
