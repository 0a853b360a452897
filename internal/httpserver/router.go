package httpserver

import (
	"net/http"

	"algodesk/internal/auth"
	"algodesk/internal/health"
	"algodesk/internal/marketdata"
	"algodesk/internal/orders"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Origin        string
	Logger        zerolog.Logger
	Session       TokenHolder
	AuthHandler   *auth.Handler
	MarketHandler *marketdata.Handler
	OrderHandler  *orders.Handler
	HealthHandler *health.Handler
	Pages         *Pages
	RateLimiter   *RateLimiter
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(d.Logger))
	r.Use(CORS(d.Origin))
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/", d.Pages.Landing)
	r.Get("/callback", d.AuthHandler.Callback)
	r.Get("/login", d.AuthHandler.Login)
	r.Post("/logout", d.AuthHandler.Logout)
	r.Get("/dashboard", d.Pages.Dashboard)
	r.Get("/health", d.HealthHandler.Get)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", d.AuthHandler.Session)
		r.Group(func(r chi.Router) {
			r.Use(RequireSession(d.Session))
			r.Route("/market", func(r chi.Router) {
				r.Get("/frame", d.MarketHandler.Frame)
				r.Post("/symbol", d.MarketHandler.SelectSymbol)
				r.Get("/positions", d.MarketHandler.Positions)
				r.Post("/refresh", d.MarketHandler.Refresh)
				r.Get("/ws", d.MarketHandler.WS.ServeHTTP)
			})
			r.Route("/orders", func(r chi.Router) {
				r.Post("/preview", d.OrderHandler.Preview)
				r.Post("/", d.OrderHandler.Place)
				r.Get("/", d.OrderHandler.List)
			})
		})
	})
	return r
}
