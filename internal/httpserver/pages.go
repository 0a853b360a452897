package httpserver

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"algodesk/internal/auth"
	"algodesk/internal/marketdata"
	"algodesk/internal/model"
	"algodesk/internal/orders"
	"algodesk/internal/session"
	"algodesk/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	chartWidth  = 600
	chartHeight = 220
)

// Pages renders the server-side landing page and dashboard.
type Pages struct {
	session *session.Manager
	poller  *marketdata.Poller
	orders  *orders.Service
	auth    *auth.Handler
	logger  zerolog.Logger
	tmpl    *template.Template
}

func NewPages(mgr *session.Manager, poller *marketdata.Poller, orderSvc *orders.Service, authHandler *auth.Handler, logger zerolog.Logger) (*Pages, error) {
	tmpl, err := template.New("pages").Funcs(template.FuncMap{
		"money":  money,
		"change": changeLabel,
		"pct":    pctLabel,
		"points": chartPoints,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Pages{session: mgr, poller: poller, orders: orderSvc, auth: authHandler, logger: logger, tmpl: tmpl}, nil
}

type landingData struct {
	Profile *model.UserProfile
	Error   string
}

type dashboardData struct {
	Profile     model.UserProfile
	Frame       marketdata.Frame
	Ticket      orders.Ticket
	ChartWidth  int
	ChartHeight int
}

// Landing doubles as the OAuth redirect target: a request carrying a code is
// handed to the callback, which redirects back here without it.
func (p *Pages) Landing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("code") != "" || q.Get("error") != "" {
		p.auth.Callback(w, r)
		return
	}

	var data landingData
	if p.session.State() == types.SessionAuthenticated {
		if profile, err := p.session.EnsureProfile(r.Context()); err == nil {
			data.Profile = &profile
		}
	}
	data.Error = p.session.TakeError()
	p.render(w, "landing.html", data)
}

func (p *Pages) Dashboard(w http.ResponseWriter, r *http.Request) {
	if p.session.State() != types.SessionAuthenticated {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	profile, err := p.session.EnsureProfile(r.Context())
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	ticket, _ := p.orders.Preview(orders.Ticket{})
	p.render(w, "dashboard.html", dashboardData{
		Profile:     profile,
		Frame:       p.poller.Frame(),
		Ticket:      ticket,
		ChartWidth:  chartWidth,
		ChartHeight: chartHeight,
	})
}

func (p *Pages) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		p.logger.Error().Err(err).Str("template", name).Msg("render page")
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func money(v any) string {
	var d decimal.Decimal
	switch x := v.(type) {
	case decimal.Decimal:
		d = x
	case *decimal.Decimal:
		if x == nil {
			return "-"
		}
		d = *x
	default:
		return "-"
	}
	return "₹" + groupThousands(d.StringFixed(2))
}

// changeLabel is the unsigned rupee move.
func changeLabel(c *model.Change) string {
	if c == nil {
		return "-"
	}
	return money(c.Delta.Abs())
}

func pctLabel(c *model.Change) string {
	if c == nil {
		return ""
	}
	sign := "+"
	if c.Delta.IsNegative() {
		sign = "-"
	}
	return sign + c.Pct.Abs().StringFixed(2) + "%"
}

func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// chartPoints scales samples into an SVG polyline of the chart size.
func chartPoints(samples []model.PriceSample) string {
	if len(samples) == 0 {
		return ""
	}
	lo, hi := samples[0].Price, samples[0].Price
	for _, s := range samples[1:] {
		lo = decimal.Min(lo, s.Price)
		hi = decimal.Max(hi, s.Price)
	}
	span := hi.Sub(lo)
	if span.IsZero() {
		span = decimal.NewFromInt(1)
	}
	step := 0.0
	if len(samples) > 1 {
		step = float64(chartWidth) / float64(len(samples)-1)
	}

	parts := make([]string, 0, len(samples))
	for i, s := range samples {
		frac := s.Price.Sub(lo).Div(span).InexactFloat64()
		y := float64(chartHeight) - frac*float64(chartHeight-10) - 5
		parts = append(parts, fmt.Sprintf("%.1f,%.1f", float64(i)*step, y))
	}
	return strings.Join(parts, " ")
}
