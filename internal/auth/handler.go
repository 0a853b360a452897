package auth

import (
	"net/http"

	"algodesk/internal/broker"
	"algodesk/internal/httputil"
	"algodesk/internal/session"

	"github.com/rs/zerolog"
)

type Handler struct {
	svc     *Service
	session *session.Manager
	logger  zerolog.Logger
}

func NewHandler(svc *Service, mgr *session.Manager, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, session: mgr, logger: logger}
}

// Login sends the browser to the broker's authorization dialog.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.IssueState()
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	http.Redirect(w, r, h.session.LoginURL(state), http.StatusFound)
}

// Callback consumes the one-time code from the redirect and always answers
// with a redirect to "/", which drops the code from the visible URL. The
// outcome is shown on the landing page.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		if reason := q.Get("error"); reason != "" {
			if msg := q.Get("error_description"); msg != "" {
				reason = msg
			}
			h.logger.Warn().Str("error", reason).Msg("broker denied authorization")
			h.session.Reject(&broker.AuthError{Op: "authorize", Reason: reason})
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if state := q.Get("state"); state != "" {
		if err := h.svc.VerifyState(state); err != nil {
			h.logger.Warn().Err(err).Msg("rejected callback state")
			h.session.Reject(&broker.AuthError{Op: "exchange", Reason: "login request expired or was not started here"})
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}
	if err := h.session.HandleCode(r.Context(), code); err != nil {
		h.logger.Warn().Err(err).Msg("login failed")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Logout(); err != nil {
		h.logger.Error().Err(err).Msg("logout")
	}
	if r.Header.Get("Accept") == "application/json" {
		httputil.WriteJSON(w, http.StatusOK, h.session.Snapshot())
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.session.Snapshot())
}
