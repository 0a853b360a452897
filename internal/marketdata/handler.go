package marketdata

import (
	"errors"
	"net/http"
	"strings"

	"algodesk/internal/httputil"

	"github.com/rs/zerolog"
)

type Handler struct {
	WS     *FrameWS
	poller *Poller
	logger zerolog.Logger
}

func NewHandler(poller *Poller, ws *FrameWS, logger zerolog.Logger) *Handler {
	return &Handler{WS: ws, poller: poller, logger: logger}
}

func (h *Handler) Frame(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.poller.Frame())
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.poller.Positions())
}

type selectRequest struct {
	Symbol string `json:"symbol"`
}

func (h *Handler) SelectSymbol(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	if err := h.poller.Select(symbol); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.poller.Frame())
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	frame, err := h.poller.Refresh(r.Context())
	if errors.Is(err, ErrNoCredential) {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "not logged in"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, frame)
}
