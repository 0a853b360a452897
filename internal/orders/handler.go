package orders

import (
	"errors"
	"net/http"
	"strconv"

	"algodesk/internal/httputil"

	"github.com/rs/zerolog"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var t Ticket
	if err := httputil.ReadJSON(r, &t); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.svc.Preview(t)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request) {
	var t Ticket
	if err := httputil.ReadJSON(r, &t); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	ack, err := h.svc.Place(r.Context(), t)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ack)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	acks, err := h.svc.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("list order acks")
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "order journal unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acks)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidTicket) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	h.logger.Error().Err(err).Msg("order request failed")
	httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal error"})
}
