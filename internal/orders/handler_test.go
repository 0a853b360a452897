package orders

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"algodesk/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_PlaceAndList(t *testing.T) {
	svc := NewService(fixedPrice{symbol: "NSE:RELIANCE", price: decimal.NewFromInt(2500), ok: true}, &memJournal{}, zerolog.Nop())
	h := NewHandler(svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Place(rec, httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{"side":"SELL","type":"LIMIT","quantity":2}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var ack model.OrderAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "Sell order placed successfully!", ack.Message)
	assert.True(t, ack.LimitPrice.Equal(decimal.NewFromInt(2500)))

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/orders?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var acks []model.OrderAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acks))
	assert.Len(t, acks, 1)
}

func TestHandler_BadRequests(t *testing.T) {
	h := NewHandler(NewService(fixedPrice{symbol: "NSE:TCS"}, nil, zerolog.Nop()), zerolog.Nop())

	cases := []struct {
		name string
		fn   http.HandlerFunc
		body string
	}{
		{"preview bad quantity", h.Preview, `{"quantity":-1}`},
		{"preview low limit", h.Preview, `{"type":"LIMIT","limit_price":"0.001"}`},
		{"place no side", h.Place, `{"quantity":1}`},
		{"place unknown field", h.Place, `{"side":"BUY","tif":"IOC"}`},
		{"place empty", h.Place, ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.fn(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/orders?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
