package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_SelectSymbol(t *testing.T) {
	p, _ := newTestPoller(t, &fakeQuoter{}, nil)
	h := NewHandler(p, nil, zerolog.Nop())

	cases := []struct {
		body string
		code int
	}{
		{`{"symbol":"NSE:TCS"}`, http.StatusOK},
		{`{"symbol":"NSE:NOPE"}`, http.StatusBadRequest},
		{`{"symbol":""}`, http.StatusBadRequest},
		{`{"sym":"NSE:TCS"}`, http.StatusBadRequest},
		{``, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.SelectSymbol(rec, httptest.NewRequest(http.MethodPost, "/v1/market/symbol", strings.NewReader(tc.body)))
		assert.Equal(t, tc.code, rec.Code, tc.body)
	}
	assert.Equal(t, "NSE:TCS", p.Symbol())
}

func TestHandler_RefreshAndFrame(t *testing.T) {
	p, creds := newTestPoller(t, &fakeQuoter{}, nil)
	h := NewHandler(p, nil, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/v1/market/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Frame(rec, httptest.NewRequest(http.MethodGet, "/v1/market/frame", nil))
	var frame Frame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
	assert.Equal(t, int64(1), frame.Cycle)
	assert.Len(t, frame.Samples, 1)

	creds.held.Store(false)
	rec = httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/v1/market/refresh", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFrameWS_StreamsFrames(t *testing.T) {
	bus := NewBus()
	p, _ := newTestPoller(t, &fakeQuoter{}, bus)
	srv := httptest.NewServer(NewFrameWS("*", p, bus, zerolog.Nop()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first struct {
		Type string `json:"type"`
		Data Frame  `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, EventFrame, first.Type)
	assert.Zero(t, first.Data.Cycle)

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	_, err = p.Cycle(context.Background())
	require.NoError(t, err)

	var next struct {
		Type string `json:"type"`
		Data Frame  `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, int64(1), next.Data.Cycle)
}

func TestFrameWS_RejectsForeignOrigin(t *testing.T) {
	bus := NewBus()
	p, _ := newTestPoller(t, &fakeQuoter{}, bus)
	srv := httptest.NewServer(NewFrameWS("http://localhost:8501", p, bus, zerolog.Nop()))
	defer srv.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
