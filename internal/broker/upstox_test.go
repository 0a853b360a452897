package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"algodesk/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "key", "secret", "http://localhost:8501/callback", WithTimeout(2*time.Second))
}

func TestLoginURL(t *testing.T) {
	c := NewClient("https://api.upstox.com/v2/", "my-key", "s", "http://localhost:8501/callback")

	u, err := url.Parse(c.LoginURL(""))
	require.NoError(t, err)
	assert.Equal(t, "/v2/login/authorization/dialog", u.Path)
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "my-key", u.Query().Get("client_id"))
	assert.Equal(t, "http://localhost:8501/callback", u.Query().Get("redirect_uri"))
	assert.False(t, u.Query().Has("state"))

	assert.Equal(t, c.LoginURL(""), c.LoginURL(""), "login url is deterministic")
	assert.Contains(t, c.LoginURL("abc"), "state=abc")
}

func TestExchangeCode(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, pathToken, r.URL.Path)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "ABC123", r.PostForm.Get("code"))
			assert.Equal(t, "key", r.PostForm.Get("client_id"))
			assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
			assert.Equal(t, "http://localhost:8501/callback", r.PostForm.Get("redirect_uri"))
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
		})

		cred, err := c.ExchangeCode(context.Background(), "ABC123")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", cred.AccessToken)
		assert.Equal(t, types.CredentialFromExchange, cred.Source)
		assert.False(t, cred.IssuedAt.IsZero())
	})

	t.Run("broker rejects code", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":"error","errors":[{"message":"Invalid Auth code"}]}`))
		})

		_, err := c.ExchangeCode(context.Background(), "used")
		var authErr *AuthError
		require.True(t, errors.As(err, &authErr))
		assert.Equal(t, "Invalid Auth code", authErr.Reason)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	})

	t.Run("never retries", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := c.ExchangeCode(context.Background(), "x")
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("empty token", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		})
		_, err := c.ExchangeCode(context.Background(), "x")
		var authErr *AuthError
		assert.True(t, errors.As(err, &authErr))
	})

	t.Run("transport failure", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", "k", "s", "r", WithTimeout(500*time.Millisecond))
		_, err := c.ExchangeCode(context.Background(), "x")
		var authErr *AuthError
		assert.True(t, errors.As(err, &authErr))
	})
}

func TestFetchProfile(t *testing.T) {
	t.Run("data envelope", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"status":"success","data":{"user_name":"Asha","email":"asha@example.com","user_id":"AB1234"}}`))
		})

		p, err := c.FetchProfile(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "Asha", p.Name)
		assert.Equal(t, "asha@example.com", p.Email)
		assert.Equal(t, "AB1234", p.UserID)
	})

	t.Run("flat body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"name":"Ravi","email":"ravi@example.com","user_id":"R1"}`))
		})

		p, err := c.FetchProfile(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "Ravi", p.Name)
	})

	t.Run("unauthorized", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := c.FetchProfile(context.Background(), "stale")
		var authErr *AuthError
		require.True(t, errors.As(err, &authErr))
		assert.Equal(t, "profile", authErr.Op)
	})
}

func TestFetchLTP(t *testing.T) {
	t.Run("flat", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "NSE:TCS", r.URL.Query().Get("symbol"))
			w.Write([]byte(`{"data":{"ltp":3512.45}}`))
		})

		price, err := c.FetchLTP(context.Background(), "tok", "NSE:TCS")
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("3512.45")))
	})

	t.Run("keyed", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"success","data":{"NSE_EQ:INFY":{"last_price":1490.1,"instrument_token":"NSE_EQ|INE009A01021"}}}`))
		})

		price, err := c.FetchLTP(context.Background(), "tok", "NSE:INFY")
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("1490.1")))
	})

	t.Run("missing price", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{}}`))
		})

		_, err := c.FetchLTP(context.Background(), "tok", "NSE:TCS")
		var fetchErr *FetchError
		assert.True(t, errors.As(err, &fetchErr))
	})

	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := c.FetchLTP(context.Background(), "tok", "NSE:TCS")
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, "NSE:TCS", fetchErr.Symbol)
	})
}

func TestFetchPositions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathPositions, r.URL.Path)
		w.Write([]byte(`{"data":[
			{"symbol":"NSE:TCS","quantity":5,"last_price":3500.5,"pnl":120.25},
			{"trading_symbol":"INFY","quantity":-2,"last_price":"1490","pnl":-15}
		]}`))
	})

	rows, err := c.FetchPositions(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "NSE:TCS", rows[0].Symbol)
	assert.Equal(t, int64(5), rows[0].Quantity)
	assert.True(t, rows[0].PnL.Equal(decimal.RequireFromString("120.25")))
	assert.Equal(t, "INFY", rows[1].Symbol)
	assert.True(t, rows[1].PnL.IsNegative())
}

func TestOversizedResponseIsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[`))
		row := []byte(`{"symbol":"NSE:TCS","quantity":1},`)
		for written := 0; written <= maxResponseBytes; written += len(row) {
			w.Write(row)
		}
		w.Write([]byte(`{}]}`))
	})

	_, err := c.FetchPositions(context.Background(), "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad", errorMessage(400, []byte(`{"message":"bad"}`)))
	assert.Equal(t, "Unauthorized", errorMessage(401, []byte(`not json`)))
	assert.Equal(t, "unexpected status", errorMessage(599, nil))
}
