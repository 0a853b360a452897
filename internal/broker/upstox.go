package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"algodesk/internal/model"
	"algodesk/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	pathDialog    = "/login/authorization/dialog"
	pathToken     = "/login/authorization/token"
	pathProfile   = "/user/profile"
	pathLTP       = "/market-quote/ltp"
	pathPositions = "/portfolio/positions"

	maxResponseBytes = 4 << 20
)

var ErrResponseTooLarge = errors.New("broker response too large")

// Client talks to the Upstox v2 REST API. Every call is attempted once;
// authorization codes are single-use so nothing here retries.
type Client struct {
	baseURL     string
	apiKey      string
	apiSecret   string
	redirectURI string
	httpClient  *http.Client
	logger      zerolog.Logger
	now         func() time.Time
}

var _ Adapter = (*Client)(nil)

type ClientOption func(*Client)

func NewClient(baseURL, apiKey, apiSecret, redirectURI string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		redirectURI: redirectURI,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// LoginURL builds the authorization dialog address. It has no side effects;
// state is appended only when non-empty.
func (c *Client) LoginURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.apiKey)
	q.Set("redirect_uri", c.redirectURI)
	if state != "" {
		q.Set("state", state)
	}
	return c.baseURL + pathDialog + "?" + q.Encode()
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (model.Credential, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", c.apiKey)
	form.Set("client_secret", c.apiSecret)
	form.Set("redirect_uri", c.redirectURI)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathToken, strings.NewReader(form.Encode()))
	if err != nil {
		return model.Credential{}, &AuthError{Op: "exchange", Reason: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return model.Credential{}, authError("exchange", err)
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		Data        *struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Credential{}, &AuthError{Op: "exchange", Reason: "malformed token response", Err: err}
	}
	token := resp.AccessToken
	if token == "" && resp.Data != nil {
		token = resp.Data.AccessToken
	}
	if token == "" {
		return model.Credential{}, &AuthError{Op: "exchange", Reason: "response carried no access token"}
	}
	c.logger.Info().Msg("authorization code exchanged")
	return model.Credential{AccessToken: token, IssuedAt: c.now().UTC(), Source: types.CredentialFromExchange}, nil
}

func (c *Client) FetchProfile(ctx context.Context, token string) (model.UserProfile, error) {
	body, err := c.get(ctx, token, pathProfile, nil)
	if err != nil {
		return model.UserProfile{}, authError("profile", err)
	}
	type profileJSON struct {
		Name     string `json:"name"`
		UserName string `json:"user_name"`
		Email    string `json:"email"`
		UserID   string `json:"user_id"`
	}
	var resp struct {
		profileJSON
		Data *profileJSON `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.UserProfile{}, &AuthError{Op: "profile", Reason: "malformed profile response", Err: err}
	}
	p := resp.profileJSON
	if resp.Data != nil {
		p = *resp.Data
	}
	if p.Name == "" {
		p.Name = p.UserName
	}
	if p.UserID == "" && p.Email == "" {
		return model.UserProfile{}, &AuthError{Op: "profile", Reason: "profile response was empty"}
	}
	return model.UserProfile{Name: p.Name, Email: p.Email, UserID: p.UserID}, nil
}

func (c *Client) FetchLTP(ctx context.Context, token, symbol string) (decimal.Decimal, error) {
	body, err := c.get(ctx, token, pathLTP, url.Values{"symbol": []string{symbol}})
	if err != nil {
		return decimal.Zero, &FetchError{Op: "ltp", Symbol: symbol, Err: err}
	}
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, &FetchError{Op: "ltp", Symbol: symbol, Err: err}
	}
	price, ok := parseLTP(resp.Data, symbol)
	if !ok {
		return decimal.Zero, &FetchError{Op: "ltp", Symbol: symbol, Err: errors.New("no price in response")}
	}
	return price, nil
}

// parseLTP accepts {"ltp": n} as well as the keyed
// {"NSE_EQ:INFY": {"last_price": n}} form.
func parseLTP(data json.RawMessage, symbol string) (decimal.Decimal, bool) {
	if len(data) == 0 {
		return decimal.Zero, false
	}
	var flat struct {
		LTP *decimal.Decimal `json:"ltp"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && flat.LTP != nil {
		return *flat.LTP, true
	}
	var keyed map[string]struct {
		LastPrice *decimal.Decimal `json:"last_price"`
	}
	if err := json.Unmarshal(data, &keyed); err != nil {
		return decimal.Zero, false
	}
	if q, ok := keyed[symbol]; ok && q.LastPrice != nil {
		return *q.LastPrice, true
	}
	if len(keyed) == 1 {
		for _, q := range keyed {
			if q.LastPrice != nil {
				return *q.LastPrice, true
			}
		}
	}
	return decimal.Zero, false
}

func (c *Client) FetchPositions(ctx context.Context, token string) ([]model.Position, error) {
	body, err := c.get(ctx, token, pathPositions, nil)
	if err != nil {
		return nil, &FetchError{Op: "positions", Err: err}
	}
	var resp struct {
		Data []struct {
			Symbol        string          `json:"symbol"`
			TradingSymbol string          `json:"trading_symbol"`
			Quantity      int64           `json:"quantity"`
			LastPrice     decimal.Decimal `json:"last_price"`
			PnL           decimal.Decimal `json:"pnl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{Op: "positions", Err: err}
	}
	out := make([]model.Position, 0, len(resp.Data))
	for _, row := range resp.Data {
		sym := row.Symbol
		if sym == "" {
			sym = row.TradingSymbol
		}
		out = append(out, model.Position{
			Symbol:    sym,
			Quantity:  row.Quantity,
			LastPrice: row.LastPrice,
			PnL:       row.PnL,
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, token, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrResponseTooLarge)
	}
	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("took", c.now().Sub(start)).
		Msg("broker request")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func authError(op string, err error) *AuthError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &AuthError{Op: op, Reason: apiErr.Message, Err: err}
	}
	return &AuthError{Op: op, Reason: err.Error(), Err: err}
}
