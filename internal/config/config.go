package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"algodesk/internal/types"

	"github.com/BurntSushi/toml"
)

const (
	DefaultHTTPAddr        = ":8501"
	DefaultBaseURL         = "https://api.upstox.com/v2"
	DefaultRedirectURI     = "http://localhost:8501/callback"
	DefaultTokenFile       = ".dashboard/token.yaml"
	DefaultSecretsFile     = ".dashboard/secrets.toml"
	DefaultRefreshInterval = 5 * time.Second
	DefaultHistorySize     = 100
	DefaultBrokerTimeout   = 10 * time.Second
	DefaultJournalPath     = "data/orders.db"
	// Upstox access tokens lapse every day at 03:30 IST.
	DefaultExpiryCron = "CRON_TZ=Asia/Kolkata 0 30 3 * * *"
)

var DefaultSymbols = []string{
	"NSE_FO:NIFTY24JANFUT",
	"NSE_FO:BANKNIFTY24JANFUT",
	"NSE:RELIANCE",
	"NSE:TCS",
	"NSE:INFY",
}

type Config struct {
	HTTPAddr        string
	WebSocketOrigin string

	APIKey        string
	APISecret     string
	BaseURL       string
	RedirectURI   string
	BrokerTimeout time.Duration

	TokenFile       string
	TokenPassphrase string
	ExpiryCron      string

	Symbols         []string
	RefreshInterval time.Duration
	HistorySize     int

	JournalDriver types.JournalDriver
	JournalPath   string
	DBDSN         string

	LogLevel  string
	LogFormat string
}

// ConfigError reports required settings that were not supplied.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "missing required config: " + strings.Join(e.Missing, ",")
}

// fileConfig mirrors the secrets.toml layout. Top-level keys hold the broker
// secrets the same way the hosting environment would name them.
type fileConfig struct {
	APIKey    string `toml:"UPSTOX_API_KEY"`
	APISecret string `toml:"UPSTOX_API_SECRET"`
	Server    struct {
		Addr     string `toml:"addr"`
		WSOrigin string `toml:"ws_origin"`
	} `toml:"server"`
	Broker struct {
		BaseURL     string `toml:"base_url"`
		RedirectURI string `toml:"redirect_uri"`
		Timeout     string `toml:"timeout"`
	} `toml:"broker"`
	Session struct {
		TokenFile  string `toml:"token_file"`
		Passphrase string `toml:"token_passphrase"`
		ExpiryCron string `toml:"expiry_cron"`
	} `toml:"session"`
	Market struct {
		Symbols         []string `toml:"symbols"`
		RefreshInterval string   `toml:"refresh_interval"`
		HistorySize     int      `toml:"history_size"`
	} `toml:"market"`
	Journal struct {
		Driver string `toml:"driver"`
		Path   string `toml:"path"`
		DSN    string `toml:"dsn"`
	} `toml:"journal"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// Load reads the optional secrets file, applies environment overrides and
// defaults, then validates. A missing API key or secret yields *ConfigError.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = DefaultSecretsFile
	}
	if err := c.loadFile(path); err != nil {
		return c, err
	}
	if err := c.loadEnv(); err != nil {
		return c, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.APIKey = f.APIKey
	c.APISecret = f.APISecret
	c.HTTPAddr = f.Server.Addr
	c.WebSocketOrigin = f.Server.WSOrigin
	c.BaseURL = f.Broker.BaseURL
	c.RedirectURI = f.Broker.RedirectURI
	c.TokenFile = f.Session.TokenFile
	c.TokenPassphrase = f.Session.Passphrase
	c.ExpiryCron = f.Session.ExpiryCron
	c.Symbols = f.Market.Symbols
	c.HistorySize = f.Market.HistorySize
	c.JournalDriver = types.JournalDriver(strings.ToLower(strings.TrimSpace(f.Journal.Driver)))
	c.JournalPath = f.Journal.Path
	c.DBDSN = f.Journal.DSN
	c.LogLevel = f.Log.Level
	c.LogFormat = f.Log.Format
	if f.Broker.Timeout != "" {
		d, err := time.ParseDuration(f.Broker.Timeout)
		if err != nil {
			return fmt.Errorf("broker.timeout: %w", err)
		}
		c.BrokerTimeout = d
	}
	if f.Market.RefreshInterval != "" {
		d, err := time.ParseDuration(f.Market.RefreshInterval)
		if err != nil {
			return fmt.Errorf("market.refresh_interval: %w", err)
		}
		c.RefreshInterval = d
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.APIKey, "UPSTOX_API_KEY")
	setString(&c.APISecret, "UPSTOX_API_SECRET")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.WebSocketOrigin, "WS_ORIGIN")
	setString(&c.BaseURL, "UPSTOX_BASE_URL")
	setString(&c.RedirectURI, "UPSTOX_REDIRECT_URI")
	setString(&c.TokenFile, "TOKEN_FILE")
	setString(&c.TokenPassphrase, "TOKEN_PASSPHRASE")
	setString(&c.JournalPath, "JOURNAL_PATH")
	setString(&c.DBDSN, "DB_DSN")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	// An empty TOKEN_EXPIRY_CRON disables the sweep, so presence matters here.
	if v, ok := os.LookupEnv("TOKEN_EXPIRY_CRON"); ok {
		c.ExpiryCron = strings.TrimSpace(v)
		if c.ExpiryCron == "" {
			c.ExpiryCron = "off"
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORDER_JOURNAL")); v != "" {
		c.JournalDriver = types.JournalDriver(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("SYMBOLS")); v != "" {
		c.Symbols = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("REFRESH_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.New("invalid REFRESH_INTERVAL")
		}
		c.RefreshInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("BROKER_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.New("invalid BROKER_TIMEOUT")
		}
		c.BrokerTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("HISTORY_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("invalid HISTORY_SIZE")
		}
		c.HistorySize = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.RedirectURI == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	if c.WebSocketOrigin == "" {
		c.WebSocketOrigin = originOf(c.RedirectURI)
	}
	if c.BrokerTimeout <= 0 {
		c.BrokerTimeout = DefaultBrokerTimeout
	}
	if c.TokenFile == "" {
		c.TokenFile = DefaultTokenFile
	}
	switch c.ExpiryCron {
	case "":
		c.ExpiryCron = DefaultExpiryCron
	case "off":
		c.ExpiryCron = ""
	}
	c.Symbols = normalizeSymbols(c.Symbols)
	if len(c.Symbols) == 0 {
		c.Symbols = append([]string(nil), DefaultSymbols...)
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.JournalDriver == "" {
		c.JournalDriver = types.JournalSQLite
	}
	if c.JournalPath == "" {
		c.JournalPath = DefaultJournalPath
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
}

// Validate checks required secrets and enumerated settings.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "UPSTOX_API_KEY")
	}
	if strings.TrimSpace(c.APISecret) == "" {
		missing = append(missing, "UPSTOX_API_SECRET")
	}
	if c.JournalDriver == types.JournalPostgres && c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	switch c.JournalDriver {
	case types.JournalNone, types.JournalSQLite, types.JournalPostgres:
	default:
		return errors.New("invalid ORDER_JOURNAL: use none, sqlite or postgres")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func originOf(rawURL string) string {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return "*"
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host
}
