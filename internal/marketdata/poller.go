package marketdata

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"algodesk/internal/broker"
	"algodesk/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrNoCredential  = errors.New("no credential held")
	ErrUnknownSymbol = errors.New("symbol is not configured")
)

// Quoter is the market data part of the broker.
type Quoter interface {
	FetchLTP(ctx context.Context, token, symbol string) (decimal.Decimal, error)
	FetchPositions(ctx context.Context, token string) ([]model.Position, error)
}

// Credentials hands out the bearer token while a session is authenticated.
type Credentials interface {
	Token() (string, bool)
}

type Config struct {
	Interval    time.Duration // pause after each full pass (default: 5s)
	Timeout     time.Duration // per-request timeout (default: 10s)
	Symbols     []string
	HistorySize int // samples kept for the chart (default: 100)
}

func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		HistorySize: 100,
	}
}

// Poller refreshes the quote and positions for the selected symbol on a
// fixed interval and publishes a Frame after every pass.
type Poller struct {
	cfg    Config
	quoter Quoter
	creds  Credentials
	bus    *Bus
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	symbol    string
	history   *History
	positions []model.Position

	cycleMu sync.Mutex
	cycles  atomic.Int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, quoter Quoter, creds Credentials, bus *Bus, logger zerolog.Logger) (*Poller, error) {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("marketdata: at least one symbol is required")
	}
	return &Poller{
		cfg:       cfg,
		quoter:    quoter,
		creds:     creds,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
		symbol:    cfg.Symbols[0],
		history:   NewHistory(cfg.HistorySize),
		positions: []model.Position{},
	}, nil
}

// Start launches the refresh loop. Calling it while the loop is running
// is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running() {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx, p.done)

	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Str("symbol", p.Symbol()).
		Msg("market poller started")
	return nil
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.running()
}

func (p *Poller) running() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("market poller stopped")
			return
		case <-timer.C:
		}
		if _, err := p.Cycle(ctx); errors.Is(err, ErrNoCredential) {
			p.logger.Info().Msg("session ended, market poller stopping")
			return
		}
		timer.Reset(p.cfg.Interval)
	}
}

// Cycle runs one full pass: quote, then positions, then a published frame.
// A failed quote or a zero price leaves the history untouched.
func (p *Poller) Cycle(ctx context.Context) (Frame, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	if _, ok := p.creds.Token(); !ok {
		return p.Frame(), ErrNoCredential
	}

	symbol := p.Symbol()
	price, err := p.FetchQuote(ctx, symbol)
	if err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("quote skipped")
	} else if price.IsZero() {
		p.logger.Debug().Str("symbol", symbol).Msg("zero price skipped")
	} else {
		p.mu.Lock()
		if p.symbol == symbol {
			p.history.Record(price, p.now().UTC())
		}
		p.mu.Unlock()
	}

	positions := p.FetchPositions(ctx)
	p.mu.Lock()
	p.positions = positions
	p.mu.Unlock()

	p.cycles.Add(1)
	frame := p.Frame()
	if p.bus != nil {
		p.bus.Publish(Event{Type: EventFrame, Data: frame})
	}
	p.logger.Debug().
		Int64("cycle", frame.Cycle).
		Str("symbol", symbol).
		Int("samples", len(frame.Samples)).
		Int("positions", len(positions)).
		Msg("poll cycle complete")
	return frame, nil
}

// Refresh runs a pass right away, outside the timer.
func (p *Poller) Refresh(ctx context.Context) (Frame, error) {
	return p.Cycle(ctx)
}

// FetchQuote makes one authenticated last-traded-price call.
func (p *Poller) FetchQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	token, ok := p.creds.Token()
	if !ok {
		return decimal.Zero, &broker.FetchError{Op: "ltp", Symbol: symbol, Err: ErrNoCredential}
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	price, err := p.quoter.FetchLTP(ctx, token, symbol)
	if err != nil {
		var fe *broker.FetchError
		if errors.As(err, &fe) {
			return decimal.Zero, err
		}
		return decimal.Zero, &broker.FetchError{Op: "ltp", Symbol: symbol, Err: err}
	}
	return price, nil
}

// FetchPositions never fails: any error yields an empty list.
func (p *Poller) FetchPositions(ctx context.Context) []model.Position {
	token, ok := p.creds.Token()
	if !ok {
		return []model.Position{}
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	positions, err := p.quoter.FetchPositions(ctx, token)
	if err != nil {
		p.logger.Warn().Err(err).Msg("positions unavailable")
		return []model.Position{}
	}
	if positions == nil {
		return []model.Position{}
	}
	return positions
}

// Select switches the instrument. The history belongs to one symbol, so
// it starts over.
func (p *Poller) Select(symbol string) error {
	if !slices.Contains(p.cfg.Symbols, symbol) {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.symbol == symbol {
		return nil
	}
	p.symbol = symbol
	p.history.Reset()
	p.logger.Info().Str("symbol", symbol).Msg("symbol selected")
	return nil
}

func (p *Poller) Symbol() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.symbol
}

func (p *Poller) Symbols() []string {
	return slices.Clone(p.cfg.Symbols)
}

// LastPrice is the most recent sample for the selected symbol.
func (p *Poller) LastPrice() (decimal.Decimal, bool) {
	latest := p.history.Latest()
	if latest.IsNone() {
		return decimal.Zero, false
	}
	return latest.Unwrap().Price, true
}

func (p *Poller) Cycles() int64 {
	return p.cycles.Load()
}

func (p *Poller) Positions() []model.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.positions)
}

// Frame renders the current state without touching the broker.
func (p *Poller) Frame() Frame {
	p.mu.RLock()
	defer p.mu.RUnlock()

	f := Frame{
		Symbol:     p.symbol,
		Symbols:    slices.Clone(p.cfg.Symbols),
		Samples:    p.history.Samples(),
		Positions:  slices.Clone(p.positions),
		Cycle:      p.cycles.Load(),
		RenderedAt: p.now().UTC(),
	}
	if latest := p.history.Latest(); latest.IsSome() {
		price := latest.Unwrap().Price
		f.LastPrice = &price
	}
	if change := p.history.Change(); change.IsSome() {
		c := change.Unwrap()
		f.Change = &c
	}
	return f
}
