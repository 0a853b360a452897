package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"algodesk/internal/broker"
	"algodesk/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuoter struct {
	mu           sync.Mutex
	prices       []decimal.Decimal
	quoteErr     error
	positions    []model.Position
	positionsErr error
	quoteCalls   int
	posCalls     int
	symbols      []string
}

func (f *fakeQuoter) FetchLTP(ctx context.Context, token, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	f.symbols = append(f.symbols, symbol)
	if f.quoteErr != nil {
		return decimal.Zero, f.quoteErr
	}
	if len(f.prices) == 0 {
		return decimal.NewFromInt(100), nil
	}
	p := f.prices[0]
	f.prices = f.prices[1:]
	return p, nil
}

func (f *fakeQuoter) FetchPositions(ctx context.Context, token string) ([]model.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posCalls++
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return f.positions, nil
}

type fakeCreds struct {
	held atomic.Bool
}

func (c *fakeCreds) Token() (string, bool) {
	if !c.held.Load() {
		return "", false
	}
	return "tok", true
}

var testSymbols = []string{"NSE:RELIANCE", "NSE:TCS"}

func newTestPoller(t *testing.T, q *fakeQuoter, bus *Bus) (*Poller, *fakeCreds) {
	t.Helper()
	creds := &fakeCreds{}
	creds.held.Store(true)
	p, err := New(Config{Interval: 10 * time.Millisecond, Symbols: testSymbols, HistorySize: 100}, q, creds, bus, zerolog.Nop())
	require.NoError(t, err)
	return p, creds
}

func TestNew_RequiresSymbols(t *testing.T) {
	_, err := New(Config{}, &fakeQuoter{}, &fakeCreds{}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestCycle_RecordsAndPublishes(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	q := &fakeQuoter{
		prices:    []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(102)},
		positions: []model.Position{{Symbol: "NSE:TCS", Quantity: 5}},
	}
	p, _ := newTestPoller(t, q, bus)

	_, err := p.Cycle(context.Background())
	require.NoError(t, err)
	frame, err := p.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), frame.Cycle)
	assert.Equal(t, "NSE:RELIANCE", frame.Symbol)
	require.NotNil(t, frame.LastPrice)
	assert.True(t, frame.LastPrice.Equal(decimal.NewFromInt(102)))
	require.NotNil(t, frame.Change)
	assert.True(t, frame.Change.Delta.Equal(decimal.NewFromInt(2)))
	assert.True(t, frame.Change.Pct.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "up", frame.Direction())
	assert.Len(t, frame.Samples, 2)
	assert.Len(t, frame.Positions, 1)

	evt := <-sub
	assert.Equal(t, EventFrame, evt.Type)
	assert.Equal(t, int64(1), evt.Data.(Frame).Cycle)
}

func TestCycle_QuoteFailureSkipsUpdate(t *testing.T) {
	q := &fakeQuoter{}
	p, _ := newTestPoller(t, q, nil)

	_, err := p.Cycle(context.Background())
	require.NoError(t, err)

	q.quoteErr = errors.New("connection reset")
	frame, err := p.Cycle(context.Background())
	require.NoError(t, err)

	assert.Len(t, frame.Samples, 1)
	assert.Nil(t, frame.Change, "one sample is not a change")
	assert.Equal(t, 2, q.posCalls, "positions are still refreshed")
}

func TestCycle_ZeroPriceIsNotRecorded(t *testing.T) {
	q := &fakeQuoter{prices: []decimal.Decimal{decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(101)}}
	p, _ := newTestPoller(t, q, nil)

	for i := 0; i < 3; i++ {
		_, err := p.Cycle(context.Background())
		require.NoError(t, err)
	}
	frame := p.Frame()
	require.Len(t, frame.Samples, 2)
	assert.True(t, frame.Samples[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, frame.Samples[1].Price.Equal(decimal.NewFromInt(101)))
	assert.Equal(t, int64(3), frame.Cycle)
}

func TestFetchQuote_WrapsFetchError(t *testing.T) {
	q := &fakeQuoter{quoteErr: errors.New("timeout")}
	p, _ := newTestPoller(t, q, nil)

	_, err := p.FetchQuote(context.Background(), "NSE:TCS")
	var fe *broker.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "NSE:TCS", fe.Symbol)
}

func TestFetchPositions_FailureIsEmpty(t *testing.T) {
	q := &fakeQuoter{positionsErr: &broker.FetchError{Op: "positions", Err: errors.New("500")}}
	p, _ := newTestPoller(t, q, nil)

	got := p.FetchPositions(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCycle_NoCredential(t *testing.T) {
	q := &fakeQuoter{}
	p, creds := newTestPoller(t, q, nil)
	creds.held.Store(false)

	_, err := p.Cycle(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Zero(t, q.quoteCalls)
	assert.Zero(t, q.posCalls)
	assert.Zero(t, p.Cycles())
}

func TestSelect(t *testing.T) {
	q := &fakeQuoter{}
	p, _ := newTestPoller(t, q, nil)
	_, err := p.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Frame().Samples, 1)

	assert.ErrorIs(t, p.Select("NSE:NOPE"), ErrUnknownSymbol)
	assert.Equal(t, "NSE:RELIANCE", p.Symbol())

	require.NoError(t, p.Select("NSE:TCS"))
	assert.Equal(t, "NSE:TCS", p.Symbol())
	assert.Empty(t, p.Frame().Samples, "history starts over for a new symbol")

	_, err = p.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NSE:TCS", q.symbols[len(q.symbols)-1])
}

func TestStartStop(t *testing.T) {
	q := &fakeQuoter{}
	p, _ := newTestPoller(t, q, nil)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()), "second start is a no-op")
	assert.True(t, p.Running())

	require.Eventually(t, func() bool { return p.Cycles() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.Running())

	stopped := p.Cycles()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, p.Cycles(), "no cycles after stop")

	require.NoError(t, p.Start(context.Background()), "restart after stop")
	require.Eventually(t, func() bool { return p.Cycles() > stopped }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(ctx))
}

func TestLoopEndsWithSession(t *testing.T) {
	q := &fakeQuoter{}
	p, creds := newTestPoller(t, q, nil)
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Cycles() >= 1 }, 2*time.Second, 5*time.Millisecond)

	creds.held.Store(false)
	require.Eventually(t, func() bool { return !p.Running() }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.Stop(ctx))
}

func TestStop_NeverStarted(t *testing.T) {
	p, _ := newTestPoller(t, &fakeQuoter{}, nil)
	assert.NoError(t, p.Stop(context.Background()))
}

type timedQuoter struct {
	mu     sync.Mutex
	delay  time.Duration
	starts []time.Time
	ends   []time.Time
}

func (q *timedQuoter) FetchLTP(ctx context.Context, token, symbol string) (decimal.Decimal, error) {
	q.mu.Lock()
	q.starts = append(q.starts, time.Now())
	q.mu.Unlock()
	time.Sleep(q.delay)
	return decimal.NewFromInt(100), nil
}

func (q *timedQuoter) FetchPositions(ctx context.Context, token string) ([]model.Position, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ends = append(q.ends, time.Now())
	return nil, nil
}

func (q *timedQuoter) passes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ends)
}

func TestLoopWaitsAfterEachPass(t *testing.T) {
	const interval = 40 * time.Millisecond
	q := &timedQuoter{delay: 30 * time.Millisecond}
	creds := &fakeCreds{}
	creds.held.Store(true)
	p, err := New(Config{Interval: interval, Symbols: testSymbols}, q, creds, nil, zerolog.Nop())
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return q.passes() >= 4 }, 3*time.Second, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Less(t, q.starts[0].Sub(started), interval, "first pass runs right away")
	for i := 1; i < len(q.starts) && i < len(q.ends); i++ {
		gap := q.starts[i].Sub(q.ends[i-1])
		assert.GreaterOrEqual(t, gap, interval, "pass %d began %s after the previous one ended", i, gap)
	}
}
