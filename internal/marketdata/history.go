package marketdata

import (
	"sync"
	"time"

	"algodesk/internal/model"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// History is a fixed-capacity ring of price samples. Once full, each new
// sample evicts the oldest one.
type History struct {
	mu    sync.RWMutex
	buf   []model.PriceSample
	start int
	n     int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]model.PriceSample, capacity)}
}

func (h *History) Cap() int { return len(h.buf) }

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

func (h *History) Record(price decimal.Decimal, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := model.PriceSample{At: at, Price: price}
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Samples returns a copy, oldest first.
func (h *History) Samples() []model.PriceSample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.PriceSample, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) Latest() optional.Option[model.PriceSample] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return optional.None[model.PriceSample]()
	}
	return optional.Some(h.at(h.n - 1))
}

// Change compares the latest sample with the one before it. It is None
// until two samples exist, which is different from a zero change. Pct is
// zero when the previous price is zero.
func (h *History) Change() optional.Option[model.Change] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n < 2 {
		return optional.None[model.Change]()
	}
	latest := h.at(h.n - 1).Price
	previous := h.at(h.n - 2).Price
	delta := latest.Sub(previous)
	pct := decimal.Zero
	if !previous.IsZero() {
		pct = delta.Div(previous).Mul(hundred)
	}
	return optional.Some(model.Change{Delta: delta, Pct: pct})
}

func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start = 0
	h.n = 0
	clear(h.buf)
}

func (h *History) at(i int) model.PriceSample {
	return h.buf[(h.start+i)%len(h.buf)]
}
