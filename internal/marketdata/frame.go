package marketdata

import (
	"time"

	"algodesk/internal/model"

	"github.com/shopspring/decimal"
)

// Frame is one rendered snapshot of the dashboard. LastPrice and Change
// stay nil until the history has enough samples.
type Frame struct {
	Symbol     string              `json:"symbol"`
	Symbols    []string            `json:"symbols"`
	LastPrice  *decimal.Decimal    `json:"last_price,omitempty"`
	Change     *model.Change       `json:"change,omitempty"`
	Samples    []model.PriceSample `json:"samples"`
	Positions  []model.Position    `json:"positions"`
	Cycle      int64               `json:"cycle"`
	RenderedAt time.Time           `json:"rendered_at"`
}

// Direction is "up", "down" or "flat" for the change arrow.
func (f Frame) Direction() string {
	if f.Change == nil {
		return "flat"
	}
	switch f.Change.Delta.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	}
	return "flat"
}
