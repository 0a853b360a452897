package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceSample struct {
	At    time.Time       `json:"time"`
	Price decimal.Decimal `json:"price"`
}

// Change compares the two most recent samples.
type Change struct {
	Delta decimal.Decimal `json:"delta"`
	Pct   decimal.Decimal `json:"pct"`
}

// Position is one broker-reported portfolio row.
type Position struct {
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	LastPrice decimal.Decimal `json:"last_price"`
	PnL       decimal.Decimal `json:"pnl"`
}
