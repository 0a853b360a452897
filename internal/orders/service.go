package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"algodesk/internal/model"
	"algodesk/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PriceSource supplies the selected instrument and its last price for
// form defaults.
type PriceSource interface {
	Symbol() string
	LastPrice() (decimal.Decimal, bool)
}

// Service acknowledges order tickets locally. Nothing is sent to the
// broker.
type Service struct {
	prices  PriceSource
	journal Journal
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(prices PriceSource, journal Journal, logger zerolog.Logger) *Service {
	if journal == nil {
		journal = NoopJournal{}
	}
	return &Service{prices: prices, journal: journal, logger: logger, now: time.Now}
}

// Preview fills form defaults and validates. The side may still be empty.
func (s *Service) Preview(t Ticket) (Ticket, error) {
	s.fillDefaults(&t)
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (s *Service) Place(ctx context.Context, t Ticket) (model.OrderAck, error) {
	t, err := s.Preview(t)
	if err != nil {
		return model.OrderAck{}, err
	}
	if t.Side == "" {
		return model.OrderAck{}, fmt.Errorf("%w: side is required", ErrInvalidTicket)
	}

	ack := model.OrderAck{
		ID:         uuid.NewString(),
		Symbol:     t.Symbol,
		Side:       t.Side,
		Type:       t.Type,
		Quantity:   t.Quantity,
		LimitPrice: t.LimitPrice,
		Message:    ackMessage(t.Side),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.journal.Record(ctx, ack); err != nil {
		s.logger.Error().Err(err).Str("order_id", ack.ID).Msg("journal order ack")
	}
	s.logger.Info().
		Str("order_id", ack.ID).
		Str("symbol", ack.Symbol).
		Str("side", string(ack.Side)).
		Str("type", string(ack.Type)).
		Int64("quantity", ack.Quantity).
		Msg("order acknowledged")
	return ack, nil
}

func (s *Service) Recent(ctx context.Context, limit int) ([]model.OrderAck, error) {
	return s.journal.Recent(ctx, limit)
}

func (s *Service) fillDefaults(t *Ticket) {
	t.Symbol = strings.TrimSpace(t.Symbol)
	if t.Symbol == "" && s.prices != nil {
		t.Symbol = s.prices.Symbol()
	}
	t.Side = types.OrderSide(strings.ToUpper(strings.TrimSpace(string(t.Side))))
	t.Type = types.OrderType(strings.ToUpper(strings.TrimSpace(string(t.Type))))
	if t.Type == "" {
		t.Type = types.OrderTypeMarket
	}
	if t.Quantity == 0 {
		t.Quantity = 1
	}
	if t.Type == types.OrderTypeLimit && t.LimitPrice == nil {
		p := s.defaultLimitPrice()
		t.LimitPrice = &p
	}
}

// defaultLimitPrice is the last traded price when one is known, never below
// the minimum tick.
func (s *Service) defaultLimitPrice() decimal.Decimal {
	if s.prices == nil {
		return minLimitPrice
	}
	last, ok := s.prices.LastPrice()
	if !ok {
		return minLimitPrice
	}
	last = last.Round(2)
	if last.LessThan(minLimitPrice) {
		return minLimitPrice
	}
	return last
}

func ackMessage(side types.OrderSide) string {
	if side == types.OrderSideSell {
		return "Sell order placed successfully!"
	}
	return "Buy order placed successfully!"
}
