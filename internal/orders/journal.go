package orders

import (
	"context"

	"algodesk/internal/model"
)

const defaultRecent = 20

// Journal is an append-only record of acknowledged tickets.
type Journal interface {
	Record(ctx context.Context, ack model.OrderAck) error
	Recent(ctx context.Context, limit int) ([]model.OrderAck, error)
	Close() error
}

type NoopJournal struct{}

func (NoopJournal) Record(context.Context, model.OrderAck) error { return nil }

func (NoopJournal) Recent(context.Context, int) ([]model.OrderAck, error) {
	return []model.OrderAck{}, nil
}

func (NoopJournal) Close() error { return nil }

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecent
	}
	if limit > 500 {
		return 500
	}
	return limit
}
