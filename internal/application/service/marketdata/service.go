package marketdata

import (
	"context"
	"errors"
	"strings"
	"time"

	marketdata "mbobook/internal/domain/entity/marketdata"
	interfaces "mbobook/internal/domain/interfaces"
)

var (
	ErrNilOrderBook  = errors.New("order book snapshot is nil")
	ErrInvalidLimit  = errors.New("limit must be positive")
	ErrInvalidDepth  = errors.New("depth must not be negative")
	ErrMissingSymbol = errors.New("symbol is required")
)

type Service struct {
	repo interfaces.SnapshotRepository
}

func NewService(repo interfaces.SnapshotRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) AddOrderBookSnapshot(ctx context.Context, snapshot *marketdata.OrderBookSnapshot) error {
	if snapshot == nil {
		return ErrNilOrderBook
	}
	return s.repo.AddOrderBookSnapshot(ctx, snapshot)
}

func (s *Service) AddOrderBookSnapshots(ctx context.Context, snapshots []marketdata.OrderBookSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return s.repo.AddOrderBookSnapshots(ctx, snapshots)
}

func (s *Service) GetOrderBookSnapshotsBetween(ctx context.Context, symbol string, depth int32, from, to time.Time) ([]marketdata.OrderBookSnapshot, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, ErrMissingSymbol
	}
	if depth < 0 {
		return nil, ErrInvalidDepth
	}
	if from.After(to) {
		from, to = to, from
	}
	return s.repo.GetOrderBookSnapshotsBetween(ctx, symbol, from, to, depth)
}

func (s *Service) GetLastOrderBookSnapshots(ctx context.Context, symbol string, depth int32, limit int) ([]marketdata.OrderBookSnapshot, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, ErrMissingSymbol
	}
	if depth < 0 {
		return nil, ErrInvalidDepth
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	return s.repo.GetLastOrderBookSnapshots(ctx, symbol, depth, limit)
}

func (s *Service) Close() {
	s.repo.Close()
}
