package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "mbobook/internal/domain/entity/marketdata"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const createSnapshotsTable = `
	CREATE TABLE IF NOT EXISTS order_book_snapshots (
		snapshot_id UUID PRIMARY KEY,
		symbol      VARCHAR(64) NOT NULL,
		snapshot_at TIMESTAMPTZ NOT NULL,
		depth       INTEGER NOT NULL,
		bids        JSONB NOT NULL,
		asks        JSONB NOT NULL,
		metadata    JSONB
	);
	CREATE INDEX IF NOT EXISTS order_book_snapshots_symbol_depth_at
		ON order_book_snapshots (symbol, depth, snapshot_at DESC)`

// EnsureSchema creates the snapshot table when it does not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createSnapshotsTable); err != nil {
		return fmt.Errorf("create order_book_snapshots: %w", err)
	}
	return nil
}

const insertOrderBookQuery = `
	INSERT INTO order_book_snapshots (
		snapshot_id, symbol, snapshot_at, depth, bids, asks, metadata
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

var snapshotColumns = []string{
	"snapshot_id",
	"symbol",
	"snapshot_at",
	"depth",
	"bids",
	"asks",
	"metadata",
}

func (r *Repository) AddOrderBookSnapshot(ctx context.Context, snapshot *domain.OrderBookSnapshot) error {
	if snapshot == nil {
		return errors.New("nil order book snapshot")
	}
	row, err := snapshotRow(snapshot)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, insertOrderBookQuery, row...)
	return err
}

func (r *Repository) AddOrderBookSnapshots(ctx context.Context, snapshots []domain.OrderBookSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(snapshots))
	for i := range snapshots {
		row, err := snapshotRow(&snapshots[i])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"order_book_snapshots"},
		snapshotColumns,
		pgx.CopyFromRows(rows),
	)
	return err
}

func (r *Repository) GetOrderBookSnapshotsBetween(ctx context.Context, symbol string, from, to time.Time, depth int32) ([]domain.OrderBookSnapshot, error) {
	const query = `
		SELECT snapshot_id, symbol, snapshot_at, depth, bids, asks, metadata
		FROM order_book_snapshots
		WHERE symbol=$1
		  AND depth=$2
		  AND snapshot_at >= $3
		  AND snapshot_at <= $4
		ORDER BY snapshot_at ASC`
	rows, err := r.pool.Query(ctx, query, symbol, depth, from, to)
	if err != nil {
		return nil, err
	}
	return collectSnapshots(rows)
}

func (r *Repository) GetLastOrderBookSnapshots(ctx context.Context, symbol string, depth int32, limit int) ([]domain.OrderBookSnapshot, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	const query = `
		SELECT snapshot_id, symbol, snapshot_at, depth, bids, asks, metadata
		FROM order_book_snapshots
		WHERE symbol=$1 AND depth=$2
		ORDER BY snapshot_at DESC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, query, symbol, depth, limit)
	if err != nil {
		return nil, err
	}
	return collectSnapshots(rows)
}

func collectSnapshots(rows pgx.Rows) ([]domain.OrderBookSnapshot, error) {
	defer rows.Close()

	var snapshots []domain.OrderBookSnapshot
	for rows.Next() {
		snapshot, err := scanOrderBook(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func snapshotRow(snapshot *domain.OrderBookSnapshot) ([]interface{}, error) {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	bidsJSON, err := marshalLevels(snapshot.Bids)
	if err != nil {
		return nil, err
	}
	asksJSON, err := marshalLevels(snapshot.Asks)
	if err != nil {
		return nil, err
	}
	meta, err := marshalJSON(snapshot.Metadata)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		snapshot.ID,
		snapshot.Symbol,
		snapshot.SnapshotAt,
		snapshot.Depth,
		bidsJSON,
		asksJSON,
		meta,
	}, nil
}

func scanOrderBook(row pgx.Row) (domain.OrderBookSnapshot, error) {
	var (
		bidsJSON []byte
		asksJSON []byte
		metaJSON []byte
	)
	snapshot := domain.OrderBookSnapshot{}
	err := row.Scan(
		&snapshot.ID,
		&snapshot.Symbol,
		&snapshot.SnapshotAt,
		&snapshot.Depth,
		&bidsJSON,
		&asksJSON,
		&metaJSON,
	)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	if err := json.Unmarshal(bidsJSON, &snapshot.Bids); err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	if err := json.Unmarshal(asksJSON, &snapshot.Asks); err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	snapshot.Metadata = meta
	return snapshot, nil
}

// Helpers

// marshalLevels never yields SQL NULL; bids/asks columns are NOT NULL.
func marshalLevels(levels []domain.OrderBookLevel) ([]byte, error) {
	if levels == nil {
		levels = []domain.OrderBookLevel{}
	}
	return json.Marshal(levels)
}

func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
