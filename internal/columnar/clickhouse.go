// Package columnar writes telemetry rows to ClickHouse.
package columnar

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

const (
	TableLogs        = "logs"
	TableMetrics     = "metrics"
	TableSpans       = "spans"
	TablePerformance = "performance"
)

// ClickHouse implements ingest.Sink over one shared native-protocol connection pool.
type ClickHouse struct {
	conn driver.Conn
}

// Connect opens a ClickHouse connection from a clickhouse:// or tcp:// DSN and pings it.
func Connect(ctx context.Context, dsn string) (*ClickHouse, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse DSN: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &ClickHouse{conn: conn}, nil
}

// New wraps an existing connection.
func New(conn driver.Conn) *ClickHouse {
	return &ClickHouse{conn: conn}
}

func (c *ClickHouse) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

func (c *ClickHouse) InsertLogs(ctx context.Context, rows []models.LogRecord) error {
	return insert(ctx, c.conn, TableLogs, rows)
}

func (c *ClickHouse) InsertMetrics(ctx context.Context, rows []models.MetricSample) error {
	return insert(ctx, c.conn, TableMetrics, rows)
}

func (c *ClickHouse) InsertSpans(ctx context.Context, rows []models.Span) error {
	return insert(ctx, c.conn, TableSpans, rows)
}

func (c *ClickHouse) InsertPerformance(ctx context.Context, rows []models.PerformanceSample) error {
	return insert(ctx, c.conn, TablePerformance, rows)
}

// insert sends rows as a single native batch. Nothing is written unless Send succeeds.
func insert[T any](ctx context.Context, conn driver.Conn, table string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", table, err)
	}
	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append %s row: %w", table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send %s batch: %w", table, err)
	}
	return nil
}
