package columnar

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS logs (
		id                UUID,
		application_id    UUID,
		message           String,
		timestamp         DateTime64(3, 'UTC'),
		receive_timestamp DateTime64(3, 'UTC'),
		precise_timestamp Int64,
		level             LowCardinality(String),
		resources         String
	) ENGINE = MergeTree
	ORDER BY (application_id, timestamp)`,

	`CREATE TABLE IF NOT EXISTS metrics (
		id             UUID,
		application_id UUID,
		name           LowCardinality(String),
		value          Float64,
		timestamp      DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (application_id, name, timestamp)`,

	`CREATE TABLE IF NOT EXISTS spans (
		id                UUID,
		application_id    UUID,
		trace_id          String,
		span_id           String,
		parent_span_id    String,
		name              String,
		kind              LowCardinality(String),
		status            LowCardinality(String),
		status_message    String,
		service_name      LowCardinality(String),
		start_epoch_nanos Int64,
		end_epoch_nanos   Int64,
		duration          Float64,
		attributes        String,
		receive_timestamp DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (application_id, trace_id, start_epoch_nanos)`,

	`CREATE TABLE IF NOT EXISTS performance (
		id                UUID,
		application_id    UUID,
		name              LowCardinality(String),
		value             Float64,
		unit              LowCardinality(String),
		event             LowCardinality(String),
		health            LowCardinality(String),
		pathname          String,
		browser           String,
		timestamp         DateTime64(3, 'UTC'),
		receive_timestamp DateTime64(3, 'UTC')
	) ENGINE = MergeTree
	ORDER BY (application_id, name, timestamp)`,
}

// EnsureSchema creates the telemetry tables if they do not exist yet.
func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure clickhouse schema: %w", err)
		}
	}
	return nil
}
