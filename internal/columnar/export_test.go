package columnar

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// CountRows reports how many rows of table belong to appID.
func CountRows(t *testing.T, c *ClickHouse, table string, appID uuid.UUID) uint64 {
	t.Helper()
	var n uint64
	err := c.conn.QueryRow(context.Background(), "SELECT count() FROM "+table+" WHERE application_id = ?", appID).Scan(&n)
	require.NoError(t, err)
	return n
}
