package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DefaultBatchSize is the number of statements queued per pgx batch round trip
const DefaultBatchSize = 500

// batchSender is satisfied by both *pgxpool.Pool and pgx.Tx
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// sendInChunks queues n statements through queue in chunks of size and returns
// the total rows affected. It stops at the first failing statement.
func sendInChunks(ctx context.Context, db batchSender, n, size int, queue func(b *pgx.Batch, i int)) (int, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}

	total := 0
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}

		b := &pgx.Batch{}
		for i := start; i < end; i++ {
			queue(b, i)
		}

		br := db.SendBatch(ctx, b)
		for k := 0; k < b.Len(); k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, fmt.Errorf("batch statement %d failed: %w", start+k, err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, fmt.Errorf("failed to close batch: %w", err)
		}
	}
	return total, nil
}
