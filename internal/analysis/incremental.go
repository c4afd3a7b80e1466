package analysis

import (
	"context"
	"fmt"
	"log"
	"time"
)

// IncrementalAnalyzer provides base functionality for batched analysis
type IncrementalAnalyzer struct {
	*BaseAnalyzer
	BatchSize int // Number of records to process in each batch
}

// NewIncrementalAnalyzer creates a new incremental analyzer
func NewIncrementalAnalyzer(env *Env, name string, batchSize int) *IncrementalAnalyzer {
	if batchSize <= 0 {
		batchSize = 1000 // Default batch size
	}

	return &IncrementalAnalyzer{
		BaseAnalyzer: NewBaseAnalyzer(env, name),
		BatchSize:    batchSize,
	}
}

// BatchFunc processes up to limit records and reports how many it consumed
// and how many of those failed. Returning processed == 0 ends the run.
type BatchFunc func(ctx context.Context, limit int) (processed, failed int, err error)

// ProcessInBatches drives fn until total records are consumed, updating task
// progress after every batch. Per-record failures are counted, not fatal;
// an error from fn aborts the run.
func (a *IncrementalAnalyzer) ProcessInBatches(ctx context.Context, taskID int64, total int, fn BatchFunc) (processed, failed int, err error) {
	if err := a.UpdateTaskProgress(taskID, total, 0, 0); err != nil {
		return 0, 0, fmt.Errorf("failed to update progress: %w", err)
	}

	startTime := time.Now()
	for processed < total {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return processed, failed, ctx.Err()
		default:
		}

		n, f, err := fn(ctx, a.BatchSize)
		if err != nil {
			return processed, failed, err
		}
		if n == 0 {
			break
		}
		processed += n
		failed += f

		if err := a.UpdateTaskProgress(taskID, total, processed, failed); err != nil {
			return processed, failed, fmt.Errorf("failed to update progress: %w", err)
		}
		log.Printf("[%s] %d/%d processed (%d failed, %s elapsed)", a.Name, processed, total, failed, time.Since(startTime).Round(time.Millisecond))
	}

	return processed, failed, nil
}
