// Package partition splits an ordered sequence into contiguous chunks, one
// per resource.
package partition

import (
	"fmt"

	"github.com/dante-gpu/dante-sweep/internal/models"
)

// ChunkSize returns ceil(total/n), the length of every non-tail partition.
func ChunkSize(total, n int) int {
	if n < 1 {
		return 0
	}
	return (total + n - 1) / n
}

// Split returns exactly n contiguous partitions of items. Partitions are
// front-loaded: each takes ChunkSize(len(items), n) items until the input
// runs out, so trailing partitions may be short or empty (7 over 3 gives
// 3,3,1). The partitions share the backing array of items.
func Split[T any](items []T, n int) ([][]T, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: cannot split %d items across %d resources", models.ErrNoResourcesAvailable, len(items), n)
	}

	chunk := ChunkSize(len(items), n)
	parts := make([][]T, n)
	for i := range parts {
		start := min(i*chunk, len(items))
		end := min(start+chunk, len(items))
		parts[i] = items[start:end:end]
	}
	return parts, nil
}
