package export

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/orderexport_backend/models"
)

// OrderSource is the read-only order store contract the pipeline consumes.
// models.GormOrderSource is the production implementation; tests use fakes.
type OrderSource interface {
	// LoadOrder returns the order with line items and item meta preloaded.
	LoadOrder(ctx context.Context, id int) (*models.Order, error)
	// OrderIdsCreatedBetween returns ids of orders created in [from, to].
	OrderIdsCreatedBetween(ctx context.Context, from, to time.Time) ([]int, error)
	// DistinctLineItemMetaKeys returns every distinct meta key attached to
	// any line item. Expensive full scan; used only by the field catalog.
	DistinctLineItemMetaKeys(ctx context.Context) ([]string, error)
}
