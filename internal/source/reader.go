// Package source defines access to the application's source-of-truth data.
// The engine only reads: it projects source items into embeddable text and
// watches for changes, but never writes back.
package source

import (
	"context"
	"errors"

	"github.com/tripmesh/contextengine/pkg/models"
)

// ErrNotFound is returned by Get when the source item does not exist or has
// been deleted. Callers treat it as a deletion signal, not a failure.
var ErrNotFound = errors.New("source item not found")

// Change is one observed source mutation.
type Change struct {
	Ref     models.SourceRef
	Deleted bool
}

// Reader is the engine's read-only view of the source-of-truth datastore.
type Reader interface {
	// Get returns the live source item, or ErrNotFound when it no longer
	// exists. Tombstoned items are reported as ErrNotFound too.
	Get(ctx context.Context, ref models.SourceRef) (*models.SourceItem, error)

	// ListRefs returns the refs of all live items for a tenant.
	ListRefs(ctx context.Context, tenantID string) ([]models.SourceRef, error)

	// ListTenants returns every tenant id with at least one item, live or
	// tombstoned. Tombstones matter: the sweep needs to see tenants whose
	// last item was deleted.
	ListTenants(ctx context.Context) ([]string, error)

	// ChangedSince returns items changed after the given cursor (a
	// millisecond timestamp) and the new cursor. Redelivery is acceptable;
	// downstream handling is idempotent.
	ChangedSince(ctx context.Context, cursorMs int64) ([]Change, int64, error)

	// Close releases datastore resources.
	Close() error
}
