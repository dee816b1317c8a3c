package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/root-talis/rensa/revision"
)

// Driver applies revisions to one concrete database and keeps the applied
// state there: a single-row current-revision marker plus an append-only
// revisions log. The driver itself holds no state between calls.
type Driver interface {
	// Current returns the id of the currently applied revision, or
	// revision.Root when nothing is applied yet.
	Current(ctx context.Context) (revision.ID, error)

	// ListRevisionsLog returns every upgrade and downgrade ever applied,
	// oldest first.
	ListRevisionsLog(ctx context.Context) (*[]revision.Log, error)

	// Apply runs one revision's ops in the given direction inside a single
	// transaction, moves the marker one link along the chain and appends to
	// the log. On any failure the whole transaction is rolled back.
	Apply(ctx context.Context, rev revision.Revision, dir revision.Direction) error
}

var ErrInvalidLogTable = errors.New("an error has occurred when reading log table")

// ---

// OperationError reports the exact operation the underlying store rejected.
type OperationError struct {
	Revision revision.ID
	Op       revision.Op
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf(
		"operation %s on %q failed while applying revision %s: %v",
		e.Op.Kind, e.Op.Table, e.Revision, e.Err,
	)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
