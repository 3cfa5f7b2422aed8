package coordinator

import (
	"fmt"

	"github.com/couchbase/stellar-slotmap/common/nodeconfig"
	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/pkg/errors"
)

var (
	ErrConfigParse      = nodeconfig.ErrConfigParse
	ErrDuplicateNode    = errors.New("node endpoint already registered")
	ErrUnreachable      = errors.New("node endpoint unreachable")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotInitialized   = errors.New("cluster has not been initialized")
	ErrTooManyGroups    = errors.New("too many node groups in a single request")
)

// StoreError reports a failed call to a storage node.  It matches both
// ErrStoreUnavailable and the underlying client error.
type StoreError struct {
	Op       string
	Endpoint topology.Endpoint
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s on %s failed: %s", e.Op, e.Endpoint, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}
