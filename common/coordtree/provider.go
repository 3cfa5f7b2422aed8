/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package coordtree

import "context"

type Entry struct {
	Path string
	Data []byte
}

type Unlocker interface {
	Unlock(ctx context.Context) error
}

/*
Tree is a hierarchical, path addressed view of the coordination store.  Paths
are absolute, slash separated and never end in a slash.  The root "/" always
exists and can only be listed.

None of the operations retry internally.  A failed operation returns a
*CoordinationError wrapping one of ErrNoNode, ErrNodeExists, ErrNotEmpty,
ErrOperationTimeout, ErrAccessDenied or ErrRequestFailed.
*/
type Tree interface {
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Children(ctx context.Context, path string) ([]string, error)

	// Create writes a new node.  The parent must exist and the node must not.
	Create(ctx context.Context, path string, data []byte) error

	// CreateBatch creates all of the entries or none of them.
	CreateBatch(ctx context.Context, entries []Entry) error

	// CreateOrReplace removes any existing node at path along with all of its
	// descendants and writes a fresh node in its place.  This is destructive
	// and is reserved for full cluster resets.
	CreateOrReplace(ctx context.Context, path string, data []byte) error

	Delete(ctx context.Context, path string) error
	DeleteRecursive(ctx context.Context, path string) error

	// Lock acquires a named lock shared by every client of the tree.
	Lock(ctx context.Context, name string) (Unlocker, error)
}
