/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package coordtree

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

type inProcNode struct {
	data     []byte
	children map[string]*inProcNode
}

func newInProcNode(data []byte) *inProcNode {
	return &inProcNode{
		data:     slices.Clone(data),
		children: make(map[string]*inProcNode),
	}
}

// InProcTree is an in-memory Tree.  It is safe for concurrent use and
// behaves like the etcd backed tree, including the lock semantics, which
// makes it suitable for tests and single process tooling.
type InProcTree struct {
	lock  sync.Mutex
	root  *inProcNode
	locks map[string]chan struct{}

	// writes counts every successful mutation, tests use it to assert that a
	// failed operation left the tree untouched.
	writes uint64
}

var _ Tree = (*InProcTree)(nil)

func NewInProcTree() *InProcTree {
	return &InProcTree{
		root:  newInProcNode(nil),
		locks: make(map[string]chan struct{}),
	}
}

func (t *InProcTree) Writes() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.writes
}

func (t *InProcTree) findLocked(path string) *inProcNode {
	if path == "/" {
		return t.root
	}

	node := t.root
	for _, part := range strings.Split(path[1:], "/") {
		node = node.children[part]
		if node == nil {
			return nil
		}
	}
	return node
}

func baseOf(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

func (t *InProcTree) Exists(ctx context.Context, path string) (bool, error) {
	if !validatePath(path) {
		return false, newError("exists", path, ErrInvalidPath)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	return t.findLocked(path) != nil, nil
}

func (t *InProcTree) Get(ctx context.Context, path string) ([]byte, error) {
	if !validatePath(path) {
		return nil, newError("get", path, ErrInvalidPath)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	node := t.findLocked(path)
	if node == nil {
		return nil, newError("get", path, ErrNoNode)
	}

	return slices.Clone(node.data), nil
}

func (t *InProcTree) Children(ctx context.Context, path string) ([]string, error) {
	if path != "/" && !validatePath(path) {
		return nil, newError("children", path, ErrInvalidPath)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	node := t.findLocked(path)
	if node == nil {
		return nil, newError("children", path, ErrNoNode)
	}

	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sortChildren(names)
	return names, nil
}

func (t *InProcTree) createLocked(op, path string, data []byte) error {
	parent := t.findLocked(parentOf(path))
	if parent == nil {
		return newError(op, path, ErrNoNode)
	}

	name := baseOf(path)
	if parent.children[name] != nil {
		return newError(op, path, ErrNodeExists)
	}

	parent.children[name] = newInProcNode(data)
	return nil
}

func (t *InProcTree) Create(ctx context.Context, path string, data []byte) error {
	if !validatePath(path) {
		return newError("create", path, ErrInvalidPath)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	err := t.createLocked("create", path, data)
	if err != nil {
		return err
	}

	t.writes++
	return nil
}

func (t *InProcTree) CreateBatch(ctx context.Context, entries []Entry) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if !validatePath(entry.Path) {
			return newError("create-batch", entry.Path, ErrInvalidPath)
		}
		if _, ok := seen[entry.Path]; ok {
			return newError("create-batch", entry.Path, ErrNodeExists)
		}
		seen[entry.Path] = struct{}{}

		if t.findLocked(parentOf(entry.Path)) == nil {
			return newError("create-batch", entry.Path, ErrNoNode)
		}
		if t.findLocked(entry.Path) != nil {
			return newError("create-batch", entry.Path, ErrNodeExists)
		}
	}

	for _, entry := range entries {
		err := t.createLocked("create-batch", entry.Path, entry.Data)
		if err != nil {
			// validated above, this cannot happen while the lock is held
			panic(err)
		}
	}

	t.writes++
	return nil
}

func (t *InProcTree) CreateOrReplace(ctx context.Context, path string, data []byte) error {
	if !validatePath(path) {
		return newError("create-or-replace", path, ErrInvalidPath)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	parent := t.findLocked(parentOf(path))
	if parent == nil {
		return newError("create-or-replace", path, ErrNoNode)
	}

	parent.children[baseOf(path)] = newInProcNode(data)
	t.writes++
	return nil
}

func (t *InProcTree) Delete(ctx context.Context, path string) error {
	if !validatePath(path) {
		return newError("delete", path, ErrInvalidPath)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	node := t.findLocked(path)
	if node == nil {
		return newError("delete", path, ErrNoNode)
	}
	if len(node.children) > 0 {
		return newError("delete", path, ErrNotEmpty)
	}

	delete(t.findLocked(parentOf(path)).children, baseOf(path))
	t.writes++
	return nil
}

func (t *InProcTree) DeleteRecursive(ctx context.Context, path string) error {
	if !validatePath(path) {
		return newError("delete-recursive", path, ErrInvalidPath)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.findLocked(path) == nil {
		return newError("delete-recursive", path, ErrNoNode)
	}

	delete(t.findLocked(parentOf(path)).children, baseOf(path))
	t.writes++
	return nil
}

type inProcUnlocker struct {
	ch chan struct{}
}

func (u *inProcUnlocker) Unlock(ctx context.Context) error {
	<-u.ch
	return nil
}

func (t *InProcTree) Lock(ctx context.Context, name string) (Unlocker, error) {
	t.lock.Lock()
	ch := t.locks[name]
	if ch == nil {
		ch = make(chan struct{}, 1)
		t.locks[name] = ch
	}
	t.lock.Unlock()

	select {
	case ch <- struct{}{}:
		return &inProcUnlocker{ch: ch}, nil
	case <-ctx.Done():
		return nil, &CoordinationError{
			Op:    "lock",
			Path:  LockRoot + "/" + name,
			Err:   ErrOperationTimeout,
			Cause: ctx.Err(),
		}
	}
}
