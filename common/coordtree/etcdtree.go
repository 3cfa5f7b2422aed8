package coordtree

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	etcd "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// etcd rejects transactions with more than 128 operations by default.
const MaxBatchEntries = 64

type EtcdTreeOptions struct {
	Logger     *zap.Logger
	EtcdClient *etcd.Client
	KeyPrefix  string
	OpTimeout  time.Duration
	LockTTL    time.Duration
}

// EtcdTree maps the tree onto etcd's flat keyspace.  Each tree node is a
// single key made of the prefix and the node path, the children of a node are
// the keys below `{path}/` with no further slash.
type EtcdTree struct {
	logger     *zap.Logger
	etcdClient *etcd.Client
	keyPrefix  string
	opTimeout  time.Duration
	lockTTL    time.Duration
}

var _ Tree = (*EtcdTree)(nil)

func NewEtcdTree(opts EtcdTreeOptions) (*EtcdTree, error) {
	if opts.EtcdClient == nil {
		return nil, errors.New("etcd client is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opTimeout := opts.OpTimeout
	if opTimeout == 0 {
		opTimeout = 10 * time.Second
	}

	lockTTL := opts.LockTTL
	if lockTTL == 0 {
		lockTTL = 30 * time.Second
	}

	return &EtcdTree{
		logger:     logger,
		etcdClient: opts.EtcdClient,
		keyPrefix:  strings.TrimSuffix(opts.KeyPrefix, "/"),
		opTimeout:  opTimeout,
		lockTTL:    lockTTL,
	}, nil
}

func (t *EtcdTree) key(path string) string {
	return t.keyPrefix + path
}

func (t *EtcdTree) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.opTimeout)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, rpctypes.ErrTimeout) ||
		errors.Is(err, rpctypes.ErrTimeoutDueToLeaderFail) ||
		errors.Is(err, rpctypes.ErrTimeoutDueToConnectionLost) {
		return true
	}

	switch status.Code(err) {
	case codes.DeadlineExceeded, codes.Unavailable:
		return true
	}

	return false
}

func isAccessDenied(err error) bool {
	if errors.Is(err, rpctypes.ErrPermissionDenied) ||
		errors.Is(err, rpctypes.ErrAuthFailed) ||
		errors.Is(err, rpctypes.ErrInvalidAuthToken) ||
		errors.Is(err, rpctypes.ErrUserEmpty) {
		return true
	}

	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return true
	}

	return false
}

// wrapErr converts a transport error into a CoordinationError, keeping the
// underlying error as the cause.
func (t *EtcdTree) wrapErr(op, path string, err error) error {
	kind := ErrRequestFailed
	switch {
	case isTimeout(err):
		kind = ErrOperationTimeout
	case isAccessDenied(err):
		kind = ErrAccessDenied
	default:
		t.logger.Debug("unexpected etcd error",
			zap.String("op", op),
			zap.String("path", path),
			zap.Error(err))
	}

	return &CoordinationError{
		Op:    op,
		Path:  path,
		Err:   kind,
		Cause: err,
	}
}

func (t *EtcdTree) parentExists(path string) []etcd.Cmp {
	parent := parentOf(path)
	if parent == "/" {
		return nil
	}
	return []etcd.Cmp{etcd.Compare(etcd.CreateRevision(t.key(parent)), ">", 0)}
}

func (t *EtcdTree) Exists(ctx context.Context, path string) (bool, error) {
	if !validatePath(path) {
		return false, newError("exists", path, ErrInvalidPath)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	resp, err := t.etcdClient.KV.Get(ctx, t.key(path), etcd.WithCountOnly())
	if err != nil {
		return false, t.wrapErr("exists", path, err)
	}

	return resp.Count > 0, nil
}

func (t *EtcdTree) Get(ctx context.Context, path string) ([]byte, error) {
	if !validatePath(path) {
		return nil, newError("get", path, ErrInvalidPath)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	resp, err := t.etcdClient.KV.Get(ctx, t.key(path))
	if err != nil {
		return nil, t.wrapErr("get", path, err)
	}

	if len(resp.Kvs) == 0 {
		return nil, newError("get", path, ErrNoNode)
	}

	return resp.Kvs[0].Value, nil
}

func (t *EtcdTree) Children(ctx context.Context, path string) ([]string, error) {
	if path != "/" && !validatePath(path) {
		return nil, newError("children", path, ErrInvalidPath)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	prefix := t.key(childPrefix(path))

	ops := []etcd.Op{
		etcd.OpGet(prefix, etcd.WithPrefix(), etcd.WithKeysOnly()),
	}
	if path != "/" {
		ops = append(ops, etcd.OpGet(t.key(path), etcd.WithCountOnly()))
	}

	// both reads happen in a single transaction so they observe the same revision
	resp, err := t.etcdClient.KV.Txn(ctx).Then(ops...).Commit()
	if err != nil {
		return nil, t.wrapErr("children", path, err)
	}

	if path != "/" && resp.Responses[1].GetResponseRange().Count == 0 {
		return nil, newError("children", path, ErrNoNode)
	}

	var names []string
	for _, kv := range resp.Responses[0].GetResponseRange().Kvs {
		name := string(kv.Key[len(prefix):])
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}

	sortChildren(names)
	return names, nil
}

func (t *EtcdTree) Create(ctx context.Context, path string, data []byte) error {
	return t.CreateBatch(ctx, []Entry{{Path: path, Data: data}})
}

func (t *EtcdTree) CreateBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	op := "create-batch"
	if len(entries) == 1 {
		op = "create"
	}

	if len(entries) > MaxBatchEntries {
		return newError(op, entries[0].Path, ErrBatchTooLarge)
	}

	var cmps []etcd.Cmp
	var puts []etcd.Op
	var checks []etcd.Op
	parents := make(map[string]struct{})
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if !validatePath(entry.Path) {
			return newError(op, entry.Path, ErrInvalidPath)
		}
		if _, ok := seen[entry.Path]; ok {
			return newError(op, entry.Path, ErrNodeExists)
		}
		seen[entry.Path] = struct{}{}

		if _, ok := parents[parentOf(entry.Path)]; !ok {
			parents[parentOf(entry.Path)] = struct{}{}
			cmps = append(cmps, t.parentExists(entry.Path)...)
		}

		cmps = append(cmps, etcd.Compare(etcd.CreateRevision(t.key(entry.Path)), "=", 0))
		puts = append(puts, etcd.OpPut(t.key(entry.Path), string(entry.Data)))
		checks = append(checks, etcd.OpGet(t.key(entry.Path), etcd.WithCountOnly()))
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	resp, err := t.etcdClient.KV.Txn(ctx).If(cmps...).Then(puts...).Else(checks...).Commit()
	if err != nil {
		return t.wrapErr(op, entries[0].Path, err)
	}

	if resp.Succeeded {
		return nil
	}

	// work out which of the conditions failed
	for i, entry := range entries {
		if resp.Responses[i].GetResponseRange().Count > 0 {
			return newError(op, entry.Path, ErrNodeExists)
		}
	}

	return newError(op, entries[0].Path, ErrNoNode)
}

func (t *EtcdTree) CreateOrReplace(ctx context.Context, path string, data []byte) error {
	if !validatePath(path) {
		return newError("create-or-replace", path, ErrInvalidPath)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	// etcd does not allow a delete and a put of the same key in a single
	// transaction, so the put overwrites the node and the delete only covers
	// its descendants.  Both apply at the same revision.
	resp, err := t.etcdClient.KV.Txn(ctx).
		If(t.parentExists(path)...).
		Then(
			etcd.OpDelete(t.key(childPrefix(path)), etcd.WithPrefix()),
			etcd.OpPut(t.key(path), string(data)),
		).
		Commit()
	if err != nil {
		return t.wrapErr("create-or-replace", path, err)
	}

	if !resp.Succeeded {
		return newError("create-or-replace", path, ErrNoNode)
	}

	removed := resp.Responses[0].GetResponseDeleteRange().Deleted
	if removed > 0 {
		t.logger.Debug("replaced node and removed descendants",
			zap.String("path", path),
			zap.Int64("removed", removed))
	}

	return nil
}

func (t *EtcdTree) Delete(ctx context.Context, path string) error {
	if !validatePath(path) {
		return newError("delete", path, ErrInvalidPath)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	resp, err := t.etcdClient.KV.Txn(ctx).
		If(
			etcd.Compare(etcd.CreateRevision(t.key(path)), ">", 0),
			etcd.Compare(etcd.CreateRevision(t.key(childPrefix(path))), "=", 0).WithPrefix(),
		).
		Then(etcd.OpDelete(t.key(path))).
		Else(etcd.OpGet(t.key(path), etcd.WithCountOnly())).
		Commit()
	if err != nil {
		return t.wrapErr("delete", path, err)
	}

	if resp.Succeeded {
		return nil
	}

	if resp.Responses[0].GetResponseRange().Count == 0 {
		return newError("delete", path, ErrNoNode)
	}
	return newError("delete", path, ErrNotEmpty)
}

func (t *EtcdTree) DeleteRecursive(ctx context.Context, path string) error {
	if !validatePath(path) {
		return newError("delete-recursive", path, ErrInvalidPath)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	resp, err := t.etcdClient.KV.Txn(ctx).
		If(etcd.Compare(etcd.CreateRevision(t.key(path)), ">", 0)).
		Then(
			etcd.OpDelete(t.key(childPrefix(path)), etcd.WithPrefix()),
			etcd.OpDelete(t.key(path)),
		).
		Commit()
	if err != nil {
		return t.wrapErr("delete-recursive", path, err)
	}

	if !resp.Succeeded {
		return newError("delete-recursive", path, ErrNoNode)
	}

	return nil
}

type etcdUnlocker struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

func (u *etcdUnlocker) Unlock(ctx context.Context) error {
	err := u.mutex.Unlock(ctx)
	closeErr := u.session.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// Lock acquires a lock under /lock/{name}.  Waiters queue on sequentially
// created keys and the lock is released automatically if this process dies
// and its lease expires.
func (t *EtcdTree) Lock(ctx context.Context, name string) (Unlocker, error) {
	lockPath := LockRoot + "/" + name

	// grant under the caller's deadline, the keepalive runs until Unlock
	grantCtx, cancel := t.withTimeout(ctx)
	lease, err := t.etcdClient.Grant(grantCtx, int64(t.lockTTL/time.Second))
	cancel()
	if err != nil {
		return nil, t.wrapErr("lock", lockPath, err)
	}

	session, err := concurrency.NewSession(t.etcdClient,
		concurrency.WithLease(lease.ID),
		concurrency.WithContext(context.Background()))
	if err != nil {
		revokeCtx, cancel := t.withTimeout(context.Background())
		_, _ = t.etcdClient.Revoke(revokeCtx, lease.ID)
		cancel()
		return nil, t.wrapErr("lock", lockPath, err)
	}

	mutex := concurrency.NewMutex(session, t.key(lockPath))

	lockCtx, cancel := t.withTimeout(ctx)
	defer cancel()

	err = mutex.Lock(lockCtx)
	if err != nil {
		_ = session.Close()
		return nil, t.wrapErr("lock", lockPath, err)
	}

	t.logger.Debug("acquired tree lock",
		zap.String("path", lockPath),
		zap.String("key", mutex.Key()))

	return &etcdUnlocker{
		session: session,
		mutex:   mutex,
	}, nil
}
