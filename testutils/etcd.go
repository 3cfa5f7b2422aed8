package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	etcd "go.etcd.io/etcd/client/v3"
)

var globalTestEtcdClient *etcd.Client
var globalEtcdDisabled bool

// GetTestEtcdClient returns a shared etcd client, skipping the test when no
// etcd server is reachable.
func GetTestEtcdClient(t *testing.T) *etcd.Client {
	if globalTestEtcdClient != nil {
		return globalTestEtcdClient
	}

	if globalEtcdDisabled {
		t.Skip("etcd unavailable: previous connect attempt failed")
	}

	config := GetTestConfig(t)
	connectTimeout := 2 * time.Second

	etcdClient, err := etcd.New(etcd.Config{
		Endpoints:   config.EtcdEndpoints,
		Username:    config.EtcdUser,
		Password:    config.EtcdPass,
		DialTimeout: connectTimeout,
	})
	if err != nil {
		globalEtcdDisabled = true
		t.Skipf("failed to connect to etcd: %s", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), connectTimeout)
	_, err = etcdClient.Get(waitCtx, "invalid-key")
	waitCancel()

	if err != nil {
		globalEtcdDisabled = true
		_ = etcdClient.Close()
		t.Skipf("failed to connect to etcd: %s", err)
	}

	globalTestEtcdClient = etcdClient
	return etcdClient
}

func GenTestPrefix() string {
	return "/testing/" + uuid.NewString()
}
