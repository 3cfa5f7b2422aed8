/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package testutils

import (
	"os"
	"strings"
	"testing"
)

type Config struct {
	EtcdEndpoints []string
	EtcdUser      string
	EtcdPass      string
}

var globalTestConfig *Config

func GetTestConfig(t *testing.T) *Config {
	if globalTestConfig == nil {
		testConfig := &Config{
			EtcdEndpoints: []string{"localhost:2379"},
		}

		envEtcd := os.Getenv("SLOTMAPTEST_ETCD")
		if envEtcd != "" {
			testConfig.EtcdEndpoints = strings.Split(envEtcd, ",")
		}

		testConfig.EtcdUser = os.Getenv("SLOTMAPTEST_ETCDUSER")
		testConfig.EtcdPass = os.Getenv("SLOTMAPTEST_ETCDPASS")

		t.Logf("initialized test configuration")
		t.Logf("  etcd: %s", strings.Join(testConfig.EtcdEndpoints, ","))
		t.Logf("  etcduser: %s", testConfig.EtcdUser)

		globalTestConfig = testConfig
	}

	return globalTestConfig
}
