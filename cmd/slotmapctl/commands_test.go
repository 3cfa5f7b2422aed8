package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestWriteStatus(t *testing.T) {
	var buf bytes.Buffer
	writeStatus(&buf, nil, "registered proxy 10.0.0.1:22121")
	require.Equal(t, `{"action":"success","message":"registered proxy 10.0.0.1:22121"}`+"\n", buf.String())

	buf.Reset()
	writeStatus(&buf, errors.New("node endpoint already registered"), "ignored")
	require.Equal(t, `{"action":"failure","message":"node endpoint already registered"}`+"\n", buf.String())
}

func TestProxyStatus(t *testing.T) {
	message, err := proxyStatus(true, "10.0.0.1", 22121)
	require.NoError(t, err)
	require.Equal(t, "registered proxy 10.0.0.1:22121", message)

	_, err = proxyStatus(false, "::1", 22121)
	require.EqualError(t, err, "proxy [::1]:22121 already registered")
}

func TestExecuteReportsArgumentErrors(t *testing.T) {
	var buf bytes.Buffer
	err := execute([]string{"bootstrap"}, &buf)
	require.Error(t, err)
	require.Contains(t, buf.String(), `"action":"failure"`)
	require.Contains(t, buf.String(), `required flag(s) \"file\" not set`)

	buf.Reset()
	err = execute([]string{"no-such-command"}, &buf)
	require.Error(t, err)
	require.Contains(t, buf.String(), `"action":"failure"`)
	require.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestFetchCredentialsConflicts(t *testing.T) {
	c := &config{}
	require.NoError(t, c.fetchCredentials(nil))

	c = &config{etcdCredsAwsId: "a", etcdCredsGcpId: "b"}
	require.Error(t, c.fetchCredentials(nil))

	c = &config{etcdCredsAwsId: "a", etcdCredsAwsRegion: "us-east-1", etcdUser: "root"}
	require.Error(t, c.fetchCredentials(nil))

	c = &config{etcdCredsAzureId: "a"}
	require.Error(t, c.fetchCredentials(nil))
}
