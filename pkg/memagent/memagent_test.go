package memagent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const tcpHeader = "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"

func writeFakeProc(t *testing.T) string {
	root := t.TempDir()

	write := func(path, content string) {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	link := func(target, path string) {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.Symlink(target, full))
	}

	// 0x22B8 = 8888 listening, 0x22B9 = 8889 established only
	write("net/tcp", tcpHeader+
		"   0: 00000000:22B8 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 5555 1 0000000000000000 100 0 0 10 0\n"+
		"   1: 0100007F:22B9 0100007F:D431 01 00000000:00000000 00:00000000 00000000  1000        0 6666 1 0000000000000000 100 0 0 10 0\n")
	// 0x2328 = 9000 listening on ipv6 only
	write("net/tcp6", tcpHeader+
		"   0: 00000000000000000000000000000000:2328 00000000000000000000000000000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 7777 1 0000000000000000 100 0 0 10 0\n")

	link("/dev/null", "100/fd/0")
	link("socket:[5555]", "100/fd/3")
	write("100/status", "Name:\tssdb-server\nVmPeak:\t  20480 kB\nVmRSS:\t   10240 kB\nThreads:\t4\n")

	link("socket:[7777]", "200/fd/5")
	write("200/status", "Name:\tssdb-server\nVmRSS:\t     512 kB\n")

	link("socket:[6666]", "300/fd/3")
	write("300/status", "Name:\tclient\n")

	write("self/status", "Name:\tself\n")

	return root
}

func TestProcFSMemInfo(t *testing.T) {
	procfs := &ProcFS{Root: writeFakeProc(t)}

	pid, err := procfs.ListeningPID(8888)
	require.NoError(t, err)
	require.Equal(t, 100, pid)

	memInfo, err := procfs.MemInfo(8888)
	require.NoError(t, err)
	require.Equal(t, "10240kB", memInfo)

	memInfo, err = procfs.MemInfo(9000)
	require.NoError(t, err)
	require.Equal(t, "512kB", memInfo)

	_, err = procfs.MemInfo(8889)
	require.ErrorIs(t, err, ErrProcessNotFound)

	_, err = procfs.MemInfo(1234)
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestProcFSMissingVmRSS(t *testing.T) {
	procfs := &ProcFS{Root: writeFakeProc(t)}

	_, err := procfs.VmRSS(300)
	require.Error(t, err)

	_, err = procfs.VmRSS(400)
	require.Error(t, err)
}

func TestSocketInode(t *testing.T) {
	inode, ok := socketInode("socket:[12345]")
	require.True(t, ok)
	require.Equal(t, uint64(12345), inode)

	_, ok = socketInode("socket:[abc]")
	require.False(t, ok)

	_, ok = socketInode("pipe:[12345]")
	require.False(t, ok)

	_, ok = socketInode("/dev/null")
	require.False(t, ok)
}

type staticSource map[int]string

func (s staticSource) MemInfo(port int) (string, error) {
	if info, ok := s[port]; ok {
		return info, nil
	}
	return "", errors.Wrapf(ErrProcessNotFound, "port %d", port)
}

func getMemInfo(t *testing.T, h http.Handler, path string) (int, string) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if rec.Code != http.StatusOK {
		return rec.Code, ""
	}

	var resp memInfoJson
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp.MemInfo
}

func TestServerMemInfo(t *testing.T) {
	s := NewServer(ServerOptions{
		Logger: zaptest.NewLogger(t),
		Source: staticSource{8888: "10240kB"},
	})
	h := s.Handler()

	code, info := getMemInfo(t, h, "/store/mem_info?port=8888")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "10240kB", info)

	code, info = getMemInfo(t, h, "/ssdb/mem_info?port=8888")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "10240kB", info)

	code, info = getMemInfo(t, h, "/store/mem_info?port=8889")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, unknownMemInfo, info)

	code, _ = getMemInfo(t, h, "/store/mem_info?port=abc")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = getMemInfo(t, h, "/store/mem_info")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestServerRootNotFound(t *testing.T) {
	s := NewServer(ServerOptions{
		Logger: zaptest.NewLogger(t),
		Source: staticSource{},
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerMetrics(t *testing.T) {
	s := NewServer(ServerOptions{
		Logger: zaptest.NewLogger(t),
		Source: staticSource{},
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerLogLevel(t *testing.T) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	s := NewServer(ServerOptions{
		Logger:   zaptest.NewLogger(t),
		LogLevel: &level,
		Source:   staticSource{},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/log_level", strings.NewReader(`{"level":"debug"}`))
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, zap.DebugLevel, level.Level())
}
