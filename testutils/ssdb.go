package testutils

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/couchbase/stellar-slotmap/contrib/ssdbclient"
	"github.com/stretchr/testify/require"
)

// FakeSsdb is an in-memory storage node speaking the ssdb admin protocol.
// Replication commands follow the server's state machine: change_master_to
// and start_slave are refused while the slave is running, stop_slave is
// refused while it is not.
type FakeSsdb struct {
	listener net.Listener

	lock     sync.Mutex
	slots    map[int]struct{}
	master   string
	running  bool
	commands []string
}

func StartFakeSsdb(t *testing.T) *FakeSsdb {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &FakeSsdb{
		listener: listener,
		slots:    make(map[int]struct{}),
	}
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()

	return s
}

func (s *FakeSsdb) Addr() string {
	return s.listener.Addr().String()
}

func (s *FakeSsdb) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

func (s *FakeSsdb) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *FakeSsdb) Master() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.master
}

func (s *FakeSsdb) Replicating() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.running
}

func (s *FakeSsdb) SlotCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.slots)
}

func (s *FakeSsdb) Commands() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *FakeSsdb) serve(conn net.Conn) {
	defer conn.Close()

	rd := bufio.NewReader(conn)
	wr := bufio.NewWriter(conn)
	for {
		req, err := ssdbclient.ReadPacket(rd)
		if err != nil {
			return
		}

		resp := s.handle(req)
		if ssdbclient.WritePacket(wr, resp) != nil {
			return
		}
		if rd.Buffered() == 0 {
			if wr.Flush() != nil {
				return
			}
		}
	}
}

func (s *FakeSsdb) handle(req []string) []string {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.commands = append(s.commands, req[0])

	switch req[0] {
	case "ping":
		return []string{"ok"}
	case "set_slot":
		slot, err := strconv.Atoi(req[1])
		if err != nil || slot < 0 || slot >= ssdbclient.SlotCount {
			return []string{"error", "slot out of range"}
		}
		s.slots[slot] = struct{}{}
		return []string{"ok"}
	case "change_master_to":
		if s.running {
			return []string{"error", "slave is running"}
		}
		if len(req) < 5 {
			return []string{"client_error", "wrong number of arguments"}
		}
		s.master = net.JoinHostPort(req[1], req[2])
		return []string{"ok", "save master info success"}
	case "start_slave":
		if s.running {
			return []string{"error", "slave is running"}
		}
		if s.master == "" {
			return []string{"error", "no master specified"}
		}
		s.running = true
		return []string{"ok", "1"}
	case "stop_slave":
		if !s.running {
			return []string{"error", "slave thread is not running"}
		}
		s.running = false
		return []string{"ok", "1"}
	}

	return []string{"client_error", "Unknown Command: " + req[0]}
}
