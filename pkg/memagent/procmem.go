package memagent

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

var ErrProcessNotFound = errors.New("no process listening on port")

// tcpListenState is the kernel's st value for a listening socket.
const tcpListenState = 0x0A

// ProcFS resolves listening ports to processes by reading a procfs mount.
type ProcFS struct {
	Root string
}

func NewProcFS() *ProcFS {
	return &ProcFS{Root: procfs.DefaultMountPoint}
}

func (p *ProcFS) fs() (procfs.FS, error) {
	fs, err := procfs.NewFS(p.Root)
	if err != nil {
		return procfs.FS{}, errors.Wrapf(err, "failed to open procfs at %s", p.Root)
	}
	return fs, nil
}

// MemInfo returns the resident set size of the process listening on port,
// formatted with the unit attached, eg: 10240kB.
func (p *ProcFS) MemInfo(port int) (string, error) {
	pid, err := p.ListeningPID(port)
	if err != nil {
		return "", err
	}

	return p.VmRSS(pid)
}

func listeningInodes(fs procfs.FS, port int) (map[uint64]struct{}, error) {
	inodes := make(map[uint64]struct{})

	tables := []func() (procfs.NetTCP, error){fs.NetTCP, fs.NetTCP6}
	for _, table := range tables {
		lines, err := table()
		if err != nil {
			// hosts without ipv6 have no tcp6 table
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, errors.Wrap(err, "failed to read tcp sockets")
		}

		for _, line := range lines {
			// inode 0 belongs to sockets which are being torn down
			if line.St != tcpListenState || line.LocalPort != uint64(port) || line.Inode == 0 {
				continue
			}
			inodes[line.Inode] = struct{}{}
		}
	}

	return inodes, nil
}

// ListeningPID finds the process owning the TCP listening socket for port.
func (p *ProcFS) ListeningPID(port int) (int, error) {
	fs, err := p.fs()
	if err != nil {
		return 0, err
	}

	inodes, err := listeningInodes(fs, port)
	if err != nil {
		return 0, err
	}
	if len(inodes) == 0 {
		return 0, errors.Wrapf(ErrProcessNotFound, "port %d", port)
	}

	procs, err := fs.AllProcs()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list processes")
	}

	for _, proc := range procs {
		targets, err := proc.FileDescriptorTargets()
		if err != nil {
			// processes come and go, and some are not ours to inspect
			continue
		}

		for _, target := range targets {
			inode, ok := socketInode(target)
			if !ok {
				continue
			}
			if _, ok := inodes[inode]; ok {
				return proc.PID, nil
			}
		}
	}

	return 0, errors.Wrapf(ErrProcessNotFound, "port %d", port)
}

func socketInode(linkTarget string) (uint64, bool) {
	if !strings.HasPrefix(linkTarget, "socket:[") || !strings.HasSuffix(linkTarget, "]") {
		return 0, false
	}

	inode, err := strconv.ParseUint(linkTarget[len("socket:["):len(linkTarget)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}

// VmRSS reads the resident set size from /proc/{pid}/status.
func (p *ProcFS) VmRSS(pid int) (string, error) {
	fs, err := p.fs()
	if err != nil {
		return "", err
	}

	proc, err := fs.Proc(pid)
	if err != nil {
		return "", errors.Wrapf(err, "failed to find process %d", pid)
	}

	status, err := proc.NewStatus()
	if err != nil {
		return "", errors.Wrapf(err, "failed to read status of process %d", pid)
	}

	// kernel threads have no VmRSS line at all
	if status.VmRSS == 0 {
		return "", errors.Errorf("process %d has no VmRSS", pid)
	}

	return strconv.FormatUint(status.VmRSS/1024, 10) + "kB", nil
}
