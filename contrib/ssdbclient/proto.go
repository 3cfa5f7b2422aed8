package ssdbclient

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrProtocol = errors.New("ssdb protocol error")

// maxBlockSize bounds a single block so a corrupt length cannot make us
// allocate unbounded memory.
const maxBlockSize = 64 * 1024 * 1024

// WritePacket encodes a request or response.  Each block is written as its
// decimal length, a newline, the payload and another newline.  The packet is
// terminated by an empty line.
func WritePacket(w *bufio.Writer, blocks []string) error {
	for _, block := range blocks {
		if _, err := w.WriteString(strconv.Itoa(len(block))); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
		if _, err := w.WriteString(block); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadPacket reads a single packet.  It returns io.EOF only when the stream
// ends cleanly between packets.
func ReadPacket(r *bufio.Reader) ([]string, error) {
	var blocks []string
	for {
		line, err := readLine(r)
		if err != nil {
			if err == io.EOF && len(blocks) == 0 {
				return nil, io.EOF
			}
			return nil, errors.Wrap(ErrProtocol, "unexpected end of packet")
		}

		if line == "" {
			if len(blocks) == 0 {
				// tolerate blank lines between packets
				continue
			}
			return blocks, nil
		}

		size, err := strconv.Atoi(line)
		if err != nil || size < 0 || size > maxBlockSize {
			return nil, errors.Wrapf(ErrProtocol, "invalid block size %q", line)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, errors.Wrap(ErrProtocol, "short block")
		}

		term, err := r.ReadByte()
		if err == nil && term == '\r' {
			term, err = r.ReadByte()
		}
		if err != nil || term != '\n' {
			return nil, errors.Wrap(ErrProtocol, "missing block terminator")
		}

		blocks = append(blocks, string(payload))
	}
}
