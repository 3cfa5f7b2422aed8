package coordinator

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/couchbase/stellar-slotmap/common/topology"
	"github.com/couchbase/stellar-slotmap/utils/atomicfile"
	"github.com/pkg/errors"
)

const (
	SnapshotFileName    = "slotmap"
	SnapshotTmpFileName = "slotmap.tmp"
)

// ExportSnapshot writes the whole slot map to {dir}/slotmap, one JSON object
// per slot in slot order.  The file is replaced atomically and is left
// untouched if any slot record is missing or malformed.
func (c *Coordinator) ExportSnapshot(ctx context.Context, dir string) (string, error) {
	path := filepath.Join(dir, SnapshotFileName)

	err := c.instrument(ctx, "export", func(ctx context.Context) error {
		w, err := atomicfile.Create(path, filepath.Join(dir, SnapshotTmpFileName))
		if err != nil {
			return err
		}
		defer w.Abort()

		for slot := 0; slot < topology.SlotCount; slot++ {
			data, err := c.tree.Get(ctx, topology.SlotPath(slot))
			if err != nil {
				return errors.Wrapf(err, "failed to read slot %d", slot)
			}

			a, err := topology.DecodeSlotAssignment(slot, data)
			if err != nil {
				return err
			}

			line, err := topology.EncodeSlotLine(slot, a)
			if err != nil {
				return err
			}

			_, err = w.Write(append(line, '\n'))
			if err != nil {
				return errors.Wrap(err, "failed to write snapshot")
			}
		}

		return w.Publish()
	})
	if err != nil {
		return "", err
	}

	return path, nil
}

// ReadSnapshot loads a published snapshot file.  Every slot must be present
// exactly once and in order.
func ReadSnapshot(path string) ([]topology.SlotAssignment, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open snapshot")
	}
	defer file.Close()

	assignment := make([]topology.SlotAssignment, 0, topology.SlotCount)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		slot, a, err := topology.DecodeSlotLine(line)
		if err != nil {
			return nil, err
		}
		if slot != len(assignment) {
			return nil, errors.Wrapf(topology.ErrMalformedRecord,
				"snapshot slot %d found at position %d", slot, len(assignment))
		}

		assignment = append(assignment, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read snapshot")
	}

	if len(assignment) != topology.SlotCount {
		return nil, errors.Wrapf(topology.ErrMalformedRecord,
			"snapshot has %d slots, expected %d", len(assignment), topology.SlotCount)
	}

	return assignment, nil
}
