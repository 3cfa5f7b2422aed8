package atomicfile

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
)

// Writer stages content in a temporary file next to the target and only
// replaces the target on Publish.  Readers of the target path either see the
// previous complete file or the new complete file.
type Writer struct {
	path    string
	tmpPath string
	file    *os.File
	buf     *bufio.Writer
	done    bool
}

func Create(path, tmpPath string) (*Writer, error) {
	file, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temporary file")
	}

	return &Writer{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		buf:     bufio.NewWriter(file),
	}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Publish flushes the staged content to disk and moves it over the target.
func (w *Writer) Publish() error {
	if w.done {
		return errors.New("writer already finished")
	}
	w.done = true

	err := w.buf.Flush()
	if err == nil {
		err = w.file.Sync()
	}
	closeErr := w.file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(w.tmpPath)
		return errors.Wrap(err, "failed to flush temporary file")
	}

	err = os.Remove(w.path)
	if err != nil && !os.IsNotExist(err) {
		_ = os.Remove(w.tmpPath)
		return errors.Wrap(err, "failed to remove previous file")
	}

	err = os.Rename(w.tmpPath, w.path)
	if err != nil {
		return errors.Wrap(err, "failed to publish file")
	}

	return nil
}

// Abort discards the staged content and leaves the target untouched.  It is
// safe to call after Publish.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true

	_ = w.file.Close()
	_ = os.Remove(w.tmpPath)
}
