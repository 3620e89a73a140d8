package executor

import (
	"os"

	"github.com/google/wireit-go/internal/fsutil"
)

// replayWriter appends every byte written to path, creating the file
// lazily on the first write, so a script that never writes to a stream
// leaves no empty replay file behind.
type replayWriter struct {
	path string
	f    *os.File
}

func newReplayWriter(path string) *replayWriter {
	return &replayWriter{path: path}
}

func (w *replayWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.f == nil {
		if err := fsutil.EnsureDir(w.path); err != nil {
			return 0, err
		}
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, err
		}
		w.f = f
	}
	return w.f.Write(p)
}

func (w *replayWriter) Close() error {
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}
