package feed

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/memsql/errors"

	"transitfeed/internal/logging"
)

const DefaultPollInterval = 250 * time.Millisecond

var _ Adapter = (*Tail)(nil)

// Tail follows a file that another process keeps appending to. Only
// newline-terminated lines are emitted; a partial trailing line is held
// until the rest of it is written.
type Tail struct {
	path    string
	poll    time.Duration
	f       *os.File
	r       *bufio.Reader
	offset  int64
	partial []byte
	watcher *fsnotify.Watcher
}

// Open starts at the beginning of path. File change notifications are used
// when available; the poll interval bounds how long a missed notification
// can delay a line.
func Open(path string, poll time.Duration) (*Tail, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Errorf("open feed %s: %w", path, err)
	}
	t := &Tail{path: path, poll: poll, f: f, r: bufio.NewReader(f)}
	if w, err := fsnotify.NewWatcher(); err != nil {
		logging.L().Warn("feed: file notifications unavailable, polling", "path", path, "err", err)
	} else if err := w.Add(path); err != nil {
		_ = w.Close()
		logging.L().Warn("feed: cannot watch file, polling", "path", path, "err", err)
	} else {
		t.watcher = w
	}
	return t, nil
}

// Offset is the number of bytes consumed by emitted lines.
func (t *Tail) Offset() int64 { return t.offset }

func (t *Tail) Run(ctx context.Context, emit EmitFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := t.r.ReadBytes('\n')
		if len(chunk) > 0 {
			t.partial = append(t.partial, chunk...)
		}
		switch {
		case err == nil:
			line := t.partial
			t.offset += int64(len(line))
			t.partial = nil
			if err := emit(string(bytes.TrimRight(line, "\r\n"))); err != nil {
				return err
			}
		case errors.Is(err, io.EOF):
			if err := t.wait(ctx); err != nil {
				return err
			}
		default:
			// Read errors are reported and retried, the file may recover.
			logging.L().Warn("feed: read failed", "path", t.path, "err", err)
			if err := t.wait(ctx); err != nil {
				return err
			}
		}
	}
}

func (t *Tail) wait(ctx context.Context) error {
	timer := time.NewTimer(t.poll)
	defer timer.Stop()
	var events <-chan fsnotify.Event
	var errs <-chan error
	if t.watcher != nil {
		events, errs = t.watcher.Events, t.watcher.Errors
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-events:
	case err := <-errs:
		logging.L().Debug("feed: watcher error", "path", t.path, "err", err)
	}
	return nil
}

func (t *Tail) Close() error {
	if t.watcher != nil {
		_ = t.watcher.Close()
	}
	return t.f.Close()
}
