// Package stdout is a dry-run sink: records are printed instead of produced.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"transitfeed/sink"
)

/* ────────── public config ────────── */
type Config struct {
	PrintCounter bool      `koanf:"print_counter" yaml:"print_counter"` // prepend seq#
	Output       io.Writer `koanf:"-" yaml:"-"`                         // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu     sync.Mutex // guards out
	out    io.Writer
	closed bool
}

var seq uint64

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	d.out = c.Output
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Send(ctx context.Context, topic string, partition int32, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return sink.ErrSend.Errorf("stdout-sink: send on closed sink")
	}
	var err error
	if d.cfg.PrintCounter {
		_, err = fmt.Fprintf(d.out, "[sink %06d] %s[%d] key=%q value=%s\n",
			atomic.AddUint64(&seq, 1), topic, partition, key, value)
	} else {
		_, err = fmt.Fprintf(d.out, "[sink] %s[%d] key=%q value=%s\n", topic, partition, key, value)
	}
	if err != nil {
		return sink.ErrSend.Errorf("stdout-sink: %w", err)
	}
	return nil
}

func (d *driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
