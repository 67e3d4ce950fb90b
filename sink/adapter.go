package sink

import (
	"context"
	"fmt"
	"sort"

	"github.com/memsql/errors"
)

// ErrSend marks a produce call that was not acknowledged. Sends are never
// retried by adapters.
const ErrSend errors.String = "record send failed"

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	// Send blocks until the record is acknowledged or the adapter's send
	// timeout elapses. A nil key or value is sent as an empty byte
	// sequence, not as null. Two sequential calls against the same
	// partition reach the broker in call order.
	Send(ctx context.Context, topic string, partition int32, key, value []byte) error
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q (have %v)", name, Names())
}

func Names() []string {
	out := make([]string, 0, len(reg))
	for name := range reg {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
