package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"transitfeed/internal/logging"
	"transitfeed/sink"
)

// driver bridges sarama's asynchronous producer to the blocking
// sink.Adapter contract. Each Send tags its message with a sequence number
// and waits for the acknowledgment carrying the same tag; acks that arrive
// after their Send already timed out are dropped.
type driver struct {
	cfg     Config
	p       sarama.AsyncProducer
	timeout time.Duration

	mu     sync.Mutex // one Send at a time
	seq    uint64
	closed bool
}

func newDriver(p sarama.AsyncProducer, timeout time.Duration) *driver {
	return &driver{p: p, timeout: timeout}
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	ApplyDefaults(&cfg)
	d.cfg = cfg
	d.timeout = cfg.SendTimeout

	sc, err := saramaConfig(cfg)
	if err != nil {
		return err
	}
	d.p, err = sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return ErrConnection.Errorf("producer connection to %v: %w", cfg.Brokers, err)
	}
	return nil
}

func message(topic string, partition int32, key, value []byte, id uint64) *sarama.ProducerMessage {
	if key == nil {
		key = []byte{}
	}
	if value == nil {
		value = []byte{}
	}
	return &sarama.ProducerMessage{
		Topic:     topic,
		Partition: partition,
		Key:       sarama.ByteEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Metadata:  id,
	}
}

func (d *driver) Send(ctx context.Context, topic string, partition int32, key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return sink.ErrSend.Errorf("%s[%d]: producer closed", topic, partition)
	}
	d.seq++
	id := d.seq
	msg := message(topic, partition, key, value, id)

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case d.p.Input() <- msg:
	case <-timer.C:
		return sink.ErrSend.Errorf("%s[%d]: enqueue timed out after %s", topic, partition, d.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case ok := <-d.p.Successes():
			if ok.Metadata == id {
				return nil
			}
			logging.L().Warn("kafka-sink: dropping late acknowledgment", "topic", ok.Topic, "partition", ok.Partition, "offset", ok.Offset)
		case perr := <-d.p.Errors():
			if perr.Msg != nil && perr.Msg.Metadata == id {
				return sink.ErrSend.Errorf("%s[%d]: %w", topic, partition, perr.Err)
			}
			logging.L().Warn("kafka-sink: dropping late failure", "err", perr.Err)
		case <-timer.C:
			return sink.ErrSend.Errorf("%s[%d]: no acknowledgment within %s", topic, partition, d.timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.p == nil {
		return nil
	}
	d.closed = true
	return d.p.Close()
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
