// Package sequencer pairs every data record with a consistency record that
// advances a logical clock by one. A consumer that sees the frontier move to
// ts+1 can rely on the data record for ts already being acknowledged.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memsql/errors"

	"transitfeed/internal/logging"
	"transitfeed/internal/telemetry"
)

// Partition is the only partition either stream is written to. A single
// partition is what gives the consistency stream a total order.
const Partition int32 = 0

const ErrEmptyKey errors.String = "event key must not be empty"

// Sender is satisfied by sink.Adapter.
type Sender interface {
	Send(ctx context.Context, topic string, partition int32, key, value []byte) error
}

type Stage string

const (
	StagePending  Stage = "pending"
	StageDataSent Stage = "data-sent"
)

// EventError reports the stage an event reached before it failed.
type EventError struct {
	TS    uint64
	Stage Stage
	Err   error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("event ts=%d failed at %s: %v", e.TS, e.Stage, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

// Sequencer owns the logical clock. It is not safe for concurrent use:
// events must be ingested one at a time.
type Sequencer struct {
	out   Sender
	clock uint64
	log   *slog.Logger
}

func New(out Sender) *Sequencer {
	return &Sequencer{out: out, log: logging.L()}
}

// Clock is the timestamp the next event will be assigned.
func (s *Sequencer) Clock() uint64 { return s.clock }

// Progress encodes the consistency value for one event committed at ts:
// the half-open interval [ts, ts+1) on partition 0 of dataTopic.
func Progress(dataTopic string, ts uint64) string {
	return fmt.Sprintf("%s,1,0,%d,%d", dataTopic, ts, ts+1)
}

// IngestEvent sends the data record, then the consistency record, then
// advances the clock. On any failure the clock is left untouched and the
// error is returned without retry. A failure after the data send leaves an
// orphaned data record with no consistency record pointing at it.
func (s *Sequencer) IngestEvent(ctx context.Context, dataTopic, consistencyTopic, key string, value []byte) error {
	ts := s.clock
	if key == "" {
		return &EventError{TS: ts, Stage: StagePending, Err: ErrEmptyKey}
	}

	if err := s.send(ctx, dataTopic, []byte(key), value); err != nil {
		return &EventError{TS: ts, Stage: StagePending, Err: err}
	}
	if err := s.send(ctx, consistencyTopic, nil, []byte(Progress(dataTopic, ts))); err != nil {
		s.log.Error("consistency send failed after data send", "topic", dataTopic, "key", key, "ts", ts, "err", err)
		return &EventError{TS: ts, Stage: StageDataSent, Err: err}
	}

	s.clock = ts + 1
	telemetry.EventsIngested.Inc()
	telemetry.LogicalClock.Set(float64(s.clock))
	s.log.Debug("event sequenced", "topic", dataTopic, "key", key, "ts", ts)
	return nil
}

func (s *Sequencer) send(ctx context.Context, topic string, key, value []byte) error {
	err := s.out.Send(ctx, topic, Partition, key, value)
	result := "ok"
	if err != nil {
		result = "error"
	}
	telemetry.RecordsSent.WithLabelValues(topic, result).Inc()
	return err
}
