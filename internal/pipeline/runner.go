package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"transitfeed/internal/logging"
	"transitfeed/internal/sequencer"
	"transitfeed/internal/telemetry"
	"transitfeed/source/feed"
)

// Runner drives the ingestion loop: lines from the source are parsed and
// every event is handed to the sequencer, one at a time.
type Runner struct {
	source feed.Adapter
	seq    *sequencer.Sequencer

	dataTopic        string
	consistencyTopic string

	lines   atomic.Uint64
	skipped atomic.Uint64
}

func NewRunner(src feed.Adapter, seq *sequencer.Sequencer, dataTopic, consistencyTopic string) *Runner {
	return &Runner{
		source:           src,
		seq:              seq,
		dataTopic:        dataTopic,
		consistencyTopic: consistencyTopic,
	}
}

// Run returns when ctx is cancelled or an event cannot be sequenced. Parse
// failures are logged and skipped.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil || r.seq == nil {
		return errors.New("runner: source and sequencer are required")
	}
	return r.source.Run(ctx, func(line string) error {
		return r.pushLine(ctx, line)
	})
}

/*──────── line routing ───────*/
func (r *Runner) pushLine(ctx context.Context, line string) error {
	r.lines.Add(1)
	events, err := feed.ParseLine(line)
	if err != nil {
		r.skipped.Add(1)
		telemetry.ParseErrors.Inc()
		logging.L().Warn("skipping feed content", "err", err)
	}
	for _, ev := range events {
		if err := r.seq.IngestEvent(ctx, r.dataTopic, r.consistencyTopic, ev.Key, ev.Value); err != nil {
			return err
		}
	}
	return nil
}

// Stats reports lines read and lines with skipped content.
func (r *Runner) Stats() (lines, skipped uint64) {
	return r.lines.Load(), r.skipped.Load()
}
