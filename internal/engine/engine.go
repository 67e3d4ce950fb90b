package engine

import (
	"context"
	"errors"

	"transitfeed/internal/config"
	"transitfeed/internal/logging"
	"transitfeed/internal/pipeline"
	"transitfeed/internal/provision"
	"transitfeed/internal/sequencer"
	"transitfeed/internal/telemetry"
	"transitfeed/internal/transport"
	"transitfeed/sink"
	"transitfeed/source/feed"
)

// Engine owns every handle of one ingestion run: the admin connection and
// provisioner, the producer, the feed and the logical clock inside the
// sequencer. Nothing here is shared with other runs.
type Engine struct {
	cfg config.File

	admin       admin
	provisioner *provision.Provisioner
	sink        sink.Adapter
	source      feed.Adapter
	tail        *feed.Tail
	sequencer   *sequencer.Sequencer
	runner      *pipeline.Runner

	transport *transport.Server
	metrics   *telemetry.Server
}

// Run ingests until ctx is cancelled or an event fails. A cancelled context
// is reported as context.Canceled.
func (e *Engine) Run(ctx context.Context) error {
	if e.transport != nil {
		e.transport.SetServing(true)
		defer e.transport.SetServing(false)
	}
	logging.L().Info("ingesting", "input", e.cfg.Input, "topic", e.cfg.Topic, "consistency_topic", e.cfg.ConsistencyTopic)
	err := e.runner.Run(ctx)
	lines, skipped := e.runner.Stats()
	logging.L().Info("ingestion stopped", "lines", lines, "skipped", skipped, "offset", e.tail.Offset(), "clock", e.sequencer.Clock(), "err", err)
	return err
}

// Clock exposes the sequencer's next timestamp.
func (e *Engine) Clock() uint64 { return e.sequencer.Clock() }

// Close releases every handle that was opened. It is safe on a partially
// bootstrapped Engine.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	if e.transport != nil {
		e.transport.Stop()
	}
	e.metrics.Stop()
	if e.source != nil {
		errs = append(errs, e.source.Close())
	}
	if e.sink != nil {
		errs = append(errs, e.sink.Close())
	}
	if e.admin != nil {
		errs = append(errs, e.admin.Close())
	}
	return errors.Join(errs...)
}
