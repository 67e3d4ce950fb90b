package engine

import (
	"context"
	"fmt"

	"transitfeed/internal/config"
	"transitfeed/internal/logging"
	"transitfeed/internal/pipeline"
	"transitfeed/internal/provision"
	"transitfeed/internal/sequencer"
	"transitfeed/internal/telemetry"
	"transitfeed/internal/transport"
	"transitfeed/sink"
	"transitfeed/sink/kafka"
	_ "transitfeed/sink/stdout"
	"transitfeed/source/feed"
)

type admin interface {
	provision.Admin
	Close() error
}

// Swapped by tests.
var (
	dialAdmin = func(c kafka.Config) (admin, error) {
		a, err := kafka.NewAdmin(c)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	newSink = sink.NewAdapter
)

// Bootstrap connects to the broker, provisions both topics and opens the
// feed. Nothing is ingested until Run.
func Bootstrap(ctx context.Context, cfg config.File) (_ *Engine, err error) {
	eng := &Engine{cfg: cfg}
	defer func() {
		if err != nil {
			_ = eng.Close()
		}
	}()
	log := logging.L()

	// 1. broker connections
	if cfg.Sink == "kafka" {
		if eng.admin, err = dialAdmin(cfg.Kafka); err != nil {
			return nil, err
		}
	}
	if eng.sink, err = newSink(cfg.Sink); err != nil {
		return nil, err
	}
	switch cfg.Sink {
	case "kafka":
		err = eng.sink.Configure(cfg.Kafka)
	case "stdout":
		err = eng.sink.Configure(cfg.Stdout)
	default:
		err = fmt.Errorf("no config block for sink %q", cfg.Sink)
	}
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", cfg.Sink, err)
	}

	// 2. health + metrics, reported NOT_SERVING until topics converge
	if cfg.GRPCPort > 0 {
		if eng.transport, err = transport.StartServer(cfg.GRPCPort); err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		go func(s *transport.Server) {
			if err := s.Serve(); err != nil {
				log.Error("health server stopped", "err", err)
			}
		}(eng.transport)
	}
	eng.metrics = telemetry.Expose(cfg.MetricsPort)

	// 3. topics
	if eng.admin != nil {
		eng.provisioner = provision.New(eng.admin)
		for _, topic := range []string{cfg.Topic, cfg.ConsistencyTopic} {
			if err = eng.provisioner.Provision(ctx, topic, cfg.Partitions); err != nil {
				return nil, err
			}
		}
	} else {
		log.Info("dry run, topics are not provisioned", "sink", cfg.Sink, "topic", cfg.Topic, "consistency_topic", cfg.ConsistencyTopic)
	}

	// 4. feed + sequencing
	tail, err := feed.Open(cfg.Input, cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	eng.source = tail
	eng.tail = tail
	eng.sequencer = sequencer.New(eng.sink)
	eng.runner = pipeline.NewRunner(eng.source, eng.sequencer, cfg.Topic, cfg.ConsistencyTopic)
	return eng, nil
}
