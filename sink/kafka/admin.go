package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/memsql/errors"

	"transitfeed/internal/provision"
)

// ErrConnection marks a failure to reach the cluster at startup.
const ErrConnection errors.String = "cannot connect to kafka"

var _ provision.Admin = (*Admin)(nil)

// Admin implements provision.Admin on top of a sarama ClusterAdmin.
type Admin struct {
	version sarama.KafkaVersion
	ca      sarama.ClusterAdmin
}

func NewAdmin(c Config) (*Admin, error) {
	sc, err := saramaConfig(c)
	if err != nil {
		return nil, err
	}
	ca, err := sarama.NewClusterAdmin(c.Brokers, sc)
	if err != nil {
		return nil, ErrConnection.Errorf("admin connection to %v: %w", c.Brokers, err)
	}
	return &Admin{version: sc.Version, ca: ca}, nil
}

func (a *Admin) CreateTopic(ctx context.Context, spec provision.TopicSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries := make(map[string]*string, len(spec.Config))
	for k, v := range spec.Config {
		v := v
		entries[k] = &v
	}
	err := a.ca.CreateTopic(spec.Name, &sarama.TopicDetail{
		NumPartitions:     spec.Partitions,
		ReplicationFactor: spec.ReplicationFactor,
		ConfigEntries:     entries,
	}, false)
	if err == nil {
		return nil
	}
	var topicErr *sarama.TopicError
	if errors.Is(err, sarama.ErrTopicAlreadyExists) ||
		(errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists) {
		return provision.ErrTopicExists.Errorf("topic %s: %s", spec.Name, err)
	}
	return err
}

// PartitionCounts sends a metadata request for all topics to the controller.
// The request carries no topic names so the broker never auto-creates one.
func (a *Admin) PartitionCounts(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	broker, err := a.ca.Controller()
	if err != nil {
		return nil, errors.Errorf("find controller: %w", err)
	}
	req := sarama.NewMetadataRequest(a.version, nil)
	req.AllowAutoTopicCreation = false
	resp, err := broker.GetMetadata(req)
	if err != nil {
		return nil, errors.Errorf("metadata from broker %d: %w", broker.ID(), err)
	}
	out := make(map[string]int, len(resp.Topics))
	for _, t := range resp.Topics {
		out[t.Name] = len(t.Partitions)
	}
	return out, nil
}

func (a *Admin) Close() error {
	return a.ca.Close()
}
