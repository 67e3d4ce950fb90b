// Package provision creates topics and waits until the broker's cluster-wide
// metadata shows them with the requested partition count.
//
// Topics are never deleted and recreated under a fixed name. Topic metadata
// deletion and topic data deletion are both asynchronous at the broker, and
// independently so: a topic recreated by name can have freshly produced data
// garbage collected by the deletion of its previous incarnation. Callers are
// expected to pick a new topic name for every run instead.
package provision

import (
	"context"
	"log/slog"

	"github.com/memsql/errors"

	"transitfeed/internal/backoff"
	"transitfeed/internal/logging"
	"transitfeed/internal/telemetry"
)

const (
	// ErrTopicExists is returned by an Admin when the topic is already
	// present. Provision treats it as success.
	ErrTopicExists errors.String = "topic already exists"

	ErrCreation           errors.String = "topic creation failed"
	ErrConvergenceTimeout errors.String = "topic metadata did not converge"
)

// RetentionUnlimited disables time based deletion. Event timestamps are
// synthetic and would otherwise be eligible for garbage collection at once.
const RetentionUnlimited = "-1"

type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Config            map[string]string
}

// Admin is the part of a broker admin client provisioning needs.
type Admin interface {
	CreateTopic(ctx context.Context, spec TopicSpec) error
	// PartitionCounts lists every topic in the cluster. Implementations must
	// not issue topic-scoped metadata requests: on brokers with automatic
	// topic creation, asking about an unknown topic creates it with the
	// default partition count.
	PartitionCounts(ctx context.Context) (map[string]int, error)
}

type Provisioner struct {
	admin  Admin
	poller *backoff.Poller
	log    *slog.Logger
}

func New(admin Admin) *Provisioner {
	return &Provisioner{
		admin:  admin,
		poller: backoff.New(backoff.Convergence),
		log:    logging.L(),
	}
}

// WithPoller replaces the convergence schedule.
func (p *Provisioner) WithPoller(poller *backoff.Poller) *Provisioner {
	p.poller = poller
	return p
}

// Provision creates the topic with replication factor 1 and unlimited
// retention, then blocks until the metadata agrees.
func (p *Provisioner) Provision(ctx context.Context, name string, partitions int) error {
	if name == "" {
		return ErrCreation.Errorf("cannot create a topic with an empty name")
	}
	if partitions < 1 {
		return ErrCreation.Errorf("topic %s: partition count must be positive, got %d", name, partitions)
	}
	p.log.Info("creating topic", "topic", name, "partitions", partitions)

	err := p.admin.CreateTopic(ctx, TopicSpec{
		Name:              name,
		Partitions:        int32(partitions),
		ReplicationFactor: 1,
		Config:            map[string]string{"retention.ms": RetentionUnlimited},
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrTopicExists):
		p.log.Info("topic already exists", "topic", name)
	default:
		return ErrCreation.Errorf("topic %s: %w", name, err)
	}

	observed := -1
	poller := *p.poller
	poller.OnFailure = func(attempt int, err error) {
		p.log.Debug("topic not converged", "topic", name, "attempt", attempt, "err", err)
	}
	err = poller.Poll(ctx, func(ctx context.Context, _ int) error {
		telemetry.ProvisionPolls.WithLabelValues(name).Inc()
		n, err := p.check(ctx, name, partitions)
		if n >= 0 {
			observed = n
		}
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrConvergenceTimeout.Errorf("topic %s reported %d partitions, want %d: %w", name, observed, partitions, err)
	}
	p.log.Info("topic ready", "topic", name, "partitions", partitions)
	return nil
}

// check returns the observed partition count, or -1 when the topic is not
// listed at all.
func (p *Provisioner) check(ctx context.Context, name string, want int) (int, error) {
	counts, err := p.admin.PartitionCounts(ctx)
	if err != nil {
		return -1, errors.Errorf("metadata fetch: %w", err)
	}
	if len(counts) == 0 {
		return -1, errors.Errorf("metadata fetch returned no topics")
	}
	n, ok := counts[name]
	switch {
	case !ok:
		return -1, errors.Errorf("metadata fetch did not return topic %s", name)
	case n == 0:
		return 0, errors.Errorf("metadata fetch returned topic %s with no partitions", name)
	case n != want:
		return n, errors.Errorf("topic %s has %d partitions when exactly %d was expected", name, n, want)
	}
	return n, nil
}
