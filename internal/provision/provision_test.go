package provision

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitfeed/internal/backoff"
)

// fakeAdmin models a broker whose metadata lags topic creation by a
// configurable number of polls.
type fakeAdmin struct {
	mu        sync.Mutex
	topics    map[string]int
	specs     []TopicSpec
	lagPolls  int
	polls     int
	metaErrs  int
	createErr error
	// report, if set, overrides the listed partition count.
	report func(name string, n int) int
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{topics: map[string]int{"__consumer_offsets": 50}}
}

func (f *fakeAdmin) CreateTopic(_ context.Context, spec TopicSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.topics[spec.Name]; ok {
		return ErrTopicExists
	}
	f.topics[spec.Name] = int(spec.Partitions)
	return nil
}

func (f *fakeAdmin) PartitionCounts(context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.metaErrs > 0 {
		f.metaErrs--
		return nil, errors.New("broker not available")
	}
	out := make(map[string]int, len(f.topics))
	for name, n := range f.topics {
		if f.polls <= f.lagPolls && name != "__consumer_offsets" {
			continue
		}
		if f.report != nil {
			n = f.report(name, n)
		}
		out[name] = n
	}
	return out, nil
}

type recordingSleep struct {
	total time.Duration
	calls int
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.total += d
	r.calls++
	return nil
}

func newTestProvisioner(admin Admin, clk *recordingSleep) *Provisioner {
	return New(admin).WithPoller(&backoff.Poller{Policy: backoff.Convergence, Sleep: clk.sleep})
}

func TestProvision_CreatesWithUnlimitedRetention(t *testing.T) {
	admin := newFakeAdmin()
	clk := &recordingSleep{}

	require.NoError(t, newTestProvisioner(admin, clk).Provision(context.Background(), "mbta-1", 1))

	require.Len(t, admin.specs, 1)
	spec := admin.specs[0]
	assert.Equal(t, "mbta-1", spec.Name)
	assert.EqualValues(t, 1, spec.Partitions)
	assert.EqualValues(t, 1, spec.ReplicationFactor)
	assert.Equal(t, "-1", spec.Config["retention.ms"])
}

func TestProvision_Idempotent(t *testing.T) {
	admin := newFakeAdmin()
	clk := &recordingSleep{}
	p := newTestProvisioner(admin, clk)

	require.NoError(t, p.Provision(context.Background(), "mbta-2", 3))
	require.NoError(t, p.Provision(context.Background(), "mbta-2", 3))

	assert.Len(t, admin.specs, 2)
	assert.Len(t, admin.topics, 2) // mbta-2 plus the internal offsets topic
	assert.Equal(t, 3, admin.topics["mbta-2"])
}

func TestProvision_WaitsForMetadataToCatchUp(t *testing.T) {
	admin := newFakeAdmin()
	admin.lagPolls = 2
	admin.metaErrs = 1
	clk := &recordingSleep{}

	require.NoError(t, newTestProvisioner(admin, clk).Provision(context.Background(), "mbta-3", 1))
	assert.Equal(t, 3, admin.polls)
	assert.Equal(t, 3, clk.calls)
	assert.Equal(t, 700*time.Millisecond, clk.total)
}

func TestProvision_LogsEachFailedPoll(t *testing.T) {
	admin := newFakeAdmin()
	admin.lagPolls = 2
	admin.metaErrs = 1
	clk := &recordingSleep{}
	poller := &backoff.Poller{Policy: backoff.Convergence, Sleep: clk.sleep}
	p := New(admin).WithPoller(poller)
	var buf bytes.Buffer
	p.log = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	require.NoError(t, p.Provision(context.Background(), "mbta-log", 1))
	assert.Equal(t, 2, strings.Count(buf.String(), "topic not converged"))
	assert.Contains(t, buf.String(), "attempt=0")
	assert.Contains(t, buf.String(), "attempt=1")
	assert.Nil(t, poller.OnFailure, "shared poller must not be modified")
}

func TestProvision_ConvergenceTimeout(t *testing.T) {
	admin := newFakeAdmin()
	admin.report = func(name string, n int) int {
		if name == "mbta-4" {
			return n + 1
		}
		return n
	}
	clk := &recordingSleep{}

	err := newTestProvisioner(admin, clk).Provision(context.Background(), "mbta-4", 1)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConvergenceTimeout))
	assert.Contains(t, err.Error(), "reported 2 partitions")
	assert.Equal(t, 7, admin.polls)
	assert.GreaterOrEqual(t, clk.total, 12700*time.Millisecond)
}

func TestProvision_CreationErrorIsFatal(t *testing.T) {
	admin := newFakeAdmin()
	admin.createErr = errors.New("invalid replication factor")
	clk := &recordingSleep{}

	err := newTestProvisioner(admin, clk).Provision(context.Background(), "mbta-5", 1)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCreation))
	assert.Zero(t, admin.polls, "no polling after a failed create")
}

func TestProvision_RejectsBadArguments(t *testing.T) {
	p := newTestProvisioner(newFakeAdmin(), &recordingSleep{})
	assert.True(t, errors.Is(p.Provision(context.Background(), "", 1), ErrCreation))
	assert.True(t, errors.Is(p.Provision(context.Background(), "mbta", 0), ErrCreation))
}
