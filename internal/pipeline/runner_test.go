package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitfeed/internal/sequencer"
	"transitfeed/source/feed"
)

// sliceSource replays fixed lines and then blocks like a live feed would.
type sliceSource struct {
	lines []string
}

func (s *sliceSource) Run(ctx context.Context, emit feed.EmitFunc) error {
	for _, l := range s.lines {
		if err := emit(l); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *sliceSource) Close() error { return nil }

type sent struct {
	topic string
	key   string
	value string
}

type captureSink struct {
	sent   []sent
	failOn int // 1-based send number, 0 = never
	cancel context.CancelFunc
	stopAt int
}

func (c *captureSink) Send(_ context.Context, topic string, _ int32, key, value []byte) error {
	c.sent = append(c.sent, sent{topic, string(key), string(value)})
	if c.failOn == len(c.sent) {
		return errors.New("send failed")
	}
	if c.stopAt == len(c.sent) && c.cancel != nil {
		c.cancel()
	}
	return nil
}

func TestRunner_SequencesEventsAndSkipsBrokenLines(t *testing.T) {
	src := &sliceSource{lines: []string{
		"event: update",
		`data: [{"id":"a","type":"vehicle","x":1},{"id":"b","type":"vehicle"}]`,
		`data: {"id":`,
		`data: {"id":"c","type":"vehicle"}`,
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cs := &captureSink{cancel: cancel, stopAt: 6}
	seq := sequencer.New(cs)
	r := NewRunner(src, seq, "mbta", "mbta-data-consistency")

	err := r.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, cs.sent, 6)
	assert.Equal(t, sent{"mbta", "a", `{"x":1}`}, cs.sent[0])
	assert.Equal(t, sent{"mbta-data-consistency", "", "mbta,1,0,0,1"}, cs.sent[1])
	assert.Equal(t, sent{"mbta", "b", ""}, cs.sent[2])
	assert.Equal(t, sent{"mbta-data-consistency", "", "mbta,1,0,1,2"}, cs.sent[3])
	assert.Equal(t, sent{"mbta", "c", ""}, cs.sent[4])
	assert.Equal(t, sent{"mbta-data-consistency", "", "mbta,1,0,2,3"}, cs.sent[5])
	assert.EqualValues(t, 3, seq.Clock())

	lines, skipped := r.Stats()
	assert.EqualValues(t, 4, lines)
	assert.EqualValues(t, 1, skipped)
}

func TestRunner_SendFailureStopsIngestion(t *testing.T) {
	src := &sliceSource{lines: []string{
		`data: {"id":"a"}`,
		`data: {"id":"b"}`,
		`data: {"id":"c"}`,
	}}
	cs := &captureSink{failOn: 4} // consistency record of "b"
	seq := sequencer.New(cs)
	r := NewRunner(src, seq, "mbta", "c")

	err := r.Run(context.Background())

	require.Error(t, err)
	var ee *sequencer.EventError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, sequencer.StageDataSent, ee.Stage)
	assert.Len(t, cs.sent, 4, "nothing is sent after the failure")
	assert.EqualValues(t, 1, seq.Clock())
}

func TestRunner_RequiresCollaborators(t *testing.T) {
	assert.Error(t, NewRunner(nil, nil, "a", "b").Run(context.Background()))
}
