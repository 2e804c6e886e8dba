package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataio/strata/pkg/models"
	"github.com/strataio/strata/pkg/strataerrors"
)

// fakeCluster serves an in-memory topic and records produced batches. The
// oldest and newest maps override the log-start and high-water offsets, for
// modeling partitions whose messages have been removed by retention.
type fakeCluster struct {
	partitions map[int32][]*sarama.ConsumerMessage
	oldest     map[int32]int64
	newest     map[int32]int64
	sends      [][]*sarama.ProducerMessage
	sendErr    error
	closed     int
}

func newFakeCluster(counts ...int) *fakeCluster {
	f := &fakeCluster{
		partitions: map[int32][]*sarama.ConsumerMessage{},
		oldest:     map[int32]int64{},
		newest:     map[int32]int64{},
	}
	for partition, count := range counts {
		msgs := make([]*sarama.ConsumerMessage, 0, count)
		for offset := 0; offset < count; offset++ {
			msgs = append(msgs, &sarama.ConsumerMessage{
				Topic:     "events",
				Partition: int32(partition),
				Offset:    int64(offset),
				Value:     []byte(fmt.Sprintf("p%d-o%d", partition, offset)),
			})
		}
		f.partitions[int32(partition)] = msgs
	}
	return f
}

func (f *fakeCluster) GetOffset(topic string, partition int32, time int64) (int64, error) {
	if time == sarama.OffsetOldest {
		return f.oldest[partition], nil
	}
	if newest, ok := f.newest[partition]; ok {
		return newest, nil
	}
	return int64(len(f.partitions[partition])), nil
}

func (f *fakeCluster) Topics() ([]string, error) { return []string{"events"}, nil }
func (f *fakeCluster) Close() error              { f.closed++; return nil }

func (f *fakeCluster) Partitions(topic string) ([]int32, error) {
	partitions := make([]int32, 0, len(f.partitions))
	for partition := range f.partitions {
		partitions = append(partitions, partition)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })
	return partitions, nil
}

func (f *fakeCluster) ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	start := offset
	if start == sarama.OffsetOldest {
		start = 0
	}

	msgs := f.partitions[partition]
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, msg := range msgs {
		if msg.Offset >= start {
			ch <- msg
		}
	}
	return &fakePartitionConsumer{messages: ch, errors: make(chan *sarama.ConsumerError)}, nil
}

func (f *fakeCluster) SendMessages(msgs []*sarama.ProducerMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, msgs)
	return nil
}

type fakePartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (c *fakePartitionConsumer) AsyncClose()  {}
func (c *fakePartitionConsumer) Close() error { return nil }
func (c *fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage {
	return c.messages
}
func (c *fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError { return c.errors }
func (c *fakePartitionConsumer) HighWaterMarkOffset() int64           { return 0 }
func (c *fakePartitionConsumer) Pause()                               {}
func (c *fakePartitionConsumer) Resume()                              {}
func (c *fakePartitionConsumer) IsPaused() bool                       { return false }

func testProvider(cluster *fakeCluster, batchSize int) *Provider {
	return newProvider(cluster, cluster, cluster, Params{Topic: "events", BatchSize: batchSize})
}

func collect(t *testing.T, p *Provider, pos Position) ([]models.Message, []Position) {
	t.Helper()

	stream, err := p.Read(context.Background(), pos)
	require.NoError(t, err)

	var msgs []models.Message
	var positions []Position
	for pair := range stream.Items {
		msgs = append(msgs, pair.Item)
		positions = append(positions, pair.Position)
	}
	select {
	case err := <-stream.Errors:
		require.NoError(t, err)
	default:
	}
	return msgs, positions
}

func TestReadDrainsToHighWaterMark(t *testing.T) {
	cluster := newFakeCluster(3, 2)
	p := testProvider(cluster, 10)

	msgs, positions := collect(t, p, Position{})

	// Partition 0 fully, then partition 1.
	require.Len(t, msgs, 5)
	assert.Equal(t, "0-0", msgs[0].ID)
	assert.Equal(t, []byte("p0-o2"), msgs[2].Payload)
	assert.Equal(t, "1-0", msgs[3].ID)

	last := positions[4]
	assert.Equal(t, int64(3), last.Offsets[0])
	assert.Equal(t, int64(2), last.Offsets[1])
}

func TestReadResumeFromOffsets(t *testing.T) {
	cluster := newFakeCluster(4, 3)
	p := testProvider(cluster, 10)

	_, positions := collect(t, p, Position{})
	require.Len(t, positions, 7)

	// Resume from the position after the fifth message: exactly the
	// remaining messages, once each.
	msgs, _ := collect(t, p, positions[4])
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-1", msgs[0].ID)
	assert.Equal(t, "1-2", msgs[1].ID)
}

func TestReadEmptyTopic(t *testing.T) {
	p := testProvider(newFakeCluster(0, 0), 10)

	msgs, _ := collect(t, p, Position{})
	assert.Empty(t, msgs)
}

func TestReadTerminatesOnFullyExpiredPartition(t *testing.T) {
	// Retention removed every message: log-start caught up to the high-water
	// mark. The stream must end instead of waiting for a message that will
	// never arrive.
	cluster := newFakeCluster(0)
	cluster.newest[0] = 5
	cluster.oldest[0] = 5

	p := testProvider(cluster, 10)

	msgs, _ := collect(t, p, Position{})
	assert.Empty(t, msgs)
}

func TestReadSkipsExpiredPartitionAmongLiveOnes(t *testing.T) {
	cluster := newFakeCluster(0, 3)
	cluster.newest[0] = 4
	cluster.oldest[0] = 4

	p := testProvider(cluster, 10)

	msgs, _ := collect(t, p, Position{})
	require.Len(t, msgs, 3)
	assert.Equal(t, "1-0", msgs[0].ID)
}

func TestReadClampsPositionBelowLogStart(t *testing.T) {
	// The stored offset points at messages retention already removed; the
	// read resumes from the log-start offset instead.
	cluster := newFakeCluster(0)
	cluster.oldest[0] = 2
	cluster.newest[0] = 5
	for offset := int64(2); offset < 5; offset++ {
		cluster.partitions[0] = append(cluster.partitions[0], &sarama.ConsumerMessage{
			Topic:     "events",
			Partition: 0,
			Offset:    offset,
			Value:     []byte(fmt.Sprintf("p0-o%d", offset)),
		})
	}

	p := testProvider(cluster, 10)

	msgs, _ := collect(t, p, Position{Offsets: map[int32]int64{0: 0}})
	require.Len(t, msgs, 3)
	assert.Equal(t, "0-2", msgs[0].ID)
	assert.Equal(t, "0-4", msgs[2].ID)
}

func TestReadFullyConsumedPositionYieldsNothing(t *testing.T) {
	cluster := newFakeCluster(2)
	p := testProvider(cluster, 10)

	_, positions := collect(t, p, Position{})
	require.NotEmpty(t, positions)

	msgs, _ := collect(t, p, positions[len(positions)-1])
	assert.Empty(t, msgs)
}

func TestWriteChunks(t *testing.T) {
	cluster := newFakeCluster()
	p := testProvider(cluster, 2)

	items := make([]models.Message, 0, 5)
	for i := 0; i < 5; i++ {
		items = append(items, models.Message{
			Key:     []byte(fmt.Sprintf("k%d", i)),
			Payload: []byte(fmt.Sprintf("v%d", i)),
			Headers: map[string]string{"source": "test"},
		})
	}
	require.NoError(t, p.Write(context.Background(), items))

	// 5 messages in chunks of 2: three produce calls of 2, 2, and 1.
	require.Len(t, cluster.sends, 3)
	assert.Len(t, cluster.sends[0], 2)
	assert.Len(t, cluster.sends[2], 1)

	first := cluster.sends[0][0]
	assert.Equal(t, "events", first.Topic)
	assert.Equal(t, sarama.ByteEncoder("v0"), first.Value)
	require.Len(t, first.Headers, 1)
	assert.Equal(t, []byte("source"), first.Headers[0].Key)
}

func TestWriteEmptyIsNoop(t *testing.T) {
	cluster := newFakeCluster()
	p := testProvider(cluster, 2)

	require.NoError(t, p.Write(context.Background(), nil))
	assert.Empty(t, cluster.sends)
}

func TestWriteSurfacesClassifiedError(t *testing.T) {
	cluster := newFakeCluster()
	cluster.sendErr = sarama.ErrUnknownTopicOrPartition
	p := testProvider(cluster, 10)

	err := p.Write(context.Background(), []models.Message{{Payload: []byte("x")}})
	require.Error(t, err)
	assert.True(t, strataerrors.IsKind(err, strataerrors.KindNotFound))
}

func TestCloseIdempotent(t *testing.T) {
	cluster := newFakeCluster()
	p := testProvider(cluster, 10)

	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, cluster.closed)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind strataerrors.Kind
	}{
		{"unknown topic", sarama.ErrUnknownTopicOrPartition, strataerrors.KindNotFound},
		{"request timed out", sarama.ErrRequestTimedOut, strataerrors.KindTimeout},
		{"network exception", sarama.ErrNetworkException, strataerrors.KindConnection},
		{"sasl failed", sarama.ErrSASLAuthenticationFailed, strataerrors.KindConnection},
		{"out of brokers", sarama.ErrOutOfBrokers, strataerrors.KindConnection},
		{"message too large", sarama.ErrMessageSizeTooLarge, strataerrors.KindInvalidInput},
		{"offset out of range", sarama.ErrOffsetOutOfRange, strataerrors.KindProvider},
		{"ctx deadline", context.DeadlineExceeded, strataerrors.KindTimeout},
		{"opaque", errors.New("boom"), strataerrors.KindProvider},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.err, "op failed")
			assert.Equal(t, tc.kind, strataerrors.KindOf(err))
		})
	}
}
