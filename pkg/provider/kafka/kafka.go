// Package kafka implements the Strata provider contract for Kafka topics.
//
// Reads are bounded: each partition is consumed from the resumable offset up
// to the high-water mark observed when the read started, then the stream
// ends. The resumable position maps partition to next offset, so a resumed
// read picks up exactly where the previous one stopped. Partitions are
// consumed sequentially in partition order; ordering across partitions is
// not part of the contract.
//
// Writes produce one SendMessages call per chunk of the configured batch
// size, in order. Produced messages are not idempotent, so retrying a
// partially failed write may duplicate messages.
package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/strataio/strata/pkg/logger"
	"github.com/strataio/strata/pkg/metrics"
	"github.com/strataio/strata/pkg/models"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/strataerrors"
)

const defaultBatchSize = 500

// Credentials locates and authenticates a Kafka cluster.
type Credentials struct {
	Brokers  []string
	Username string
	Password string
}

// Params is the immutable configuration for one provider instance.
type Params struct {
	// Topic is the target topic (required). It must already exist;
	// connecting to an absent topic fails with NOT_FOUND.
	Topic string
	// BatchSize bounds write chunks and the read stream buffer; defaults
	// to 500.
	BatchSize int
}

func (p *Params) withDefaults() {
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
}

func (p *Params) validate() error {
	if p.Topic == "" {
		return strataerrors.New(strataerrors.KindInvalidInput, "topic is required")
	}
	return nil
}

// Position is the resumable cursor for a topic read: the next offset to
// consume, per partition. Partitions absent from the map start from the
// oldest retained offset. A zero Position reads every partition from the
// oldest offset.
type Position struct {
	Offsets map[int32]int64 `json:"offsets,omitempty"`
}

func (pos Position) clone() Position {
	if pos.Offsets == nil {
		return Position{}
	}
	offsets := make(map[int32]int64, len(pos.Offsets))
	for partition, offset := range pos.Offsets {
		offsets[partition] = offset
	}
	return Position{Offsets: offsets}
}

// clientAPI, consumerAPI, and producerAPI are the slices of sarama the
// provider depends on.
type clientAPI interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Topics() ([]string, error)
	Close() error
}

type consumerAPI interface {
	Partitions(topic string) ([]int32, error)
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
}

type producerAPI interface {
	SendMessages(msgs []*sarama.ProducerMessage) error
}

// Provider is a connected handle to one Kafka topic.
type Provider struct {
	name      string
	params    Params
	client    clientAPI
	consumer  consumerAPI
	producer  producerAPI
	logger    *zap.Logger
	collector *metrics.Collector

	mu     sync.Mutex
	closed bool
}

var (
	_ core.Provider                            = (*Provider)(nil)
	_ core.DataInput[models.Message, Position] = (*Provider)(nil)
	_ core.DataOutput[models.Message]          = (*Provider)(nil)
)

// Connect dials the cluster and verifies the topic exists. An unreachable
// cluster fails with CONNECTION; an absent topic with NOT_FOUND.
func Connect(ctx context.Context, creds Credentials, params Params) (*Provider, error) {
	params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(creds.Brokers) == 0 {
		return nil, strataerrors.New(strataerrors.KindInvalidInput, "at least one broker is required")
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = "strata"
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if creds.Username != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = creds.Username
		cfg.Net.SASL.Password = creds.Password
	}

	client, err := sarama.NewClient(creds.Brokers, cfg)
	if err != nil {
		return nil, classify(err, "failed to connect to kafka")
	}

	topics, err := client.Topics()
	if err != nil {
		_ = client.Close()
		return nil, classify(err, "topic check failed")
	}
	if !containsTopic(topics, params.Topic) {
		_ = client.Close()
		return nil, strataerrors.Newf(strataerrors.KindNotFound, "topic %s does not exist", params.Topic)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, classify(err, "failed to create consumer")
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, classify(err, "failed to create producer")
	}

	p := newProvider(client, consumer, producer, params)

	p.logger.Info("kafka provider connected",
		zap.String("topic", params.Topic),
		zap.Strings("brokers", creds.Brokers),
		zap.Int("batch_size", params.BatchSize))

	return p, nil
}

func newProvider(client clientAPI, consumer consumerAPI, producer producerAPI, params Params) *Provider {
	params.withDefaults()
	return &Provider{
		name:      "kafka",
		params:    params,
		client:    client,
		consumer:  consumer,
		producer:  producer,
		logger:    logger.Get().With(zap.String("provider", "kafka"), zap.String("topic", params.Topic)),
		collector: metrics.NewCollector(params.Topic, "kafka"),
	}
}

// Name implements core.Provider.
func (p *Provider) Name() string { return p.name }

// Family implements core.Provider.
func (p *Provider) Family() core.Family { return core.FamilyMessage }

// Ping implements core.Provider.
func (p *Provider) Ping(ctx context.Context) error {
	if _, err := p.client.Topics(); err != nil {
		return classify(err, "kafka ping failed")
	}
	return nil
}

// Close tears down the client; the consumer and producer share its
// connections. Idempotent.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.client.Close(); err != nil {
		return classify(err, "failed to close kafka client")
	}
	p.logger.Info("kafka provider closed")
	return nil
}

// Read streams messages from every partition of the topic, each partition
// from its position offset up to the high-water mark captured at start.
// Each yielded pair carries the full per-partition offset map to resume
// from.
func (p *Provider) Read(ctx context.Context, pos Position) (*core.Stream[models.Message, Position], error) {
	partitions, err := p.consumer.Partitions(p.params.Topic)
	if err != nil {
		return nil, classify(err, "failed to list partitions")
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	stream, emitter := core.NewStream[models.Message, Position](p.params.BatchSize)

	go func() {
		defer emitter.Close()

		offsets := pos.clone()
		if offsets.Offsets == nil {
			offsets.Offsets = make(map[int32]int64)
		}

		for _, partition := range partitions {
			if !p.consumePartition(ctx, partition, offsets, emitter) {
				return
			}
		}
	}()

	return stream, nil
}

// consumePartition drains one partition up to its current high-water mark.
// Returns false when the stream should stop (error, cancellation, or the
// consumer went away).
func (p *Provider) consumePartition(ctx context.Context, partition int32, offsets Position, emitter *core.Emitter[models.Message, Position]) bool {
	newest, err := p.client.GetOffset(p.params.Topic, partition, sarama.OffsetNewest)
	if err != nil {
		p.failStream(emitter, classify(err, "failed to fetch high-water mark"))
		return false
	}
	oldest, err := p.client.GetOffset(p.params.Topic, partition, sarama.OffsetOldest)
	if err != nil {
		p.failStream(emitter, classify(err, "failed to fetch log-start offset"))
		return false
	}

	// Retention can advance the log-start offset all the way to the
	// high-water mark; such a partition holds nothing to deliver and waiting
	// for a message at newest-1 would block forever.
	if newest == 0 || oldest >= newest {
		return true
	}

	start, ok := offsets.Offsets[partition]
	if !ok {
		start = sarama.OffsetOldest
	}
	if start >= 0 && start >= newest {
		return true
	}
	// A stored offset below the log-start offset points at expired messages.
	if start >= 0 && start < oldest {
		start = oldest
	}

	pc, err := p.consumer.ConsumePartition(p.params.Topic, partition, start)
	if err != nil {
		p.failStream(emitter, classify(err, "failed to consume partition"))
		return false
	}
	defer func() { _ = pc.Close() }()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return false
		case consumeErr := <-pc.Errors():
			p.failStream(emitter, classify(consumeErr, "partition consume failed"))
			return false
		case msg := <-pc.Messages():
			offsets.Offsets[partition] = msg.Offset + 1
			if !emitter.Send(ctx, messageOf(msg), offsets.clone()) {
				return false
			}
			count++
			if msg.Offset >= newest-1 {
				p.collector.RecordRead(count)
				return true
			}
		}
	}
}

func messageOf(msg *sarama.ConsumerMessage) models.Message {
	item := models.Message{
		ID:        fmt.Sprintf("%d-%d", msg.Partition, msg.Offset),
		Key:       msg.Key,
		Payload:   msg.Value,
		Timestamp: msg.Timestamp,
	}
	if len(msg.Headers) > 0 {
		item.Headers = make(map[string]string, len(msg.Headers))
		for _, header := range msg.Headers {
			item.Headers[string(header.Key)] = string(header.Value)
		}
	}
	return item
}

// Write produces messages in chunks of at most the configured batch size,
// one SendMessages call per chunk, in order. Empty input is a no-op.
func (p *Provider) Write(ctx context.Context, items []models.Message) error {
	if len(items) == 0 {
		return nil
	}

	timer := p.collector.StartTimer("write")
	defer timer.Stop()

	for _, chunk := range core.Chunks(items, p.params.BatchSize) {
		msgs := make([]*sarama.ProducerMessage, 0, len(chunk))
		for _, item := range chunk {
			msg := &sarama.ProducerMessage{
				Topic: p.params.Topic,
				Value: sarama.ByteEncoder(item.Payload),
			}
			if len(item.Key) > 0 {
				msg.Key = sarama.ByteEncoder(item.Key)
			}
			if !item.Timestamp.IsZero() {
				msg.Timestamp = item.Timestamp
			}
			for key, value := range item.Headers {
				msg.Headers = append(msg.Headers, sarama.RecordHeader{
					Key:   []byte(key),
					Value: []byte(value),
				})
			}
			msgs = append(msgs, msg)
		}

		if err := p.producer.SendMessages(msgs); err != nil {
			cerr := classify(err, "bulk produce failed")
			p.collector.RecordError(string(cerr.Kind))
			return cerr
		}
		p.collector.RecordWrite(len(chunk))
	}

	p.logger.Debug("messages written", zap.Int("count", len(items)))
	return nil
}

func (p *Provider) failStream(emitter *core.Emitter[models.Message, Position], err error) {
	p.collector.RecordError(string(strataerrors.KindOf(err)))
	emitter.Fail(err)
}

func containsTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}
