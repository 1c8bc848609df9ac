package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
)

// Kafka exporter defaults.
const (
	DefaultKafkaTopic        = "flowgate.events"
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchTimeout = 100 * time.Millisecond
	DefaultKafkaCompression  = "snappy"
	DefaultKafkaMaxAttempts  = 3

	kafkaWriteTimeout = 5 * time.Second
)

// KafkaOptions configures a KafkaExporter.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string // none|gzip|snappy|lz4
	MaxAttempts  int
}

// Validate fills defaults and checks the required fields.
func (o *KafkaOptions) Validate() error {
	if len(o.Brokers) == 0 {
		return fmt.Errorf("kafka: brokers is required")
	}
	for i, b := range o.Brokers {
		if b == "" {
			return fmt.Errorf("kafka: broker %d is empty", i)
		}
	}
	if o.Topic == "" {
		o.Topic = DefaultKafkaTopic
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultKafkaBatchSize
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = DefaultKafkaBatchTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultKafkaMaxAttempts
	}
	if o.Compression == "" {
		o.Compression = DefaultKafkaCompression
	}
	if _, err := compressionCodec(o.Compression); err != nil {
		return err
	}
	return nil
}

func compressionCodec(name string) (compress.Codec, error) {
	switch name {
	case "none":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	default:
		return nil, fmt.Errorf("kafka: invalid compression type: %s", name)
	}
}

// messageWriter is the part of *kafka.Writer the exporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaExporter forwards operator events to a Kafka topic, keyed by switch
// so that one switch's events stay in order on a partition.
type KafkaExporter struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
	now    func() time.Time

	exported atomic.Uint64
	failed   atomic.Uint64
}

// NewKafkaExporter validates opts and creates the writer. Brokers are not
// contacted until the first event.
func NewKafkaExporter(opts KafkaOptions, logger *slog.Logger) (*KafkaExporter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	codec, _ := compressionCodec(opts.Compression)
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:          opts.Brokers,
		Topic:            opts.Topic,
		Balancer:         &kafka.Hash{},
		BatchSize:        opts.BatchSize,
		BatchTimeout:     opts.BatchTimeout,
		MaxAttempts:      opts.MaxAttempts,
		CompressionCodec: codec,
	})
	return newKafkaExporter(w, opts.Topic, logger), nil
}

func newKafkaExporter(w messageWriter, topic string, logger *slog.Logger) *KafkaExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaExporter{
		writer: w,
		topic:  topic,
		logger: logger.With("component", "kafka-exporter", "topic", topic),
		now:    time.Now,
	}
}

// Subscribe registers the exporter for every operator topic on bus.
func (x *KafkaExporter) Subscribe(bus EventBus) error {
	for _, topic := range OperatorTopics {
		if err := bus.Subscribe(topic, x.Export); err != nil {
			return err
		}
	}
	return nil
}

// Export writes one event. It runs on a bus partition goroutine.
func (x *KafkaExporter) Export(ev *Event) error {
	msg, err := encodeEvent(ev, x.now())
	if err != nil {
		x.failed.Add(1)
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
	defer cancel()
	if err := x.writer.WriteMessages(ctx, msg); err != nil {
		x.failed.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	x.exported.Add(1)
	return nil
}

// Close flushes pending messages. Close the bus first.
func (x *KafkaExporter) Close() error {
	err := x.writer.Close()
	x.logger.Info("kafka exporter stopped",
		"total_exported", x.exported.Load(),
		"total_errors", x.failed.Load(),
	)
	return err
}

type kafkaRecord struct {
	Topic     string `json:"topic"`
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"` // unix millis
	Payload   any    `json:"payload"`
}

func encodeEvent(ev *Event, now time.Time) (kafka.Message, error) {
	if ev == nil {
		return kafka.Message{}, fmt.Errorf("nil event")
	}
	value, err := json.Marshal(kafkaRecord{
		Topic:     ev.Topic,
		Key:       ev.Key,
		Timestamp: now.UnixMilli(),
		Payload:   ev.Payload,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serialize event failed: %w", err)
	}
	return kafka.Message{
		Key:     []byte(ev.Key),
		Value:   value,
		Time:    now,
		Headers: []kafka.Header{{Key: "topic", Value: []byte(ev.Topic)}},
	}, nil
}
