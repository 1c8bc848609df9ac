package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    KafkaOptions
		wantErr bool
	}{
		{"missing brokers", KafkaOptions{}, true},
		{"empty broker", KafkaOptions{Brokers: []string{""}}, true},
		{"invalid compression", KafkaOptions{Brokers: []string{"localhost:9092"}, Compression: "zstd2"}, true},
		{"minimal", KafkaOptions{Brokers: []string{"localhost:9092"}}, false},
		{"full", KafkaOptions{Brokers: []string{"b1:9092", "b2:9092"}, Topic: "ops", BatchSize: 10,
			BatchTimeout: time.Second, Compression: "gzip", MaxAttempts: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	opts := KafkaOptions{Brokers: []string{"localhost:9092"}}
	require.NoError(t, opts.Validate())
	assert.Equal(t, DefaultKafkaTopic, opts.Topic)
	assert.Equal(t, DefaultKafkaBatchSize, opts.BatchSize)
	assert.Equal(t, DefaultKafkaBatchTimeout, opts.BatchTimeout)
	assert.Equal(t, DefaultKafkaCompression, opts.Compression)
	assert.Equal(t, DefaultKafkaMaxAttempts, opts.MaxAttempts)
}

func TestKafkaExporterEncodesEvents(t *testing.T) {
	w := &fakeWriter{}
	x := newKafkaExporter(w, "ops", nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	x.now = func() time.Time { return at }

	require.NoError(t, x.Export(&Event{
		Topic: TopicResolutionExpired,
		Key:   "s1",
		Payload: ResolutionExpired{
			Switch:   "s1",
			Target:   netip.MustParseAddr("10.2.1.50"),
			Attempts: 3,
			Dropped:  1,
		},
	}))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "s1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TopicResolutionExpired, string(msg.Headers[0].Value))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &rec))
	assert.Equal(t, TopicResolutionExpired, rec["topic"])
	assert.Equal(t, float64(at.UnixMilli()), rec["timestamp"])
	payload := rec["payload"].(map[string]any)
	assert.Equal(t, "10.2.1.50", payload["target"])

	require.NoError(t, x.Close())
	assert.True(t, w.closed)
}

func TestKafkaExporterWriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	x := newKafkaExporter(w, "ops", nil)

	err := x.Export(&Event{Topic: TopicChannelError, Key: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
	assert.Equal(t, uint64(1), x.failed.Load())
	assert.Error(t, x.Export(nil))
}

func TestKafkaExporterSubscribesOperatorTopics(t *testing.T) {
	w := &fakeWriter{}
	x := newKafkaExporter(w, "ops", nil)
	bus := NewInMemoryEventBus(2, 16, nil)
	require.NoError(t, x.Subscribe(bus))

	for _, topic := range OperatorTopics {
		require.NoError(t, bus.Publish(&Event{Topic: topic, Key: "s1"}))
	}
	require.NoError(t, bus.Publish(&Event{Topic: "unrelated", Key: "s1"}))
	require.NoError(t, bus.Close())

	assert.Len(t, w.msgs, len(OperatorTopics))
	assert.Equal(t, uint64(len(OperatorTopics)), x.exported.Load())
}

func TestNewKafkaExporterRejectsBadOptions(t *testing.T) {
	_, err := NewKafkaExporter(KafkaOptions{}, nil)
	assert.Error(t, err)
}
