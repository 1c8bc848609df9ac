// Package eventbus delivers operator events from controller instances to
// asynchronous subscribers.
package eventbus

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/serialx/hashring"
)

// ErrClosed 事件总线已关闭
var ErrClosed = errors.New("flowgate: event bus closed")

// ErrFull 目标分区队列已满
var ErrFull = errors.New("flowgate: event bus partition full")

// EventBus 事件总线接口
type EventBus interface {
	Publisher
	Subscribe(topic string, handler Handler) error
	Close() error
	GetStats() *Stats
}

// Stats 统计信息
type Stats struct {
	PublishedCount int64
	ProcessedCount int64
	FailedCount    int64
	PartitionCount int
	QueuedCount    []int
}

// InMemoryEventBus 基于内存的事件总线实现，每个分区一个消费协程。
// Publish 不阻塞，分区满时直接拒绝。
type InMemoryEventBus struct {
	partitions     []*partition
	partitionNodes []string
	hashRing       *hashring.HashRing

	mu          sync.RWMutex
	subscribers map[string][]Handler
	closed      bool
	wg          sync.WaitGroup
	logger      *slog.Logger

	publishedCount int64
	processedCount int64
	failedCount    int64
}

// NewInMemoryEventBus 创建新的内存事件总线，参数非正时取 1 和 64
func NewInMemoryEventBus(partitionCount, queueSize int, logger *slog.Logger) *InMemoryEventBus {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	bus := &InMemoryEventBus{
		partitions:     make([]*partition, partitionCount),
		partitionNodes: make([]string, partitionCount),
		subscribers:    make(map[string][]Handler),
		logger:         logger.With("component", "eventbus"),
	}
	for i := 0; i < partitionCount; i++ {
		bus.partitionNodes[i] = "partition-" + strconv.Itoa(i)
	}
	// 创建一致性哈希环
	bus.hashRing = hashring.New(bus.partitionNodes)

	for i := 0; i < partitionCount; i++ {
		bus.partitions[i] = &partition{id: i, queue: make(chan *Event, queueSize)}
		bus.wg.Add(1)
		go bus.runPartition(bus.partitions[i])
	}
	return bus
}

// Publish 发布事件，按 Key 选择分区
func (b *InMemoryEventBus) Publish(event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	id := b.partitionID(event.Key)
	select {
	case b.partitions[id].queue <- event:
		atomic.AddInt64(&b.publishedCount, 1)
		return nil
	default:
		return fmt.Errorf("%w: partition %d, topic %s", ErrFull, id, event.Topic)
	}
}

// Subscribe 订阅主题，同一主题的处理器按订阅顺序执行
func (b *InMemoryEventBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subscribers[topic] = append(b.subscribers[topic], handler)
	b.logger.Debug("subscribed", "topic", topic)
	return nil
}

// Close 关闭事件总线，等待所有分区处理完队列中的事件
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, p := range b.partitions {
		close(p.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Debug("event bus closed",
		"published", atomic.LoadInt64(&b.publishedCount),
		"processed", atomic.LoadInt64(&b.processedCount))
	return nil
}

// GetStats 获取统计信息
func (b *InMemoryEventBus) GetStats() *Stats {
	stats := &Stats{
		PublishedCount: atomic.LoadInt64(&b.publishedCount),
		ProcessedCount: atomic.LoadInt64(&b.processedCount),
		FailedCount:    atomic.LoadInt64(&b.failedCount),
		PartitionCount: len(b.partitions),
		QueuedCount:    make([]int, len(b.partitions)),
	}
	for i, p := range b.partitions {
		stats.QueuedCount[i] = len(p.queue)
	}
	return stats
}

// partitionID 使用一致性哈希环计算分区ID
func (b *InMemoryEventBus) partitionID(key string) int {
	node, ok := b.hashRing.GetNode(key)
	if !ok {
		// 哈希环为空
		return 0
	}
	for i, n := range b.partitionNodes {
		if n == node {
			return i
		}
	}
	return 0
}

func (b *InMemoryEventBus) handlers(topic string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subscribers[topic]
}

func (b *InMemoryEventBus) runPartition(p *partition) {
	defer b.wg.Done()

	for event := range p.queue {
		hs := b.handlers(event.Topic)
		if len(hs) == 0 {
			b.logger.Debug("no handler for topic", "topic", event.Topic)
			continue
		}
		failed := false
		for _, h := range hs {
			if err := h(event); err != nil {
				failed = true
				b.logger.Error("event handler failed", "partition", p.id, "topic", event.Topic, "error", err)
			}
		}
		if failed {
			atomic.AddInt64(&b.failedCount, 1)
		} else {
			atomic.AddInt64(&b.processedCount, 1)
		}
	}
}
