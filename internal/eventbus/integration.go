package eventbus

import (
	"log/slog"

	"firestige.xyz/flowgate/internal/metrics"
)

// OperatorTopics are the topics every deployment should watch.
var OperatorTopics = []string{TopicMissingGateway, TopicResolutionExpired, TopicChannelError}

// SubscribeOperatorLog logs every operator event at warn level.
func SubscribeOperatorLog(bus EventBus, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, topic := range OperatorTopics {
		if err := bus.Subscribe(topic, func(ev *Event) error {
			logger.Warn("operator event", "topic", ev.Topic, "key", ev.Key, "detail", ev.Payload)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Notify publishes ev on pub if pub is set. A rejected event is counted and
// logged but never returned: operator events must not stall packet handling.
func Notify(pub Publisher, ev *Event, logger *slog.Logger) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ev); err != nil {
		metrics.EventsDroppedTotal.WithLabelValues(ev.Topic).Inc()
		if logger != nil {
			logger.Debug("operator event dropped", "topic", ev.Topic, "error", err)
		}
	}
}
