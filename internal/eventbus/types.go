package eventbus

import (
	"net/netip"
	"time"
)

// Topics published by controller instances.
const (
	TopicMissingGateway    = "missing_gateway"
	TopicResolutionExpired = "resolution_expired"
	TopicChannelError      = "channel_error"
)

// Event is one operator notification. Key selects the partition, so events
// with the same key are handled in publish order.
type Event struct {
	Topic   string `json:"topic"`
	Key     string `json:"key"`
	Payload any    `json:"payload"`
}

// Handler 事件处理函数
type Handler func(event *Event) error

// Publisher 事件发布接口
type Publisher interface {
	Publish(event *Event) error
}

// MissingGateway reports a routed packet whose destination subnet has no
// configured gateway.
type MissingGateway struct {
	Switch string     `json:"switch"`
	Src    netip.Addr `json:"src"`
	Dst    netip.Addr `json:"dst"`
}

// ResolutionExpired reports a target that never answered.
type ResolutionExpired struct {
	Switch   string        `json:"switch"`
	Target   netip.Addr    `json:"target"`
	Attempts int           `json:"attempts"`
	Dropped  int           `json:"dropped"`
	Waited   time.Duration `json:"waited"`
}

// ChannelError reports a failed control channel call.
type ChannelError struct {
	Switch string `json:"switch"`
	Op     string `json:"op"`
	Error  string `json:"error"`
}

type partition struct {
	id    int
	queue chan *Event
}
