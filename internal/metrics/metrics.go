// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts packet-in messages by classified path
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_packets_total",
			Help: "Total number of packet-in messages by classification path",
		},
		[]string{"switch", "path"},
	)

	// DecisionsTotal counts forwarding decisions
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_decisions_total",
			Help: "Total number of forwarding decisions by outcome",
		},
		[]string{"switch", "outcome"},
	)

	// ParseErrorsTotal counts frames that failed classification
	ParseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_parse_errors_total",
			Help: "Total number of packet-in frames that could not be decoded",
		},
		[]string{"switch"},
	)

	// ACLVerdictsTotal counts policy evaluations
	ACLVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_acl_verdicts_total",
			Help: "Total number of access-control verdicts",
		},
		[]string{"switch", "verdict"},
	)

	// ARPEventsTotal counts resolver events (reply_gateway, reply_cached,
	// flood_request, request_sent, retry, resolved, expired, held_dropped)
	ARPEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_arp_events_total",
			Help: "Total number of address resolution events",
		},
		[]string{"switch", "event"},
	)

	// MissingGatewayTotal counts routed packets whose destination subnet has no gateway
	MissingGatewayTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_missing_gateway_total",
			Help: "Total number of routed packets flooded for lack of a gateway mapping",
		},
		[]string{"switch"},
	)

	// ChannelErrorsTotal counts failed control channel calls
	ChannelErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_channel_errors_total",
			Help: "Total number of control channel calls that returned an error",
		},
		[]string{"switch", "op"},
	)

	// LearnedAddresses tracks MAC table size
	LearnedAddresses = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowgate_learned_addresses",
			Help: "Current number of entries in the MAC learning table",
		},
		[]string{"switch"},
	)

	// GatewayTrafficTotal counts IPv4 packets addressed to a gateway itself
	GatewayTrafficTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_gateway_traffic_total",
			Help: "Total number of IPv4 packets addressed to a gateway address and ignored",
		},
		[]string{"switch"},
	)

	// LearningEvictionsTotal counts addresses dropped by the learning table bound
	LearningEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_learning_evictions_total",
			Help: "Total number of learned addresses evicted because the table was full",
		},
		[]string{"switch"},
	)

	// PendingResolutions tracks targets awaiting ARP resolution
	PendingResolutions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowgate_pending_resolutions",
			Help: "Current number of addresses awaiting ARP resolution",
		},
		[]string{"switch"},
	)

	// InstanceStatus tracks controller instance lifecycle
	InstanceStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowgate_instance_status",
			Help: "Current status of controller instances (0=stopped, 1=running, 2=error)",
		},
		[]string{"switch"},
	)

	// EventsDroppedTotal counts operator events lost to a full bus partition
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_events_dropped_total",
			Help: "Total number of operator events dropped because the bus was full",
		},
		[]string{"topic"},
	)
)

// InstanceStatus values
const (
	InstanceStopped = 0
	InstanceRunning = 1
	InstanceError   = 2
)
