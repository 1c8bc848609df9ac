package arp

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"time"

	"firestige.xyz/flowgate/internal/core"
)

// Resolver defaults.
const (
	DefaultRetryInterval = time.Second
	DefaultMaxRetries    = 3
	DefaultMaxQueued     = 8
)

// State is the resolution state of one target address.
type State uint8

const (
	StateUnknown State = iota
	StateRequested
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Config tunes the resolver.
type Config struct {
	// RetryInterval is the minimum spacing between flooded requests for
	// the same target.
	RetryInterval time.Duration
	// MaxRetries is the number of controller requests sent before an
	// unresolved target expires.
	MaxRetries int
	// MaxQueued bounds the packets held per target. The oldest is dropped
	// when the queue is full.
	MaxQueued int
	// ProbeMAC is the sender identity for requests into subnets that have
	// no gateway.
	ProbeMAC core.MAC
}

func (c Config) withDefaults() Config {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxQueued <= 0 {
		c.MaxQueued = DefaultMaxQueued
	}
	if c.ProbeMAC.IsZero() {
		c.ProbeMAC = DefaultProbeMAC
	}
	return c
}

type pending struct {
	target   netip.Addr
	attempts int
	firstAt  time.Time
	lastAt   time.Time
	held     []core.PacketContext
}

// Resolver owns the ARP cache and the pending resolutions of one controller
// instance. It is driven from a single goroutine and takes no locks.
type Resolver struct {
	cfg      Config
	cache    *Cache
	gateways *GatewayRegistry
	pending  map[netip.Addr]*pending
	logger   *slog.Logger
}

// NewResolver returns a resolver answering for gws. logger may be nil.
func NewResolver(cfg Config, gws *GatewayRegistry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cfg:      cfg.withDefaults(),
		cache:    NewCache(gws),
		gateways: gws,
		pending:  make(map[netip.Addr]*pending),
		logger:   logger,
	}
}

// Config returns the effective configuration.
func (r *Resolver) Config() Config { return r.cfg }

// Lookup returns the resolved MAC for ip.
func (r *Resolver) Lookup(ip netip.Addr) (core.MAC, bool) {
	return r.cache.Lookup(ip)
}

// State reports where ip is in the resolution state machine.
func (r *Resolver) State(ip netip.Addr) State {
	if _, ok := r.cache.Lookup(ip); ok {
		return StateResolved
	}
	if _, ok := r.pending[ip]; ok {
		return StateRequested
	}
	return StateUnknown
}

// Pending returns the number of targets awaiting resolution.
func (r *Resolver) Pending() int { return len(r.pending) }

// CacheLen returns the number of learned addresses.
func (r *Resolver) CacheLen() int { return r.cache.Len() }

// Learn records the sender binding of an ARP packet. If the address was
// pending it becomes resolved and the packets held for it are returned in
// arrival order; the caller finalizes them.
func (r *Resolver) Learn(ip netip.Addr, mac core.MAC) []core.PacketContext {
	if !r.cache.Learn(ip, mac) {
		if r.gateways.IsGateway(ip) {
			r.logger.Debug("ignoring ARP binding for gateway address", "ip", ip, "mac", mac)
		}
		return nil
	}
	p, ok := r.pending[ip]
	if !ok {
		return nil
	}
	delete(r.pending, ip)
	r.logger.Debug("resolved address", "ip", ip, "mac", mac, "attempts", p.attempts, "held", len(p.held))
	return p.held
}

// RequestAction is the resolver's answer to an ARP request.
type RequestAction uint8

const (
	// ReplyGateway: the target is a gateway; Reply goes back out the
	// ingress port only.
	ReplyGateway RequestAction = iota + 1
	// ReplyCached: the target is a learned host; Reply goes back out the
	// ingress port only.
	ReplyCached
	// FloodRequest: the target is unknown; the original request is flooded
	// and the target is now pending.
	FloodRequest
)

func (a RequestAction) String() string {
	switch a {
	case ReplyGateway:
		return "reply_gateway"
	case ReplyCached:
		return "reply_cached"
	case FloodRequest:
		return "flood_request"
	default:
		return "none"
	}
}

// RequestResult carries the decision for an ARP request.
type RequestResult struct {
	Action RequestAction
	// Reply is the frame to send for ReplyGateway and ReplyCached.
	Reply []byte
	// ReplyMAC is the address the reply announces.
	ReplyMAC core.MAC
}

// HandleRequest decides how to answer an ARP request. The sender binding
// must already have been learned by the caller.
func (r *Resolver) HandleRequest(req *core.ARPPayload, now time.Time) (RequestResult, error) {
	if gw, ok := r.gateways.Lookup(req.TargetIP); ok {
		frame, err := BuildReply(gw.MAC, gw.IP, req.SenderMAC, req.SenderIP)
		if err != nil {
			return RequestResult{}, err
		}
		return RequestResult{Action: ReplyGateway, Reply: frame, ReplyMAC: gw.MAC}, nil
	}

	if mac, ok := r.cache.Lookup(req.TargetIP); ok {
		frame, err := BuildReply(mac, req.TargetIP, req.SenderMAC, req.SenderIP)
		if err != nil {
			return RequestResult{}, err
		}
		return RequestResult{Action: ReplyCached, Reply: frame, ReplyMAC: mac}, nil
	}

	if req.TargetIP.Is4() && !req.TargetIP.IsUnspecified() {
		if p, ok := r.pending[req.TargetIP]; ok {
			p.lastAt = now
		} else {
			r.pending[req.TargetIP] = &pending{target: req.TargetIP, firstAt: now, lastAt: now}
		}
	}
	return RequestResult{Action: FloodRequest}, nil
}

// ResolveResult is the outcome of Resolve.
type ResolveResult struct {
	// Request is the flooded who-has frame to send, nil when a request is
	// already outstanding.
	Request []byte
	// Evicted is the held packet dropped to make room, if any.
	Evicted *core.PacketContext
}

// Resolve parks held until target resolves. The first call for an unknown
// target returns a request to flood; later calls only queue. held must not
// alias a receive buffer.
func (r *Resolver) Resolve(target netip.Addr, held core.PacketContext, now time.Time) (ResolveResult, error) {
	var res ResolveResult
	p, ok := r.pending[target]
	if !ok {
		frame, err := r.request(target)
		if err != nil {
			return res, err
		}
		r.pending[target] = &pending{
			target:   target,
			attempts: 1,
			firstAt:  now,
			lastAt:   now,
			held:     []core.PacketContext{held},
		}
		res.Request = frame
		return res, nil
	}

	if len(p.held) >= r.cfg.MaxQueued {
		evicted := p.held[0]
		res.Evicted = &evicted
		p.held = append(p.held[:0], p.held[1:]...)
	}
	p.held = append(p.held, held)
	return res, nil
}

// Retry is a re-sent request produced by Expire.
type Retry struct {
	Target  netip.Addr
	Attempt int
	Request []byte
}

// Expired is a target that gave up resolving.
type Expired struct {
	Target   netip.Addr
	Attempts int
	Since    time.Time
	Dropped  []core.PacketContext
}

// SweepResult is the outcome of Expire.
type SweepResult struct {
	Retries []Retry
	Expired []Expired
}

// Expire advances pending resolutions to now. A target whose last request
// is older than RetryInterval is re-requested while it has held packets and
// fewer than MaxRetries requests were sent; otherwise it expires, returns to
// the unknown state, and its held packets are dropped. Results are ordered
// by target address.
func (r *Resolver) Expire(now time.Time) SweepResult {
	var res SweepResult
	if len(r.pending) == 0 {
		return res
	}

	targets := make([]netip.Addr, 0, len(r.pending))
	for ip := range r.pending {
		targets = append(targets, ip)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Less(targets[j]) })

	for _, ip := range targets {
		p := r.pending[ip]
		if now.Sub(p.lastAt) < r.cfg.RetryInterval {
			continue
		}
		if len(p.held) > 0 && p.attempts < r.cfg.MaxRetries {
			frame, err := r.request(ip)
			if err == nil {
				p.attempts++
				p.lastAt = now
				res.Retries = append(res.Retries, Retry{Target: ip, Attempt: p.attempts, Request: frame})
				continue
			}
			r.logger.Warn("cannot build ARP request", "target", ip, "error", err)
		}
		delete(r.pending, ip)
		res.Expired = append(res.Expired, Expired{Target: ip, Attempts: p.attempts, Since: p.firstAt, Dropped: p.held})
	}
	return res
}

// request builds the controller's who-has for target. The sender is the
// gateway of target's subnet, or the probe identity with 0.0.0.0.
func (r *Resolver) request(target netip.Addr) ([]byte, error) {
	senderMAC, senderIP := r.cfg.ProbeMAC, netip.IPv4Unspecified()
	if gw, ok := r.gateways.ForSubnet(target); ok {
		senderMAC, senderIP = gw.MAC, gw.IP
	}
	frame, err := BuildRequest(senderMAC, senderIP, target)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target, err)
	}
	return frame, nil
}
