// Package controller turns packet-in events into control channel actions.
//
// An Engine holds the per-switch state (learned MACs, ARP cache, pending
// resolutions) and the decision logic. It is driven by exactly one
// goroutine, normally an Instance, and takes no locks.
package controller

import (
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/flowgate/internal/acl"
	"firestige.xyz/flowgate/internal/arp"
	"firestige.xyz/flowgate/internal/channel"
	"firestige.xyz/flowgate/internal/core"
	"firestige.xyz/flowgate/internal/core/decoder"
	"firestige.xyz/flowgate/internal/eventbus"
	"firestige.xyz/flowgate/internal/learning"
	"firestige.xyz/flowgate/internal/metrics"
)

const pathInvalid = "invalid"

// Options configures an Engine. Policy and Gateways are read-only and may
// be shared between engines.
type Options struct {
	// Switch names the switch in logs, metrics and events.
	Switch  string
	Mode    Mode
	Channel channel.Channel

	// Policy defaults to permit-all.
	Policy *acl.Policy
	// Gateways may be nil when no routing is configured.
	Gateways *arp.GatewayRegistry
	Resolver arp.Config

	// Rule lifetimes in seconds; zero selects the defaults.
	IdleTimeout uint16
	HardTimeout uint16

	// MaxLearned bounds the MAC table; zero selects the default.
	MaxLearned int

	// UnicastARPReplies sends a host's ARP reply to the port its target
	// was learned on instead of flooding it.
	UnicastARPReplies bool

	Events eventbus.Publisher
	Logger *slog.Logger
}

// Engine is the forwarding decision core of one switch.
type Engine struct {
	name     string
	mode     Mode
	ch       channel.Channel
	policy   *acl.Policy
	gateways *arp.GatewayRegistry
	resolver *arp.Resolver
	macs     *learning.Table
	cls      *decoder.Classifier
	events   eventbus.Publisher
	logger   *slog.Logger

	idle, hard     uint16
	unicastReplies bool
}

// NewEngine validates opts and returns an engine with empty tables.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Channel == nil {
		return nil, fmt.Errorf("%w: engine %q has no control channel", core.ErrConfigInvalid, opts.Switch)
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if opts.Policy == nil {
		opts.Policy = acl.PermitAll()
	}
	if opts.Gateways == nil {
		opts.Gateways, _ = arp.NewGatewayRegistry(nil)
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = core.DefaultIdleTimeout
	}
	if opts.HardTimeout == 0 {
		opts.HardTimeout = core.DefaultHardTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("switch", opts.Switch)

	e := &Engine{
		name:           opts.Switch,
		mode:           mode,
		ch:             opts.Channel,
		policy:         opts.Policy,
		gateways:       opts.Gateways,
		resolver:       arp.NewResolver(opts.Resolver, opts.Gateways, logger),
		cls:            decoder.NewClassifier(),
		events:         opts.Events,
		logger:         logger,
		idle:           opts.IdleTimeout,
		hard:           opts.HardTimeout,
		unicastReplies: opts.UnicastARPReplies,
	}
	e.macs = learning.NewTableWithEvict(opts.MaxLearned, e.forget)
	return e, nil
}

// Name returns the switch name.
func (e *Engine) Name() string { return e.name }

// Mode returns the forwarding mode.
func (e *Engine) Mode() Mode { return e.mode }

// Learned returns the number of MAC table entries.
func (e *Engine) Learned() int { return e.macs.Len() }

// Pending returns the number of unresolved targets.
func (e *Engine) Pending() int { return e.resolver.Pending() }

// LookupPort exposes the MAC table for diagnostics.
func (e *Engine) LookupPort(mac core.MAC) (core.Port, bool) { return e.macs.Lookup(mac) }

// Resolver exposes the ARP state for diagnostics.
func (e *Engine) Resolver() *arp.Resolver { return e.resolver }

// HandlePacketIn classifies frame, learns its source and dispatches it.
// frame may be reused by the caller once HandlePacketIn returns.
func (e *Engine) HandlePacketIn(frame []byte, inPort core.Port, now time.Time) Decision {
	pkt, err := e.cls.Classify(frame, inPort)
	if err != nil {
		metrics.ParseErrorsTotal.WithLabelValues(e.name).Inc()
		e.logger.Debug("dropping undecodable frame", "in_port", inPort, "len", len(frame), "error", err)
		return e.done(Decision{Outcome: OutcomeIgnore, Path: pathInvalid, InPort: inPort, Err: err})
	}
	metrics.PacketsTotal.WithLabelValues(e.name, pkt.Kind.String()).Inc()

	e.learn(pkt)

	var d Decision
	switch e.mode {
	case ModeL2:
		d = e.switchFrame(pkt)
	case ModeL2Firewall:
		d = e.firewall(pkt)
	default:
		d = e.route(pkt, now)
	}
	d.Path = pkt.Kind.String()
	d.InPort = inPort
	return e.done(d)
}

// Expire drives ARP retries and expiry. It runs on the engine goroutine.
func (e *Engine) Expire(now time.Time) []Decision {
	sweep := e.resolver.Expire(now)
	if len(sweep.Retries) == 0 && len(sweep.Expired) == 0 {
		return nil
	}

	out := make([]Decision, 0, len(sweep.Retries)+len(sweep.Expired))
	for _, r := range sweep.Retries {
		d := Decision{Outcome: OutcomeRetry, Path: core.KindARP.String(), Target: r.Target,
			Reason: fmt.Sprintf("attempt %d", r.Attempt)}
		d.Err = e.send(r.Request, core.Flood, core.NoPort)
		metrics.ARPEventsTotal.WithLabelValues(e.name, "retry").Inc()
		out = append(out, e.done(d))
	}
	for _, x := range sweep.Expired {
		metrics.ARPEventsTotal.WithLabelValues(e.name, "expired").Inc()
		if len(x.Dropped) > 0 {
			metrics.ARPEventsTotal.WithLabelValues(e.name, "held_dropped").Add(float64(len(x.Dropped)))
			e.logger.Info("address resolution expired", "target", x.Target, "attempts", x.Attempts, "dropped", len(x.Dropped))
			eventbus.Notify(e.events, &eventbus.Event{
				Topic: eventbus.TopicResolutionExpired,
				Key:   e.name,
				Payload: eventbus.ResolutionExpired{
					Switch:   e.name,
					Target:   x.Target,
					Attempts: x.Attempts,
					Dropped:  len(x.Dropped),
					Waited:   now.Sub(x.Since),
				},
			}, e.logger)
		}
		out = append(out, e.done(Decision{
			Outcome: OutcomeExpired,
			Path:    core.KindARP.String(),
			Target:  x.Target,
			Reason:  fmt.Sprintf("%d held packets dropped", len(x.Dropped)),
			Err:     fmt.Errorf("%w: %s after %d requests", core.ErrResolutionExpired, x.Target, x.Attempts),
		}))
	}
	metrics.PendingResolutions.WithLabelValues(e.name).Set(float64(e.resolver.Pending()))
	return out
}

func (e *Engine) learn(pkt core.PacketContext) {
	if pkt.EthSrc.IsMulticast() || pkt.EthSrc.IsZero() {
		return
	}
	prev, seen := e.macs.Record(pkt.EthSrc, pkt.InPort)
	if seen && prev != pkt.InPort {
		e.logger.Debug("station moved", "mac", pkt.EthSrc, "from", prev, "to", pkt.InPort)
	}
	metrics.LearnedAddresses.WithLabelValues(e.name).Set(float64(e.macs.Len()))
}

// forget runs when the learning table is full and drops its oldest entry.
func (e *Engine) forget(mac core.MAC, port core.Port) {
	metrics.LearningEvictionsTotal.WithLabelValues(e.name).Inc()
	e.logger.Debug("station forgotten", "mac", mac, "port", port)
}

// switchFrame is the learning switch: flood group and unknown destinations,
// install a forwarding rule for known ones.
func (e *Engine) switchFrame(pkt core.PacketContext) Decision {
	if pkt.EthDst.IsMulticast() {
		return e.flood(pkt, "group destination")
	}
	port, ok := e.macs.Lookup(pkt.EthDst)
	if !ok {
		return e.flood(pkt, "destination not learned")
	}
	return e.install(pkt, port, nil)
}

func (e *Engine) firewall(pkt core.PacketContext) Decision {
	if pkt.Kind == core.KindIPv4 {
		if d, denied := e.check(pkt); denied {
			return d
		}
	}
	return e.switchFrame(pkt)
}

// route is the full l3 state machine.
func (e *Engine) route(pkt core.PacketContext, now time.Time) Decision {
	switch pkt.Kind {
	case core.KindARP:
		return e.handleARP(pkt, now)
	case core.KindIPv4:
		if d, denied := e.check(pkt); denied {
			return d
		}
		return e.routeIP(pkt, now)
	default:
		return Decision{Outcome: OutcomeIgnore, Reason: "unsupported ethertype"}
	}
}

// check applies the policy and installs a drop rule on deny.
func (e *Engine) check(pkt core.PacketContext) (Decision, bool) {
	v := e.policy.EvaluatePacket(pkt.IP)
	if !v.Blocked {
		metrics.ACLVerdictsTotal.WithLabelValues(e.name, "permit").Inc()
		return Decision{}, false
	}
	metrics.ACLVerdictsTotal.WithLabelValues(e.name, "deny").Inc()

	rule := core.FlowRule{
		Match:       core.MatchFromPacket(pkt),
		IdleTimeout: e.idle,
		HardTimeout: e.hard,
	}
	d := Decision{Outcome: OutcomeDrop, Rule: v.RuleName, Reason: core.ErrPolicyDenied.Error()}
	if v.Default() {
		d.Reason = "denied by default policy"
	}
	d.Err = e.installRule(rule)
	e.logger.Debug("policy denied packet",
		"src", pkt.IP.Src, "dst", pkt.IP.Dst,
		"proto", core.ProtocolName(pkt.IP.Protocol), "dst_port", pkt.IP.DstPort.String(),
		"rule", v.Rule)
	return d, true
}

func (e *Engine) routeIP(pkt core.PacketContext, now time.Time) Decision {
	if pkt.EthDst.IsMulticast() {
		return e.flood(pkt, "group destination")
	}
	// Gateways are virtual: nothing behind them can take the packet.
	if e.gateways.IsGateway(pkt.IP.Dst) {
		metrics.GatewayTrafficTotal.WithLabelValues(e.name).Inc()
		return Decision{Outcome: OutcomeIgnore, Target: pkt.IP.Dst, Reason: "addressed to a gateway"}
	}
	mac, ok := e.resolver.Lookup(pkt.IP.Dst)
	if !ok {
		return e.resolve(pkt, now)
	}
	return e.forward(pkt, mac)
}

// forward sends pkt towards the host owning mac. Frames addressed to a
// gateway are routed: their link-layer addresses are rewritten to the
// gateway of the destination subnet and the destination host.
func (e *Engine) forward(pkt core.PacketContext, mac core.MAC) Decision {
	port, ok := e.macs.Lookup(mac)
	if !ok {
		d := e.flood(pkt, "destination port not learned")
		d.Target = pkt.IP.Dst
		return d
	}

	var rewrite []core.Action
	if e.gateways.IsGatewayMAC(pkt.EthDst) {
		gw, ok := e.gateways.ForSubnet(pkt.IP.Dst)
		if !ok {
			metrics.MissingGatewayTotal.WithLabelValues(e.name).Inc()
			eventbus.Notify(e.events, &eventbus.Event{
				Topic:   eventbus.TopicMissingGateway,
				Key:     e.name,
				Payload: eventbus.MissingGateway{Switch: e.name, Src: pkt.IP.Src, Dst: pkt.IP.Dst},
			}, e.logger)
			d := e.flood(pkt, core.ErrMissingGateway.Error())
			d.Target = pkt.IP.Dst
			return d
		}
		rewrite = []core.Action{core.SetEthSrc(gw.MAC), core.SetEthDst(mac)}
	}
	return e.install(pkt, port, rewrite)
}

// resolve holds pkt until its destination answers.
func (e *Engine) resolve(pkt core.PacketContext, now time.Time) Decision {
	target := pkt.IP.Dst
	res, err := e.resolver.Resolve(target, pkt.Detach(), now)
	if err != nil {
		return Decision{Outcome: OutcomeIgnore, Target: target, Err: err}
	}
	if res.Evicted != nil {
		metrics.ARPEventsTotal.WithLabelValues(e.name, "held_dropped").Inc()
	}
	metrics.PendingResolutions.WithLabelValues(e.name).Set(float64(e.resolver.Pending()))

	if res.Request == nil {
		return Decision{Outcome: OutcomeHeld, Target: target, Reason: "request outstanding"}
	}
	metrics.ARPEventsTotal.WithLabelValues(e.name, "request_sent").Inc()
	d := Decision{Outcome: OutcomeRequest, Target: target, Reason: core.ErrUnresolved.Error()}
	d.Err = e.send(res.Request, core.Flood, pkt.InPort)
	return d
}

func (e *Engine) handleARP(pkt core.PacketContext, now time.Time) Decision {
	a := pkt.ARP
	released := e.resolver.Learn(a.SenderIP, a.SenderMAC)

	var d Decision
	switch a.Op {
	case core.ARPRequest:
		d = e.answer(pkt, now)
	case core.ARPReply:
		d = e.forwardReply(pkt)
	default:
		d = Decision{Outcome: OutcomeIgnore, Reason: "arp " + a.Op.String()}
	}

	if len(released) > 0 {
		metrics.ARPEventsTotal.WithLabelValues(e.name, "resolved").Inc()
		metrics.PendingResolutions.WithLabelValues(e.name).Set(float64(e.resolver.Pending()))
		for _, held := range released {
			r := e.forward(held, a.SenderMAC)
			r.Path = held.Kind.String()
			r.InPort = held.InPort
			r.Target = a.SenderIP
			d.Released = append(d.Released, e.done(r))
		}
	}
	return d
}

func (e *Engine) answer(pkt core.PacketContext, now time.Time) Decision {
	res, err := e.resolver.HandleRequest(pkt.ARP, now)
	if err != nil {
		return Decision{Outcome: OutcomeIgnore, Target: pkt.ARP.TargetIP, Err: err}
	}
	metrics.ARPEventsTotal.WithLabelValues(e.name, res.Action.String()).Inc()

	switch res.Action {
	case arp.ReplyGateway, arp.ReplyCached:
		d := Decision{Outcome: OutcomeReply, Port: pkt.InPort, Target: pkt.ARP.TargetIP, Reason: res.Action.String()}
		d.Err = e.send(res.Reply, core.ToPort(pkt.InPort), core.NoPort)
		return d
	default:
		d := e.flood(pkt, "target unknown")
		d.Target = pkt.ARP.TargetIP
		return d
	}
}

// forwardReply relays a host's ARP reply. By default the reply is flooded:
// the requester is looked up by protocol address in a table keyed by
// link-layer address, a lookup that never succeeds.
func (e *Engine) forwardReply(pkt core.PacketContext) Decision {
	if e.unicastReplies {
		port, ok := e.macs.Lookup(pkt.ARP.TargetMAC)
		if ok {
			if port == pkt.InPort {
				return Decision{Outcome: OutcomeIgnore, Reason: "requester on ingress port"}
			}
			d := Decision{Outcome: OutcomeUnicast, Port: port}
			d.Err = e.send(pkt.Frame, core.ToPort(port), core.NoPort)
			return d
		}
	}
	return e.flood(pkt, "requester port not resolved")
}

func (e *Engine) flood(pkt core.PacketContext, reason string) Decision {
	d := Decision{Outcome: OutcomeFlood, Reason: reason}
	d.Err = e.send(pkt.Frame, core.Flood, pkt.InPort)
	return d
}

// install submits a forwarding rule matching pkt and delivers pkt with it.
// Traffic that would leave through its ingress port is left alone.
func (e *Engine) install(pkt core.PacketContext, port core.Port, rewrite []core.Action) Decision {
	if port == pkt.InPort {
		return Decision{Outcome: OutcomeIgnore, Port: port, Reason: "output equals ingress"}
	}
	actions := append(rewrite, core.OutputTo(port))
	rule := core.FlowRule{
		Match:           core.MatchFromPacket(pkt),
		Actions:         actions,
		IdleTimeout:     e.idle,
		HardTimeout:     e.hard,
		DeliverOriginal: true,
		Original:        pkt.Frame,
	}
	d := Decision{Outcome: OutcomeForward, Port: port}
	d.Err = e.installRule(rule)
	return d
}

func (e *Engine) installRule(rule core.FlowRule) error {
	err := e.ch.InstallRule(rule)
	if err != nil {
		e.channelError("flow_mod", err)
	}
	return err
}

func (e *Engine) send(frame []byte, out core.Output, exclude core.Port) error {
	err := e.ch.SendPacket(frame, out, exclude)
	if err != nil {
		e.channelError("packet_out", err)
	}
	return err
}

func (e *Engine) channelError(op string, err error) {
	metrics.ChannelErrorsTotal.WithLabelValues(e.name, op).Inc()
	e.logger.Warn("control channel call failed", "op", op, "error", err)
	eventbus.Notify(e.events, &eventbus.Event{
		Topic:   eventbus.TopicChannelError,
		Key:     e.name,
		Payload: eventbus.ChannelError{Switch: e.name, Op: op, Error: err.Error()},
	}, e.logger)
}

func (e *Engine) done(d Decision) Decision {
	metrics.DecisionsTotal.WithLabelValues(e.name, string(d.Outcome)).Inc()
	return d
}
