package channel

import (
	"log/slog"

	"firestige.xyz/flowgate/internal/core"
)

// Logging logs every call at debug level and forwards it to next.
type Logging struct {
	next   Channel
	logger *slog.Logger
}

// NewLogging wraps next. A nil next behaves like Discard.
func NewLogging(next Channel, logger *slog.Logger) *Logging {
	if next == nil {
		next = Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{next: next, logger: logger}
}

func (l *Logging) InstallRule(rule core.FlowRule) error {
	err := l.next.InstallRule(rule)
	l.logger.Debug("flow_mod",
		"match", rule.Match.String(),
		"actions", rule.ActionsString(),
		"idle_timeout", rule.IdleTimeout,
		"hard_timeout", rule.HardTimeout,
		"deliver_original", rule.DeliverOriginal,
		"error", err)
	return err
}

func (l *Logging) SendPacket(frame []byte, out core.Output, exclude core.Port) error {
	err := l.next.SendPacket(frame, out, exclude)
	l.logger.Debug("packet_out",
		"output", out.String(),
		"exclude", exclude,
		"len", len(frame),
		"error", err)
	return err
}
