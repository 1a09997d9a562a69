package recovery

import (
	"io"

	"github.com/pwm-project/pwm-sub000/internal/audit"
	"github.com/sirupsen/logrus"
)

// AuditEvent is one audited recovery transition.
type AuditEvent = audit.Event

// AuditTally counts emitted and dropped events of one audit event type.
type AuditTally = audit.Tally

// AuditSink receives audit events from the engine's async dispatcher.
type AuditSink = audit.Sink

// NoOpSink discards audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel, mostly for tests.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = audit.JSONWriterSink

// LogrusSink writes audit events as structured logrus entries.
type LogrusSink = audit.LogrusSink

// MultiSink fans an event out to several sinks.
type MultiSink = audit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

func NewLogrusSink(logger *logrus.Logger) *LogrusSink {
	return audit.NewLogrusSink(logger)
}
