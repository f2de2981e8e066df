package domain

import "github.com/rs/zerolog"

// TraceLevel mirrors the severities the core reconciliation engine logs at.
// It exists so core packages depend on a one-method contract (§6 "Logging
// contract: a trace(level, message) sink") instead of directly on zerolog.
type TraceLevel int

const (
	TraceDebug TraceLevel = iota
	TraceInfo
	TraceWarn
	TraceError
)

// Tracer is the logging contract consumed by the core. Field is an optional
// structured attribute attached to the message (e.g. "endpoint", node id).
type Tracer interface {
	Trace(level TraceLevel, msg string, fields map[string]any)
}

// ZerologTracer adapts a zerolog.Logger to the Tracer contract.
type ZerologTracer struct {
	Logger zerolog.Logger
}

// NewZerologTracer builds a Tracer backed by the given logger.
func NewZerologTracer(logger zerolog.Logger) ZerologTracer {
	return ZerologTracer{Logger: logger}
}

func (t ZerologTracer) Trace(level TraceLevel, msg string, fields map[string]any) {
	var ev *zerolog.Event
	switch level {
	case TraceDebug:
		ev = t.Logger.Debug()
	case TraceWarn:
		ev = t.Logger.Warn()
	case TraceError:
		ev = t.Logger.Error()
	default:
		ev = t.Logger.Info()
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
