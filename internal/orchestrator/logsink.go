package orchestrator

import (
	"context"

	"goa.design/tools-provider/agents/runtime/stream"
	"goa.design/tools-provider/internal/telemetry"
)

// LogSink is a stream.Sink that records every streamed event through a
// telemetry.Logger. It exists as the default sink registered alongside the
// hooks bus; a deployment fronting a real push channel (SSE, a message
// bus) supplies its own stream.Sink instead.
type LogSink struct {
	Logger telemetry.Logger
}

// Send implements stream.Sink.
func (s *LogSink) Send(ctx context.Context, event stream.Event) error {
	s.Logger.Debug(ctx, "stream event", "type", string(event.Type()), "run_id", event.Run())
	return nil
}

// Close implements stream.Sink.
func (s *LogSink) Close(ctx context.Context) error { return nil }
