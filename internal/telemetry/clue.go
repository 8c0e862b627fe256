package telemetry

import (
	"context"

	"goa.design/clue/log"
)

// ClueLogger adapts Clue's structured logger to the Logger interface. Clue
// wires log records into the same OpenTelemetry pipeline as traces, so a
// log line emitted mid-span is automatically correlated with it.
type ClueLogger struct{}

// NewClueLogger returns a Logger backed by goa.design/clue/log. The caller
// is expected to have already called log.Context/log.WithFormat on the base
// context (typically in cmd/toolsprovider) so keyvals render consistently.
func NewClueLogger() Logger { return ClueLogger{} }

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, log.Fields{msg: fieldsFrom(keyvals)})
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Print(ctx, log.Fields{msg: fieldsFrom(keyvals)})
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Print(ctx, log.Fields{"warn:" + msg: fieldsFrom(keyvals)})
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, errorFromKeyvals(keyvals), msg)
}

// fieldsFrom flattens alternating key/value pairs into a map for Clue's
// structured field rendering. Odd-length input drops the trailing key.
func fieldsFrom(keyvals []any) map[string]any {
	out := make(map[string]any, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		out[key] = keyvals[i+1]
	}
	return out
}

func errorFromKeyvals(keyvals []any) error {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok && key == "err" {
			if err, ok := keyvals[i+1].(error); ok {
				return err
			}
		}
	}
	return nil
}
