// Package logging provides a minimal logging interface and adapters for the trainer.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the session, invoker and front-ends use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping go.uber.org/zap
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", os.Stderr)
//	sess, err := session.New(ctx, narration, players, invoker, func(o *session.Options) { o.Logger = logger })
//
// Messages are dotted event keys ("session.turn.start") followed by key/value pairs.
package logging
