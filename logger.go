package sirenjoin

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with terms-by-query specific helpers.
// This keeps field names consistent across nodes.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRequestID tags the logger with a request id.
func (l *Logger) WithRequestID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("request_id", id),
	}
}

// WithNode tags the logger with a node id.
func (l *Logger) WithNode(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("node", id),
	}
}

// LogTermsByQuery logs the outcome of a terms-by-query request.
func (l *Logger) LogTermsByQuery(ctx context.Context, req *Request, resp *Response, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "terms by query failed",
			"field", req.Field,
			"indices", req.Indices,
			"error", err,
		)
		return
	}
	if resp.FailedShards > 0 {
		l.WarnContext(ctx, "terms by query completed with shard failures",
			"field", req.Field,
			"total_shards", resp.TotalShards,
			"failed_shards", resp.FailedShards,
			"terms", resp.Size,
			"took", took,
		)
		return
	}
	l.DebugContext(ctx, "terms by query completed",
		"field", req.Field,
		"encoding", resp.Encoding.String(),
		"total_shards", resp.TotalShards,
		"successful_shards", resp.SuccessfulShards,
		"terms", resp.Size,
		"bytes", len(resp.Terms),
		"cached", resp.Cached,
		"took", took,
	)
}

// LogShardFailure logs one failed shard of a request.
func (l *Logger) LogShardFailure(ctx context.Context, f ShardFailure) {
	l.WarnContext(ctx, "shard failed",
		"shard", f.ShardID.String(),
		"reason", f.Reason,
	)
}

// LogLoad logs loading segments into a shard.
func (l *Logger) LogLoad(ctx context.Context, shard string, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "segment load failed",
			"shard", shard,
			"segments", segments,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "segments loaded",
		"shard", shard,
		"segments", segments,
	)
}

// LogCacheClear logs clearing a node's filter join cache.
func (l *Logger) LogCacheClear(ctx context.Context, node string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cache clear failed",
			"node", node,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "cache cleared",
		"node", node,
	)
}
