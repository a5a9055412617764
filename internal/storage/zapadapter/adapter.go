// Package zapadapter routes pgx log output to a zap.Logger, tagging each entry with the
// request and user ids carried by the query context.
package zapadapter

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key int

const (
	requestIDKey key = iota
	userIDKey
)

type Logger struct {
	logger *zap.Logger
}

// NewContextWithID returns ctx carrying the http request id
func NewContextWithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// IDFromContext returns the http request id stored by NewContextWithID
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// NewContextWithUserID returns ctx carrying the id of the signed-in user
func NewContextWithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext returns the user id stored by NewContextWithUserID
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

// Fields converts pgx log data into zap fields. Query arguments are dropped unless debug
// logging is enabled since they carry emails and password hashes.
func (pl *Logger) Fields(ctx context.Context, data map[string]interface{}) []zapcore.Field {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k == "args" && !pl.logger.Core().Enabled(zapcore.DebugLevel) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zapcore.Field, 0, len(keys)+2)
	if id, ok := IDFromContext(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := UserIDFromContext(ctx); ok {
		fields = append(fields, zap.String("user_id", id))
	}
	for _, k := range keys {
		fields = append(fields, zap.Reflect(k, data[k]))
	}
	return fields
}

func (pl *Logger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	fields := pl.Fields(ctx, data)

	switch level {
	case pgx.LogLevelTrace:
		pl.logger.Debug(msg, append(fields, zap.Stringer("PGX_LOG_LEVEL", level))...)
	case pgx.LogLevelDebug:
		pl.logger.Debug(msg, fields...)
	case pgx.LogLevelInfo:
		pl.logger.Info(msg, fields...)
	case pgx.LogLevelWarn:
		pl.logger.Warn(msg, fields...)
	case pgx.LogLevelError:
		pl.logger.Error(msg, fields...)
	default:
		pl.logger.Error(msg, append(fields, zap.Stringer("PGX_LOG_LEVEL", level))...)
	}
}
