package logger

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

type Logger struct {
	*logrus.Logger
}

type ctxKey string

// Context keys read by WithFieldsCtx.
const (
	RequestIDKey ctxKey = "request_id"
	UserIDKey    ctxKey = "user_id"
)

var logger *Logger

func Init() *Logger {
	if logger != nil {
		return logger
	}

	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(formatter(os.Getenv("LOG_FORMAT")))

	log.SetReportCaller(true)
	log.SetLevel(logrus.InfoLevel)

	logger = &Logger{log}
	return logger
}

func callerName(f *runtime.Frame) (string, string) {
	filename := strings.Split(f.File, "/")
	return fmt.Sprintf("%s:%d", filename[len(filename)-1], f.Line), ""
}

// formatter returns JSON unless format is "text", which suits local runs of ragctl.
func formatter(format string) logrus.Formatter {
	if format == "text" {
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  "15:04:05",
			CallerPrettyfier: callerName,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat:  "2006-01-02 15:04:05",
		CallerPrettyfier: callerName,
	}
}

func Get() *Logger {
	if logger == nil {
		return Init()
	}
	return logger
}

func SetLevel(level string) {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Get().SetLevel(logLevel)
}

// WithContext stores request scoped identifiers so background work keeps them in its log lines.
func WithContext(ctx context.Context, requestID, userID string) context.Context {
	if requestID != "" {
		ctx = context.WithValue(ctx, RequestIDKey, requestID)
	}
	if userID != "" {
		ctx = context.WithValue(ctx, UserIDKey, userID)
	}
	return ctx
}

// WithFieldsCtx returns an entry carrying fields plus request_id, user_id and the
// active trace and span ids found in ctx.
func WithFieldsCtx(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	merged := logrus.Fields{}
	if ctx != nil {
		if rid, ok := ctx.Value(RequestIDKey).(string); ok && rid != "" {
			merged["request_id"] = rid
		}
		if uid, ok := ctx.Value(UserIDKey).(string); ok && uid != "" {
			merged["user_id"] = uid
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			merged["trace_id"] = sc.TraceID().String()
			merged["span_id"] = sc.SpanID().String()
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	entry := Get().WithFields(merged)
	if ctx != nil {
		entry = entry.WithContext(ctx)
	}
	return entry
}

func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

func Debug(args ...interface{}) {
	Get().Debug(args...)
}

func Debugf(format string, args ...interface{}) {
	Get().Debugf(format, args...)
}

func Info(args ...interface{}) {
	Get().Info(args...)
}

func Infof(format string, args ...interface{}) {
	Get().Infof(format, args...)
}

func Warn(args ...interface{}) {
	Get().Warn(args...)
}

func Warnf(format string, args ...interface{}) {
	Get().Warnf(format, args...)
}

func Error(args ...interface{}) {
	Get().Error(args...)
}

func Errorf(format string, args ...interface{}) {
	Get().Errorf(format, args...)
}

func Fatal(args ...interface{}) {
	Get().Fatal(args...)
}

func Fatalf(format string, args ...interface{}) {
	Get().Fatalf(format, args...)
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Get().WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Get().WithFields(fields)
}

func WithError(err error) *logrus.Entry {
	return Get().WithError(err)
}
