package logger

import (
	"context"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}

type logrusLogger struct {
	logger *logrus.Logger
}

// callerName 返回调用日志函数的业务函数名，跳过日志包自身的帧
func callerName() string {
	pc := make([]uintptr, 8)
	n := runtime.Callers(2, pc)
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		if !isLoggerFrame(frame.Function) {
			name := frame.Function
			if idx := strings.LastIndex(name, "."); idx >= 0 {
				name = name[idx+1:]
			}
			if name == "" {
				return "unknown"
			}
			return name
		}
		if !more {
			return "unknown"
		}
	}
}

func isLoggerFrame(fn string) bool {
	if strings.Contains(fn, "logger.(*logrusLogger).") {
		return true
	}
	for _, name := range []string{"logger.Info", "logger.Warn", "logger.Error", "logger.Debug"} {
		if strings.HasSuffix(fn, name) {
			return true
		}
	}
	return false
}

func (l *logrusLogger) entry(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		ctx = context.Background()
	}
	entry := l.logger.WithContext(ctx)
	if traceID := getTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if pageID := getPageID(ctx); pageID != "" {
		entry = entry.WithField("page_id", pageID)
	}
	return entry
}

func (l *logrusLogger) Warn(ctx context.Context, msg string, args ...any) {
	args = append([]any{callerName()}, args...)
	l.entry(ctx).Warnf("[%s] "+msg, args...)
}

func (l *logrusLogger) Error(ctx context.Context, msg string, args ...any) {
	args = append([]any{callerName()}, args...)
	l.entry(ctx).Errorf("[%s] "+msg, args...)
}

func (l *logrusLogger) Info(ctx context.Context, msg string, args ...any) {
	args = append([]any{callerName()}, args...)
	l.entry(ctx).Infof("[%s] "+msg, args...)
}

func (l *logrusLogger) Debug(ctx context.Context, msg string, args ...any) {
	args = append([]any{callerName()}, args...)
	l.entry(ctx).Debugf("[%s] "+msg, args...)
}

// 未调用 InitLogger 时（例如单元测试）输出到 stderr
var defaultLogger Logger = newLogrusLogger("info", os.Stderr)

type LoggerConfig struct {
	Level      string `json:"level,omitempty" toml:"level,omitempty"`
	File       string `json:"file,omitempty" toml:"file,omitempty"`
	MaxSize    int    `json:"max_size,omitempty" toml:"max_size,omitempty"`       // 单个日志文件最大大小(MB),默认100MB
	MaxBackups int    `json:"max_backups,omitempty" toml:"max_backups,omitempty"` // 保留的旧日志文件最大数量,默认3个
	MaxAge     int    `json:"max_age,omitempty" toml:"max_age,omitempty"`         // 保留旧日志文件的最大天数,默认7天
	Compress   bool   `json:"compress,omitempty" toml:"compress,omitempty"`       // 是否压缩旧日志,默认false
}

func newLogrusLogger(level string, out io.Writer) *logrusLogger {
	log := logrus.New()
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	log.SetLevel(lv)
	// JSON 格式,方便按 trace_id 检索
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(out)
	return &logrusLogger{logger: log}
}

func InitLogger(cfg *LoggerConfig) {
	if cfg == nil {
		cfg = &LoggerConfig{Level: "info"}
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		maxAge := cfg.MaxAge
		if maxAge <= 0 {
			maxAge = 7
		}

		// 使用 lumberjack 实现日志轮转
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   cfg.Compress,
		}
	}

	defaultLogger = newLogrusLogger(cfg.Level, out)
}

// SetOutput 重定向默认日志输出
func SetOutput(w io.Writer) {
	if l, ok := defaultLogger.(*logrusLogger); ok {
		l.logger.SetOutput(w)
	}
}

func Warn(ctx context.Context, msg string, args ...any) {
	defaultLogger.Warn(ctx, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	defaultLogger.Error(ctx, msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	defaultLogger.Info(ctx, msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	defaultLogger.Debug(ctx, msg, args...)
}

func GetDefaultLogger() Logger {
	return defaultLogger
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	pageIDKey  contextKey = "page_id"
)

// WithTraceID 将 trace_id 添加到 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithPageID 将页面 ID 添加到 context，DomTool 的日志会带上它
func WithPageID(ctx context.Context, pageID string) context.Context {
	return context.WithValue(ctx, pageIDKey, pageID)
}

func getTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

func getPageID(ctx context.Context) string {
	if pageID, ok := ctx.Value(pageIDKey).(string); ok {
		return pageID
	}
	return ""
}

// GetTraceID 导出的获取 trace_id 函数
func GetTraceID(ctx context.Context) string {
	return getTraceID(ctx)
}
