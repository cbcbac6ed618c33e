package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 项目统一日志接口，参数为 key/value 交替
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	// Err 记录带 error 的错误日志
	Err(err error, msg string, kv ...any)
	// With 返回附带固定字段的子 logger
	With(kv ...any) Logger
}

// Options 日志初始化选项
type Options struct {
	Level   string
	Writers []string // console | file
	File    string
	// 单个日志文件大小上限(MB)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ZeroLogger 基于 zerolog 的实现
type ZeroLogger struct {
	zl zerolog.Logger
}

// New 按选项创建 logger
func New(opts Options) *ZeroLogger {
	var writers []io.Writer
	for _, w := range opts.Writers {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			writers = append(writers, newFileWriter(opts))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &ZeroLogger{zl: zl}
}

// NewWithWriter 直接输出到指定 writer，主要用于测试
func NewWithWriter(w io.Writer, level string) *ZeroLogger {
	lv, err := zerolog.ParseLevel(level)
	if err != nil {
		lv = zerolog.DebugLevel
	}
	return &ZeroLogger{zl: zerolog.New(w).Level(lv).With().Timestamp().Logger()}
}

func newFileWriter(opts Options) io.Writer {
	file := opts.File
	if file == "" {
		file = filepath.Join("logs", "webclip.log")
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}

func (l *ZeroLogger) Debug(msg string, kv ...any) { l.zl.Debug().Fields(kv).Msg(msg) }
func (l *ZeroLogger) Info(msg string, kv ...any) { l.zl.Info().Fields(kv).Msg(msg) }
func (l *ZeroLogger) Warn(msg string, kv ...any) { l.zl.Warn().Fields(kv).Msg(msg) }
func (l *ZeroLogger) Error(msg string, kv ...any) { l.zl.Error().Fields(kv).Msg(msg) }

func (l *ZeroLogger) Err(err error, msg string, kv ...any) {
	l.zl.Error().Err(err).Fields(kv).Msg(msg)
}

func (l *ZeroLogger) With(kv ...any) Logger {
	return &ZeroLogger{zl: l.zl.With().Fields(kv).Logger()}
}

// Nop 丢弃所有日志
type Nop struct{}

// NewNop 创建空 logger
func NewNop() Logger { return Nop{} }

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any) {}
func (Nop) Warn(string, ...any) {}
func (Nop) Error(string, ...any) {}
func (Nop) Err(error, string, ...any) {}
func (n Nop) With(...any) Logger { return n }
