package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Category names the child loggers handed out by this package.
type Category string

const (
	Application   Category = "application"
	DiscordEvents Category = "discord"
	Database      Category = "database"
	Errors        Category = "error"
)

// Options configures SetupLogger.
type Options struct {
	// Level is a zap level name ("debug", "info", "warn", "error"). Empty means info.
	Level string
	// Dir is where the rotated log file is written. Empty disables file output.
	Dir string
	// FileName defaults to "teamlists.log".
	FileName   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console toggles the stdout tee.
	Console bool
}

// Logger is a key/value logger over zap's sugared API.
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	// GlobalLogger is the process logger. It is a no-op until SetupLogger runs.
	GlobalLogger = &Logger{sugar: zap.NewNop().Sugar()}

	setupMu   sync.Mutex
	setupDone bool
	rotator   *lumberjack.Logger
)

// SetupLogger builds the global logger. Calling it again is a no-op.
func SetupLogger(opts Options) error {
	setupMu.Lock()
	defer setupMu.Unlock()
	if setupDone {
		return nil
	}

	level := zapcore.InfoLevel
	if strings.TrimSpace(opts.Level) != "" {
		parsed, err := zapcore.ParseLevel(strings.TrimSpace(opts.Level))
		if err != nil {
			return fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	enabler := zap.NewAtomicLevelAt(level)

	var cores []zapcore.Core
	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), enabler))
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		name := opts.FileName
		if name == "" {
			name = "teamlists.log"
		}
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, name),
			MaxSize:    positiveOr(opts.MaxSizeMB, 10),
			MaxBackups: positiveOr(opts.MaxBackups, 5),
			MaxAge:     positiveOr(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), enabler))
	}
	if len(cores) == 0 {
		return nil
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	GlobalLogger = &Logger{sugar: z.Sugar()}
	setupDone = true
	return nil
}

// Close flushes the global logger and closes the rotated file.
func Close() error {
	GlobalLogger.Sync()
	setupMu.Lock()
	defer setupMu.Unlock()
	if rotator != nil {
		err := rotator.Close()
		rotator = nil
		return err
	}
	return nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Named returns a child logger for the category.
func Named(c Category) *Logger {
	return &Logger{sugar: GlobalLogger.sugar.Named(string(c))}
}

func ApplicationLogger() *Logger { return Named(Application) }
func DiscordLogger() *Logger     { return Named(DiscordEvents) }
func DatabaseLogger() *Logger    { return Named(Database) }

// ErrorLoggerRaw is the logger for failures that are not tied to one subsystem.
func ErrorLoggerRaw() *Logger { return Named(Errors) }

func (l *Logger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// WithField returns a child logger carrying key=value.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{sugar: l.sugar.With(key, value)}
}

// WithFields returns a child logger carrying every pair in fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &Logger{sugar: l.sugar.With(kv...)}
}

// WithError attaches err (nil-safe).
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{sugar: l.sugar.With("error", err.Error())}
}

// Sync flushes buffered entries. Errors from syncing stdout are ignored.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

// Desugar exposes the underlying zap logger for libraries that want one.
func (l *Logger) Desugar() *zap.Logger {
	return l.sugar.Desugar()
}
