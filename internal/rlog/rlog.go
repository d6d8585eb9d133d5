// Package rlog provides the multiplexer's logging sink: a file logger that
// records everything at or above the configured level, plus a console
// writer that mirrors only the entries an operator watching a terminal
// cares about. This mirrors internal/logger's dual file+console split, with
// zerolog.Logger standing in for the hand-rolled *log.Logger pair and
// zerolog.ConsoleWriter standing in for the teacher's manual timestamp/level
// prefix formatting.
package rlog

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Logger writes structured entries to a log file and mirrors warnings and
// above to the console.
type Logger struct {
	mu          sync.Mutex
	file        io.Writer // *rotatingWriter when rotation is configured, *os.File otherwise
	closer      io.Closer
	filePath    string
	fileLog     zerolog.Logger
	consoleLog  zerolog.Logger
	consoleFrom zerolog.Level
}

// Config tunes the file sink's rotation/compression behavior beyond the
// plain Init defaults (unbounded single file, no compression).
type Config struct {
	// MaxSizeBytes rotates the active log file once appending would push it
	// past this size; 0 disables rotation.
	MaxSizeBytes int64

	// CompressRotated zstd-compresses each rotated-out log file in the
	// background once it is renamed aside, grounded on the teacher's use of
	// klauspost/compress/zstd for RDB blob payloads — same library, new
	// consumer. Ignored when MaxSizeBytes is 0.
	CompressRotated bool
}

var (
	defaultLogger *Logger
	once          sync.Once
	initErr       error
)

// Init creates the global logger with no rotation, as NewWithConfig would
// with a zero Config. logDir is created if missing; logFileName defaults to
// "redismux.log" when empty. level sets the minimum severity recorded to the
// file; entries at zerolog.WarnLevel or above are also mirrored to stdout.
func Init(logDir string, level zerolog.Level, logFileName string) (*Logger, error) {
	return InitWithConfig(logDir, level, logFileName, Config{})
}

// InitWithConfig is Init with rotation/compression behavior from cfg.
func InitWithConfig(logDir string, level zerolog.Level, logFileName string, cfg Config) (*Logger, error) {
	once.Do(func() {
		defaultLogger, initErr = newLogger(logDir, level, logFileName, cfg)
	})
	return defaultLogger, initErr
}

func newLogger(logDir string, level zerolog.Level, logFileName string, cfg Config) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	if logFileName == "" {
		logFileName = "redismux.log"
	}
	logFilePath := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	var sink io.Writer = file
	var closer io.Closer = file
	if cfg.MaxSizeBytes > 0 {
		rw, err := newRotatingWriter(logFilePath, file, cfg.MaxSizeBytes, cfg.CompressRotated)
		if err != nil {
			file.Close()
			return nil, err
		}
		sink, closer = rw, rw
	}

	l := &Logger{
		file:        sink,
		closer:      closer,
		filePath:    logFilePath,
		fileLog:     zerolog.New(sink).Level(level).With().Timestamp().Logger(),
		consoleLog:  zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006/01/02 15:04:05"}).With().Timestamp().Logger(),
		consoleFrom: zerolog.WarnLevel,
	}
	return l, nil
}

// Default returns the process-wide logger, or a discard logger if Init was
// never called (so library code can log unconditionally without a nil check).
func Default() *Logger {
	if defaultLogger == nil {
		return &Logger{
			fileLog:     zerolog.New(io.Discard),
			consoleLog:  zerolog.New(io.Discard),
			consoleFrom: zerolog.WarnLevel,
		}
	}
	return defaultLogger
}

// Close flushes and closes the backing log file.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// FilePath returns the path of the backing log file.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Debug logs a file-only diagnostic line with optional structured fields.
func (l *Logger) Debug(msg string, fields map[string]any) {
	addFields(l.fileLog.Debug(), fields).Msg(msg)
}

// Info logs a file-only informational line.
func (l *Logger) Info(msg string, fields map[string]any) {
	addFields(l.fileLog.Info(), fields).Msg(msg)
}

// Warn logs to the file and mirrors the line to the console.
func (l *Logger) Warn(msg string, fields map[string]any) {
	addFields(l.fileLog.Warn(), fields).Msg(msg)
	l.mu.Lock()
	addFields(l.consoleLog.Warn(), fields).Msg(msg)
	l.mu.Unlock()
}

// Error logs to the file and mirrors the line to the console, attaching err
// when non-nil.
func (l *Logger) Error(msg string, err error, fields map[string]any) {
	fe := addFields(l.fileLog.Error(), fields)
	if err != nil {
		fe = fe.Err(err)
	}
	fe.Msg(msg)

	l.mu.Lock()
	ce := addFields(l.consoleLog.Error(), fields)
	if err != nil {
		ce = ce.Err(err)
	}
	ce.Msg(msg)
	l.mu.Unlock()
}

// Console prints a status line to the console and mirrors it into the file
// at info level, for operator-facing progress messages (connect/reconnect,
// topology refresh) that aren't warnings but are worth watching live.
func (l *Logger) Console(msg string, fields map[string]any) {
	l.mu.Lock()
	addFields(l.consoleLog.Info(), fields).Msg(msg)
	l.mu.Unlock()
	addFields(l.fileLog.Info(), fields).Msg(msg)
}

func addFields(ev *zerolog.Event, fields map[string]any) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
