package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the timestamp layout of console and file logs.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. zapcore.Core satisfies it.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// ConsoleAppender writes tab separated lines to an io.Writer.
type ConsoleAppender struct {
	mu sync.Mutex
	io.Writer
}

// NewWriterAppender returns an appender writing console lines to w.
func NewWriterAppender(w io.Writer) *ConsoleAppender {
	return &ConsoleAppender{Writer: w}
}

// NewStdoutAppender returns an appender writing console lines to stdout.
func NewStdoutAppender() *ConsoleAppender {
	return NewWriterAppender(os.Stdout)
}

// Write formats and writes one entry.
func (appender *ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	line, err := formatEntry(entry, fields)
	appender.mu.Lock()
	defer appender.mu.Unlock()
	if _, writeErr := fmt.Fprintln(appender.Writer, line); writeErr != nil {
		return writeErr
	}
	return err
}

// Sync flushes the writer when it supports it.
func (appender *ConsoleAppender) Sync() error {
	if syncer, ok := appender.Writer.(interface{ Sync() error }); ok && appender.Writer != os.Stdout {
		return syncer.Sync()
	}
	return nil
}

// FileAppenderConfig describes a size rotated log file.
type FileAppenderConfig struct {
	Filename   string `json:"filename" yaml:"filename"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// FileAppender writes console lines to a lumberjack rotated file.
type FileAppender struct {
	*ConsoleAppender
	rotator *lumberjack.Logger
}

// NewFileAppender opens (lazily) a rotating log file.
func NewFileAppender(cfg FileAppenderConfig) *FileAppender {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   cfg.Compress,
	}
	return &FileAppender{ConsoleAppender: NewWriterAppender(rotator), rotator: rotator}
}

// Sync is a no-op, lumberjack writes through.
func (appender *FileAppender) Sync() error {
	return nil
}

// Close closes the current log file.
func (appender *FileAppender) Close() error {
	return appender.rotator.Close()
}

func formatEntry(entry zapcore.Entry, fields []zapcore.Field) (string, error) {
	toPrint := make([]string, 0, 6)
	toPrint = append(toPrint,
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName)
	if entry.Caller.Defined {
		toPrint = append(toPrint, callerToString(&entry.Caller))
	}
	toPrint = append(toPrint, entry.Message)
	if len(fields) == 0 {
		return strings.Join(toPrint, "\t"), nil
	}

	// The JSON encoder keeps fields in call order. Encoding an empty entry leaves only them.
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return strings.Join(toPrint, "\t"), err
	}
	toPrint = append(toPrint, buf.String())
	return strings.Join(toPrint, "\t"), nil
}

// Returns "pkg/file.go:line".
func callerToString(caller *zapcore.EntryCaller) string {
	return caller.TrimmedPath()
}
