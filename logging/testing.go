package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// tbAppender writes through tb.Log so output lands under the test that produced it.
type tbAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender writing to tb. Times are local.
func NewTestAppender(tb testing.TB) Appender {
	return tbAppender{tb: tb}
}

func (a tbAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	a.tb.Helper()
	line, err := formatEntry(entry, fields)
	if err != nil {
		return err
	}
	a.tb.Log(line)
	return nil
}

func (a tbAppender) Sync() error { return nil }
