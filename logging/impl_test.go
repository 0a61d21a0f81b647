package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func newBufferLogger(name string, level Level) (*impl, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return newImpl(name, level, true, NewWriterAppender(buf)), buf
}

// Lines are "time\tLEVEL\tname\tfile:line\tmessage[\tfields]".
func nextLine(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	line, err := buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	return strings.Split(strings.TrimSuffix(line, "\n"), "\t")
}

func TestConsoleFormat(t *testing.T) {
	logger, buf := newBufferLogger("mycodod.pid", DEBUG)

	logger.Infof("setpoint %.1f", 23.5)
	parts := nextLine(t, buf)
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "mycodod.pid")
	test.That(t, parts[3], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "setpoint 23.5")

	logger.Debugw("actuate", "output", "relay1", "duration", 2.5)
	parts = nextLine(t, buf)
	test.That(t, parts, test.ShouldHaveLength, 6)
	test.That(t, parts[1], test.ShouldEqual, "DEBUG")
	test.That(t, parts[5], test.ShouldEqual, `{"output":"relay1","duration":2.5}`)

	logger.Warnw("unpaired", "dangling")
	parts = nextLine(t, buf)
	test.That(t, parts[5], test.ShouldContainSubstring, "unpaired log key")
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger("filter", WARN)

	logger.Debug("hidden")
	logger.Info("hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Error("shown")
	test.That(t, nextLine(t, buf)[4], test.ShouldEqual, "shown")

	logger.SetLevel(DEBUG)
	logger.Debug("now shown")
	test.That(t, nextLine(t, buf)[4], test.ShouldEqual, "now shown")
}

func TestContextDebugMode(t *testing.T) {
	logger, buf := newBufferLogger("ctx", INFO)

	logger.CDebug(context.Background(), "hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	ctx := WithDebugOwner(context.Background(), "pid1")
	test.That(t, IsDebugMode(ctx), test.ShouldBeTrue)
	test.That(t, DebugOwner(ctx), test.ShouldEqual, "pid1")
	test.That(t, IsDebugMode(WithDebugOwner(context.Background(), "")), test.ShouldBeFalse)
	logger.CDebugf(ctx, "tick %d", 3)
	test.That(t, nextLine(t, buf)[4], test.ShouldEqual, "tick 3")
}

func TestSubloggerSharesAppenders(t *testing.T) {
	parent, buf := newBufferLogger("mycodod", INFO)
	child := parent.Sublogger("pid")
	test.That(t, child.Name(), test.ShouldEqual, "mycodod.pid")
	test.That(t, child.GetLevel(), test.ShouldEqual, INFO)

	child.SetLevel(DEBUG)
	test.That(t, parent.GetLevel(), test.ShouldEqual, INFO)

	child.Debug("from child")
	parts := nextLine(t, buf)
	test.That(t, parts[2], test.ShouldEqual, "mycodod.pid")

	registered, ok := LoggerNamed("mycodod.pid")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, registered, test.ShouldEqual, child)
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("output on", "id", "relay1")
	logger.Sublogger("sub").Warn("careful")

	test.That(t, logs.FilterMessage("output on").Len(), test.ShouldEqual, 1)
	entry := logs.FilterMessage("output on").All()[0]
	test.That(t, entry.ContextMap()["id"], test.ShouldEqual, "relay1")
	test.That(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), test.ShouldEqual, 1)

	logger.AsZap().Info("through zap")
	test.That(t, logs.FilterMessage("through zap").Len(), test.ShouldEqual, 1)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{" Error ", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.out)
	}
	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, level.UnmarshalJSON([]byte(`"warn"`)), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
}
