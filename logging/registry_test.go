package logging

import (
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestValidatePattern(t *testing.T) {
	for _, tc := range []struct {
		pattern string
		isValid bool
	}{
		{"mycodod", true},
		{"mycodod.pid.*", true},
		{"mycodod.*.runtime", true},
		{"*", true},
		{"mycodod.pid.4a1c-88e0", true},
		{"mycodod..pid", false},
		{"mycodod.pid.", false},
		{".mycodod", false},
		{"mycodod.**", false},
		{"_.mycodod", false},
		{"mycodod.-", false},
	} {
		test.That(t, validatePattern(tc.pattern), test.ShouldEqual, tc.isValid)
	}
}

func TestApplyPatterns(t *testing.T) {
	reg := newLoggerRegistry()
	pidA := newImpl("mycodod.pid.a", INFO, true)
	pidB := newImpl("mycodod.pid.b", INFO, true)
	input := newImpl("mycodod.input.a", INFO, true)
	reg.registerLogger(pidA.name, pidA)
	reg.registerLogger(pidB.name, pidB)
	reg.registerLogger(input.name, input)

	err := reg.applyPatterns([]LoggerPatternConfig{
		{Pattern: "mycodod.pid.*", Level: "debug"},
		{Pattern: "mycodod.pid.b", Level: "error"},
		{Pattern: "bad..pattern", Level: "debug"},
		{Pattern: "mycodod", Level: "loud"},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad..pattern")
	test.That(t, err.Error(), test.ShouldContainSubstring, "loud")

	test.That(t, pidA.GetLevel(), test.ShouldEqual, DEBUG)
	test.That(t, pidB.GetLevel(), test.ShouldEqual, ERROR)
	test.That(t, input.GetLevel(), test.ShouldEqual, INFO)

	late := newImpl("mycodod.pid.late", INFO, true)
	reg.registerLogger(late.name, late)
	test.That(t, late.GetLevel(), test.ShouldEqual, DEBUG)

	test.That(t, reg.registeredNames(), test.ShouldResemble,
		[]string{"mycodod.input.a", "mycodod.pid.a", "mycodod.pid.b", "mycodod.pid.late"})

	test.That(t, reg.updateLoggerLevel("mycodod.input.a", WARN), test.ShouldBeNil)
	test.That(t, input.GetLevel(), test.ShouldEqual, WARN)
	test.That(t, reg.updateLoggerLevel("missing", WARN), test.ShouldNotBeNil)

	reg.deregisterLogger("mycodod.pid.late")
	_, ok := reg.loggerNamed("mycodod.pid.late")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestDaemonLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mycodod.log")
	logger := NewDaemonLogger("filetest", INFO, &FileAppenderConfig{Filename: path})
	defer DeregisterLogger("filetest")

	logger.Info("daemon started")
	test.That(t, logger.Sync(), test.ShouldBeNil)

	_, ok := LoggerNamed("filetest")
	test.That(t, ok, test.ShouldBeTrue)

	for _, app := range logger.(*impl).currentAppenders() {
		if fileApp, ok := app.(*FileAppender); ok {
			test.That(t, fileApp.Close(), test.ShouldBeNil)
		}
	}
	data := readFile(t, path)
	test.That(t, data, test.ShouldContainSubstring, "daemon started")
}
