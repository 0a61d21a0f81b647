// Package testutils holds helpers shared by package tests.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the package tests and fails if goroutines outlive them. Long-lived
// goroutines owned by libraries are ignored.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m,
		// lumberjack starts its compression goroutine on first write and never stops it.
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
		goleak.IgnoreAnyFunction("github.com/fsnotify/fsnotify.(*inotify).readEvents"),
	)
}
