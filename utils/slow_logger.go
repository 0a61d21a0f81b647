package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"go.mycodo.org/mycodo/logging"
)

// SlowLogger warns with msg after two seconds and then every five seconds until the returned
// function is called or ctx is done. keysAndValues are logged with every warning.
func SlowLogger(ctx context.Context, clk clock.Clock, logger logging.Logger, msg string, keysAndValues ...interface{}) func() {
	ctx, cancel := context.WithCancel(ctx)
	start := clk.Now()
	timer := clk.Timer(2 * time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-timer.C:
				elapsed := clk.Since(start).Round(time.Second).String()
				timer.Reset(5 * time.Second)
				logger.Warnw(msg, append(append([]interface{}{}, keysAndValues...), "time_elapsed", elapsed)...)
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		cancel()
		timer.Stop()
		<-done
	}
}
