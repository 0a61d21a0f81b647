package logging

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var noCtx = context.Background()

type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	appendersMu sync.RWMutex
	appenders   []Appender
}

func (imp *impl) Name() string {
	return imp.name
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appendersMu.Lock()
	imp.appenders = append(imp.appenders, appender)
	imp.appendersMu.Unlock()
}

func (imp *impl) currentAppenders() []Appender {
	imp.appendersMu.RLock()
	defer imp.appendersMu.RUnlock()
	return imp.appenders
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

// Sublogger children are registered under their full dotted name.
func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}
	child := newImpl(newName, imp.level.Get(), imp.inUTC, imp.currentAppenders()...)
	RegisterLogger(newName, child)
	return child
}

func (imp *impl) Sync() error {
	var errs error
	for _, appender := range imp.currentAppenders() {
		errs = multierr.Append(errs, appender.Sync())
	}
	return errs
}

// AsZap builds a zap logger that also feeds every appender that is itself a zapcore.Core, such
// as the observer used in tests.
func (imp *impl) AsZap() *zap.SugaredLogger {
	config := NewZapLoggerConfig()
	config.Level = zap.NewAtomicLevelAt(imp.level.Get().AsZap())
	if GlobalLogLevel.Level() == zapcore.DebugLevel {
		config.Level = GlobalLogLevel
	}
	ret := zap.Must(config.Build()).Sugar().Named(imp.name)
	for _, appender := range imp.currentAppenders() {
		core, ok := appender.(zapcore.Core)
		if !ok {
			continue
		}
		ret = ret.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, core)
		}))
	}
	return ret
}

func (imp *impl) shouldLog(ctx context.Context, logLevel Level) bool {
	if GlobalLogLevel.Level() == zapcore.DebugLevel {
		return true
	}
	if logLevel == DEBUG && IsDebugMode(ctx) {
		return true
	}
	return logLevel >= imp.level.Get()
}

func (imp *impl) newEntry(logLevel Level, msg string) zapcore.Entry {
	entry := zapcore.Entry{
		Level:      logLevel.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     getCaller(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	return entry
}

func (imp *impl) write(entry zapcore.Entry, fields []zapcore.Field) {
	for _, appender := range imp.currentAppenders() {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func (imp *impl) emit(ctx context.Context, logLevel Level, args ...interface{}) {
	if imp.shouldLog(ctx, logLevel) {
		imp.write(imp.newEntry(logLevel, fmt.Sprint(args...)), nil)
	}
}

func (imp *impl) emitf(ctx context.Context, logLevel Level, template string, args ...interface{}) {
	if imp.shouldLog(ctx, logLevel) {
		imp.write(imp.newEntry(logLevel, fmt.Sprintf(template, args...)), nil)
	}
}

func (imp *impl) emitw(ctx context.Context, logLevel Level, msg string, keysAndValues ...interface{}) {
	if !imp.shouldLog(ctx, logLevel) {
		return
	}
	imp.write(imp.newEntry(logLevel, msg), fieldsFromPairs(keysAndValues))
}

// Odd elements are keys, each followed by its value. A trailing key without a value is kept with
// an error value rather than dropped.
func fieldsFromPairs(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for keyIdx := 0; keyIdx < len(keysAndValues); keyIdx += 2 {
		var key string
		if stringer, ok := keysAndValues[keyIdx].(fmt.Stringer); ok {
			key = stringer.String()
		} else {
			key = fmt.Sprintf("%v", keysAndValues[keyIdx])
		}
		if keyIdx+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(key, keysAndValues[keyIdx+1]))
		} else {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
		}
	}
	return fields
}

func (imp *impl) Debug(args ...interface{}) { imp.emit(noCtx, DEBUG, args...) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.emitf(noCtx, DEBUG, template, args...)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.emitw(noCtx, DEBUG, msg, keysAndValues...)
}

func (imp *impl) CDebug(ctx context.Context, args ...interface{}) { imp.emit(ctx, DEBUG, args...) }

func (imp *impl) CDebugf(ctx context.Context, template string, args ...interface{}) {
	imp.emitf(ctx, DEBUG, template, args...)
}

func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	imp.emitw(ctx, DEBUG, msg, keysAndValues...)
}

func (imp *impl) Info(args ...interface{}) { imp.emit(noCtx, INFO, args...) }

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.emitf(noCtx, INFO, template, args...)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.emitw(noCtx, INFO, msg, keysAndValues...)
}

func (imp *impl) Warn(args ...interface{}) { imp.emit(noCtx, WARN, args...) }

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.emitf(noCtx, WARN, template, args...)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.emitw(noCtx, WARN, msg, keysAndValues...)
}

func (imp *impl) Error(args ...interface{}) { imp.emit(noCtx, ERROR, args...) }

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.emitf(noCtx, ERROR, template, args...)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.emitw(noCtx, ERROR, msg, keysAndValues...)
}

// Caller of the public Logger method: getCaller <- newEntry <- emit* <- Logger method <- caller.
func getCaller() zapcore.EntryCaller {
	var entryCaller zapcore.EntryCaller
	const skipToLogCaller = 4
	var ok bool
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true
	if runtimeFunc := runtime.FuncForPC(entryCaller.PC); runtimeFunc != nil {
		entryCaller.Function = runtimeFunc.Name()
	}
	return entryCaller
}
