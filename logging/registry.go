package logging

import (
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type loggerRegistry struct {
	mu      sync.RWMutex
	loggers map[string]Logger
	// Patterns applied to loggers registered later, so a controller that starts after the
	// config was loaded still gets its level.
	patterns []LoggerPatternConfig
}

var registry = newLoggerRegistry()

func newLoggerRegistry() *loggerRegistry {
	return &loggerRegistry{loggers: make(map[string]Logger)}
}

func (lr *loggerRegistry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	for _, pattern := range lr.patterns {
		matched, err := regexp.MatchString(buildRegexFromPattern(pattern.Pattern), name)
		if err != nil || !matched {
			continue
		}
		if level, err := LevelFromString(pattern.Level); err == nil {
			logger.SetLevel(level)
		}
	}
}

func (lr *loggerRegistry) deregisterLogger(name string) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	delete(lr.loggers, name)
}

func (lr *loggerRegistry) loggerNamed(name string) (Logger, bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok := lr.loggers[name]
	return logger, ok
}

func (lr *loggerRegistry) updateLoggerLevel(name string, level Level) error {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok := lr.loggers[name]
	if !ok {
		return errors.Errorf("logger named %s not recognized", name)
	}
	logger.SetLevel(level)
	return nil
}

// Patterns are applied in order so a later, more specific pattern wins.
func (lr *loggerRegistry) applyPatterns(patterns []LoggerPatternConfig) error {
	var errs error
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	levels := make([]Level, 0, len(patterns))
	for _, pattern := range patterns {
		if !validatePattern(pattern.Pattern) {
			errs = multierr.Append(errs, errors.Errorf("invalid logger pattern %q", pattern.Pattern))
			continue
		}
		level, err := LevelFromString(pattern.Level)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		compiled = append(compiled, regexp.MustCompile(buildRegexFromPattern(pattern.Pattern)))
		levels = append(levels, level)
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.patterns = append([]LoggerPatternConfig(nil), patterns...)
	for name, logger := range lr.loggers {
		for idx, re := range compiled {
			if re.MatchString(name) {
				logger.SetLevel(levels[idx])
			}
		}
	}
	return errs
}

func (lr *loggerRegistry) registeredNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	names := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterLogger registers a logger under name, applying any matching level pattern.
func RegisterLogger(name string, logger Logger) {
	registry.registerLogger(name, logger)
}

// DeregisterLogger removes a logger, used when a controller is torn down.
func DeregisterLogger(name string) {
	registry.deregisterLogger(name)
}

// LoggerNamed returns the logger registered under name.
func LoggerNamed(name string) (Logger, bool) {
	return registry.loggerNamed(name)
}

// UpdateLoggerLevel sets the level of the logger registered under name.
func UpdateLoggerLevel(name string, level Level) error {
	return registry.updateLoggerLevel(name, level)
}

// ApplyLoggerPatterns sets the level of every registered logger matching a pattern and keeps the
// patterns for loggers registered afterwards. Invalid entries are reported and skipped.
func ApplyLoggerPatterns(patterns []LoggerPatternConfig) error {
	return registry.applyPatterns(patterns)
}

// RegisteredLoggerNames returns the sorted names of all registered loggers.
func RegisteredLoggerNames() []string {
	return registry.registeredNames()
}
