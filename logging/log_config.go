package logging

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every logger whose dotted name matches Pattern. "*"
// matches any run of characters, e.g. "mycodod.pid.*".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Level   string `json:"level" yaml:"level"`
}

// Validate checks the pattern syntax and the level name.
func (cfg LoggerPatternConfig) Validate() error {
	if !validatePattern(cfg.Pattern) {
		return errors.Errorf("invalid logger pattern %q", cfg.Pattern)
	}
	_, err := LevelFromString(cfg.Level)
	return err
}

const (
	// e.g. "pid" or "3f2a-11c0" (controller ids are uuids).
	validLoggerSectionName = `[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*`
	// e.g. "pid" or "*".
	validLoggerSectionNameWithWildcard = `(` + validLoggerSectionName + `|\*)`
	// e.g. "mycodod.*.runtime".
	validLoggerName = `^` + validLoggerSectionNameWithWildcard + `(\.` + validLoggerSectionNameWithWildcard + `)*$`
)

var loggerPatternRegexp = regexp.MustCompile(validLoggerName)

func validatePattern(pattern string) bool {
	return loggerPatternRegexp.MatchString(pattern)
}

func buildRegexFromPattern(pattern string) string {
	var matcher strings.Builder
	matcher.WriteRune('^')
	for _, ch := range pattern {
		switch ch {
		case '*':
			matcher.WriteString(`.*`)
		case '.':
			matcher.WriteString(`\.`)
		default:
			matcher.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	matcher.WriteRune('$')
	return matcher.String()
}
