package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level is the textual logging level accepted in configuration files.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var zapLevels = map[string]zapcore.Level{
	"":      zapcore.InfoLevel,
	"DEBUG": zapcore.DebugLevel,
	"INFO":  zapcore.InfoLevel,
	"WARN":  zapcore.WarnLevel,
	"ERROR": zapcore.ErrorLevel,
}

// ParseLevel parses a case-insensitive level name. Empty means INFO.
func ParseLevel(level string) (Level, error) {
	if level == "" {
		return LevelInfo, nil
	}
	upper := strings.ToUpper(level)
	if _, ok := zapLevels[upper]; !ok {
		return "", fmt.Errorf("unknown log level: %s", level)
	}
	return Level(upper), nil
}

// Validate validates whether this Level is valid.
func (l Level) Validate() error {
	if _, ok := zapLevels[strings.ToUpper(string(l))]; !ok {
		return fmt.Errorf("unknown log level: %s", l)
	}
	return nil
}

// String implements fmt.Stringer.
func (l Level) String() string { return strings.ToUpper(string(l)) }

func (c *Config) zapLevel() (zapcore.Level, error) {
	if c.Debug {
		return zapcore.DebugLevel, nil
	}
	lvl, ok := zapLevels[strings.ToUpper(string(c.Level))]
	if !ok {
		return zapcore.InfoLevel, fmt.Errorf("can't convert log level to zapcore.Level: %s", c.Level)
	}
	return lvl, nil
}
