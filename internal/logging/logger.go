package logging

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Logger defines a minimal, printf-style logging contract.
//
// Engines and handlers depend on this interface so tests can swap in a
// no-op or capturing implementation without touching the writer.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

var (
	defaultLevel     LogLevel
	defaultLevelOnce sync.Once
)

func levelFromEnv() LogLevel {
	defaultLevelOnce.Do(func() {
		switch strings.ToLower(strings.TrimSpace(os.Getenv("MERITPAY_LOG_LEVEL"))) {
		case "debug":
			defaultLevel = DEBUG
		case "warn":
			defaultLevel = WARN
		case "error":
			defaultLevel = ERROR
		default:
			defaultLevel = INFO
		}
	})
	return defaultLevel
}

// componentLogger writes timestamped, component-tagged lines to a writer.
type componentLogger struct {
	mu        sync.Mutex
	out       io.Writer
	component string
	level     LogLevel
}

// NewComponentLogger creates a logger for a specific component writing to stderr.
func NewComponentLogger(component string) Logger {
	return &componentLogger{
		out:       os.Stderr,
		component: component,
		level:     levelFromEnv(),
	}
}

// NewWriterLogger creates a component logger targeting an explicit writer.
// Used by tests that want to capture output.
func NewWriterLogger(component string, out io.Writer, level LogLevel) Logger {
	return &componentLogger{out: out, component: component, level: level}
}

func (l *componentLogger) log(level LogLevel, format string, args ...any) {
	if level < l.level {
		return
	}

	// Format: 2025-09-30 12:34:56 [INFO] [Component] - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	component := l.component
	if component == "" {
		component = "meritpay"
	}
	line := fmt.Sprintf("%s [%s] [%s] - %s\n", timestamp, levelToString(level), component, message)

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.out, sanitizeLogLine(line))
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(DEBUG, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(INFO, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(WARN, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(ERROR, format, args...) }

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

const redactionPlaceholder = "[REDACTED]"

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	// API keys and raw private keys must never reach the log stream.
	standaloneSecretPattern = regexp.MustCompile(`(?i)(sk-[A-Za-z0-9]{16,}|0x[0-9a-f]{64})`)
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|private[_-]?key|token|secret|password)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
)

func sanitizeLogLine(line string) string {
	sanitized := bearerTokenPattern.ReplaceAllString(line, "${1}"+redactionPlaceholder)
	sanitized = sensitiveKeyValuePattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		submatches := sensitiveKeyValuePattern.FindStringSubmatch(match)
		if len(submatches) != 4 {
			return match
		}
		return submatches[1] + redactionPlaceholder + submatches[3]
	})
	return standaloneSecretPattern.ReplaceAllString(sanitized, redactionPlaceholder)
}
