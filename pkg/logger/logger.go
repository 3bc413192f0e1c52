// Package logger provides component-tagged structured logging on top of zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	mu   sync.RWMutex
	base = newConsole(os.Stderr)
)

func newConsole(w io.Writer) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	return zerolog.New(out).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// Configure replaces the output. JSON output is used when jsonOutput is true.
func Configure(w io.Writer, level string, jsonOutput bool) {
	mu.Lock()
	defer mu.Unlock()

	if jsonOutput {
		base = zerolog.New(w).With().Timestamp().Logger()
	} else {
		base = newConsole(w)
	}
	base = base.Level(parseLevel(level))
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	base = base.Level(toZerolog(level))
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	switch base.GetLevel() {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return DEBUG
	case zerolog.WarnLevel:
		return WARN
	case zerolog.ErrorLevel:
		return ERROR
	case zerolog.FatalLevel, zerolog.PanicLevel:
		return FATAL
	default:
		return INFO
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func logMessage(level zerolog.Level, component, message string, fields map[string]interface{}) {
	l := current()
	evt := l.WithLevel(level)
	if evt == nil {
		return
	}
	if component != "" {
		evt = evt.Str("component", component)
	}
	if len(fields) > 0 {
		evt = evt.Fields(fields)
	}
	evt.Msg(message)
}

func DebugC(component, message string) { logMessage(zerolog.DebugLevel, component, message, nil) }
func InfoC(component, message string)  { logMessage(zerolog.InfoLevel, component, message, nil) }
func WarnC(component, message string)  { logMessage(zerolog.WarnLevel, component, message, nil) }
func ErrorC(component, message string) { logMessage(zerolog.ErrorLevel, component, message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	logMessage(zerolog.DebugLevel, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logMessage(zerolog.InfoLevel, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logMessage(zerolog.WarnLevel, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logMessage(zerolog.ErrorLevel, component, message, fields)
}

// FatalCF logs and exits the process.
func FatalCF(component, message string, fields map[string]interface{}) {
	logMessage(zerolog.FatalLevel, component, message, fields)
	os.Exit(1)
}

// WhatsApp returns a whatsmeow logger writing through the shared zerolog output.
// whatsmeow is chatty at info level, so its minimum level is warn unless debug is on.
func WhatsApp(module string) waLog.Logger {
	l := current().With().Str("component", "whatsmeow").Str("module", module).Logger()
	if l.GetLevel() < zerolog.WarnLevel && GetLevel() != DEBUG {
		l = l.Level(zerolog.WarnLevel)
	}
	return waLog.Zerolog(l)
}
