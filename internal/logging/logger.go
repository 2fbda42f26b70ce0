package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity levels
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
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

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// entry is the serialized shape of one log line
type entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger is a structured key-value logger
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	level     Level
	component string
	fields    map[string]interface{}
	json      bool
}

// Config holds logger configuration
type Config struct {
	Level     string `json:"level"`
	Output    string `json:"output"` // "stdout", "stderr", or file path
	Component string `json:"component"`
	JSON      bool   `json:"json"`
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// New creates a logger with the given configuration
func New(cfg *Config) *Logger {
	var output io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
			output = f
		}
	}

	return &Logger{
		output:    output,
		level:     ParseLevel(cfg.Level),
		component: cfg.Component,
		json:      cfg.JSON,
		fields:    make(map[string]interface{}),
	}
}

// Default returns the process-wide logger
func Default() *Logger {
	once.Do(func() {
		if defaultLogger == nil {
			defaultLogger = New(&Config{Level: "INFO", JSON: true, Component: "engine"})
		}
	})
	return defaultLogger
}

// SetDefault replaces the process-wide logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// WithComponent returns a logger scoped to a component name
func (l *Logger) WithComponent(component string) *Logger {
	nl := l.clone()
	nl.component = component
	return nl
}

// WithField returns a logger with one extra field on every line
func (l *Logger) WithField(key string, value interface{}) *Logger {
	nl := l.clone()
	nl.fields[key] = value
	return nl
}

// WithError returns a logger carrying the error message as a field
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		output:    l.output,
		level:     l.level,
		component: l.component,
		fields:    fields,
		json:      l.json,
	}
}

// log writes one line; kv is alternating key-value pairs
func (l *Logger) log(level Level, msg string, kv ...interface{}) {
	if level < l.level {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		Component: l.component,
	}

	if len(l.fields) > 0 || len(kv) > 0 {
		e.Fields = make(map[string]interface{}, len(l.fields)+len(kv)/2)
		for k, v := range l.fields {
			e.Fields[k] = v
		}
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			if err, isErr := kv[i+1].(error); isErr && err != nil {
				e.Fields[key] = err.Error()
				continue
			}
			e.Fields[key] = kv[i+1]
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.json {
		data, _ := json.Marshal(e)
		fmt.Fprintln(l.output, string(data))
		return
	}
	l.writeText(e)
}

func (l *Logger) writeText(e entry) {
	var b strings.Builder
	b.WriteString(e.Timestamp[:19])
	b.WriteString(fmt.Sprintf(" [%-5s] ", e.Level))
	if e.Component != "" {
		b.WriteString("[" + e.Component + "] ")
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		b.WriteString(" |")
		for k, v := range e.Fields {
			b.WriteString(fmt.Sprintf(" %s=%v", k, v))
		}
	}
	fmt.Fprintln(l.output, b.String())
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(DEBUG, msg, kv...) }

// Info logs an info message
func (l *Logger) Info(msg string, kv ...interface{}) { l.log(INFO, msg, kv...) }

// Warn logs a warning message
func (l *Logger) Warn(msg string, kv ...interface{}) { l.log(WARN, msg, kv...) }

// Error logs an error message
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(ERROR, msg, kv...) }

// Package-level helpers on the default logger

func Debug(msg string, kv ...interface{}) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...interface{})  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...interface{})  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...interface{}) { Default().Error(msg, kv...) }

// WithComponent returns a component-scoped logger off the default
func WithComponent(component string) *Logger {
	return Default().WithComponent(component)
}
