package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level represents a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Level(0), fmt.Errorf("unsupported log level %q", s)
	}
}

// Format controls how log entries are rendered.
type Format int

const (
	Text Format = iota
	JSON
)

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case JSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat converts a string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "text", "":
		return Text, nil
	default:
		return Format(0), fmt.Errorf("unsupported log format %q", s)
	}
}

// Field is a structured key/value pair attached to an entry.
type Field struct {
	Key   string
	Value any
}

// Subsystem tags entries with the emitting component.
func Subsystem(name string) Field { return Field{Key: "subsystem", Value: name} }

// Err attaches an error under the "error" key.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger defines leveled structured logging operations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Enabled(level Level) bool
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// Default returns the process-wide logger. Until SetDefault is called it
// discards everything.
func Default() Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}
	return New(Info, Text, io.Discard)
}

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// OrDefault returns l, or the process-wide logger when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}

// Setup parses level and format names and builds a logger writing to out.
func Setup(levelName, formatName string, out io.Writer) (Logger, error) {
	level, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(formatName)
	if err != nil {
		return nil, err
	}
	return New(level, format, out), nil
}

type baseLogger struct {
	level      Level
	format     Format
	fields     []Field
	underlying *log.Logger
}

// New constructs a Logger with the given level, format, and output writer.
func New(level Level, format Format, out io.Writer) Logger {
	flags := log.LstdFlags | log.Lmicroseconds
	if format == JSON {
		flags = 0
	}
	return &baseLogger{
		level:      level,
		format:     format,
		underlying: log.New(out, "", flags),
	}
}

func (l *baseLogger) With(fields ...Field) Logger {
	combined := make([]Field, 0, len(l.fields)+len(fields))
	combined = append(combined, l.fields...)
	combined = append(combined, fields...)
	return &baseLogger{
		level:      l.level,
		format:     l.format,
		fields:     combined,
		underlying: l.underlying,
	}
}

func (l *baseLogger) Enabled(level Level) bool { return level >= l.level }

func (l *baseLogger) Debug(msg string, fields ...Field) { l.log(Debug, msg, fields) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.log(Info, msg, fields) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.log(Warn, msg, fields) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.log(Error, msg, fields) }

func (l *baseLogger) log(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	all := make([]Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)
	switch l.format {
	case JSON:
		l.logJSON(level, msg, all)
	default:
		l.logText(level, msg, all)
	}
}

func (l *baseLogger) logText(level Level, msg string, fields []Field) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level.String(), msg)
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(textValue(f.Value))
	}
	l.underlying.Print(b.String())
}

func textValue(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case error:
		s = val.Error()
	case time.Duration:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'g', -1, 64)
	default:
		s = fmt.Sprintf("%v", val)
	}
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return strconv.Quote(s)
	}
	return s
}

// logJSON keeps field order stable: time, level, msg, then fields as given.
func (l *baseLogger) logJSON(level Level, msg string, fields []Field) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeJSONPair(&buf, "time", time.Now().Format(time.RFC3339Nano), true)
	writeJSONPair(&buf, "level", level.String(), false)
	writeJSONPair(&buf, "msg", msg, false)
	seen := map[string]bool{"time": true, "level": true, "msg": true}
	for _, f := range fields {
		if f.Key == "" || seen[f.Key] {
			continue
		}
		seen[f.Key] = true
		value := f.Value
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		writeJSONPair(&buf, f.Key, value, false)
	}
	buf.WriteByte('}')
	l.underlying.Print(buf.String())
}

func writeJSONPair(buf *bytes.Buffer, key string, value any, first bool) {
	if !first {
		buf.WriteByte(',')
	}
	k, _ := json.Marshal(key)
	buf.Write(k)
	buf.WriteByte(':')
	v, err := json.Marshal(value)
	if err != nil {
		v, _ = json.Marshal(fmt.Sprintf("%v", value))
	}
	buf.Write(v)
}
