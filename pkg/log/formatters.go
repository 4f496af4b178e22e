package log

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// JSONFormatter formats log entries as JSON.
type JSONFormatter struct {
	TimestampFormat string
	EnableCaller    bool
}

// Format formats the entry as a single JSON line.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(entry.Fields)+4)

	timestampFormat := time.RFC3339
	if f.TimestampFormat != "" {
		timestampFormat = f.TimestampFormat
	}
	data["timestamp"] = entry.Timestamp.Format(timestampFormat)
	data["level"] = entry.Level.String()
	data["message"] = entry.Message
	if f.EnableCaller && entry.Caller != "" {
		data["caller"] = entry.Caller
	}
	for k, v := range entry.Fields {
		// Don't overwrite standard fields
		if k != "timestamp" && k != "level" && k != "message" && k != "caller" {
			data[k] = v
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// TextFormatter formats log entries as human-readable text.
type TextFormatter struct {
	TimestampFormat  string
	EnableCaller     bool
	DisableColors    bool
	DisableTimestamp bool
}

// NewTextFormatter creates a new TextFormatter with short timestamps.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{TimestampFormat: "15:04:05.000"}
}

// Format formats the entry as text. Field keys are sorted so output is stable.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var b strings.Builder

	if !f.DisableTimestamp {
		format := "2006-01-02T15:04:05.000"
		if f.TimestampFormat != "" {
			format = f.TimestampFormat
		}
		ts := entry.Timestamp.Format(format)
		if !f.DisableColors {
			ts = colorDim + ts + colorReset
		}
		b.WriteString(ts)
		b.WriteByte(' ')
	}

	if f.DisableColors {
		b.WriteString(entry.Level.String())
	} else {
		b.WriteString(colorizeLevel(entry.Level))
	}

	if f.EnableCaller && entry.Caller != "" {
		if f.DisableColors {
			fmt.Fprintf(&b, " (%s)", entry.Caller)
		} else {
			fmt.Fprintf(&b, " (%s%s%s)", colorDim, entry.Caller, colorReset)
		}
	}

	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if f.DisableColors {
			fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
		} else {
			fmt.Fprintf(&b, " %s%s%s=%v", colorCyan, k, colorReset, entry.Fields[k])
		}
	}
	b.WriteByte('\n')

	return []byte(b.String()), nil
}

// Color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[90m"
)

func colorizeLevel(level Level) string {
	switch level {
	case DebugLevel:
		return colorBlue + "DBG" + colorReset
	case InfoLevel:
		return colorGreen + "INF" + colorReset
	case WarnLevel:
		return colorYellow + "WRN" + colorReset
	case ErrorLevel:
		return colorRed + "ERR" + colorReset
	default:
		return level.String()
	}
}
