package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

type FieldKey string

const (
	FieldError      FieldKey = "error"
	FieldSession    FieldKey = "session"
	FieldChannel    FieldKey = "channel"
	FieldFrequency  FieldKey = "freq_hz"
	FieldBlockBytes FieldKey = "block_bytes"
	FieldTransfer   FieldKey = "transfer_unit"
	FieldBytes      FieldKey = "bytes"
	FieldReason     FieldKey = "reason"
	FieldDevice     FieldKey = "device"
	FieldBackend    FieldKey = "backend"
	FieldAddr       FieldKey = "addr"
	FieldConfigPath FieldKey = "config_path"
	FieldSampleRate FieldKey = "sample_rate"
	FieldGain       FieldKey = "gain"
	FieldPPM        FieldKey = "ppm"
	FieldAttempt    FieldKey = "attempt"
)

type Fields map[FieldKey]any

type Level = pterm.LogLevel

const (
	LevelTrace Level = pterm.LogLevelTrace
	LevelDebug Level = pterm.LogLevelDebug
	LevelInfo  Level = pterm.LogLevelInfo
	LevelWarn  Level = pterm.LogLevelWarn
	LevelError Level = pterm.LogLevelError
)

var (
	levelNames = map[string]Level{
		"trace":   LevelTrace,
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	}

	loggerMu = sync.RWMutex{}

	// Samples may be streamed to stdout, so diagnostics always go to stderr.
	baseLogger = newLogger(os.Stderr)

	currentLevel = LevelInfo
)

func newLogger(w io.Writer) *pterm.Logger {
	template := pterm.DefaultLogger.WithTime(true).
		WithTimeFormat(time.RFC3339).
		WithMaxWidth(120).
		WithCaller(false).
		WithWriter(w)
	return template.AppendKeyStyles(map[string]pterm.Style{
		string(FieldError): *pterm.NewStyle(pterm.FgRed, pterm.Bold),
	})
}

// Configure sets the level by name. Unknown names fall back to info.
func Configure(level string) error {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		SetLevel(LevelInfo)
		return nil
	}
	lvl, ok := levelNames[level]
	if !ok {
		SetLevel(LevelInfo)
		return fmt.Errorf("unknown log level %q", level)
	}
	SetLevel(lvl)
	return nil
}

func SetLevel(level Level) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	currentLevel = level
	baseLogger.Level = level
}

// SetOutput redirects log output; tests use it to capture lines.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	baseLogger = newLogger(w)
	baseLogger.Level = currentLevel
}

func getLevel() Level {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return currentLevel
}

func log(level Level, msg string, fields Fields) {
	if level < getLevel() {
		return
	}

	loggerMu.RLock()
	logger := baseLogger.WithLevel(currentLevel)
	loggerMu.RUnlock()

	args := makeLoggerArgs(fields)
	switch level {
	case LevelTrace:
		logger.Trace(msg, args)
	case LevelDebug:
		logger.Debug(msg, args)
	case LevelWarn:
		logger.Warn(msg, args)
	case LevelError:
		logger.Error(msg, args)
	default:
		logger.Info(msg, args)
	}
}

func makeLoggerArgs(fields Fields) []pterm.LoggerArgument {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	args := make([]pterm.LoggerArgument, 0, len(keys))
	for _, key := range keys {
		args = append(args, pterm.LoggerArgument{Key: key, Value: fields[FieldKey(key)]})
	}
	return args
}

func Trace(msg string, fields Fields) { log(LevelTrace, msg, fields) }
func Debug(msg string, fields Fields) { log(LevelDebug, msg, fields) }
func Info(msg string, fields Fields)  { log(LevelInfo, msg, fields) }
func Warn(msg string, fields Fields)  { log(LevelWarn, msg, fields) }
func Error(msg string, fields Fields) { log(LevelError, msg, fields) }

// With returns fields merged over base; used to carry a session id.
func With(base Fields, extra Fields) Fields {
	out := make(Fields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
