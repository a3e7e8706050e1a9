package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger provides structured key/value logging for the decision core.
// Verbosity is explicit per instance and re-settable with SetLevel; there is
// no process-wide toggle.
type Logger struct {
	mu        sync.RWMutex
	backend   *logrus.Logger
	component string
	verbose   bool
}

// NewLogger creates a logger at the given level. component is attached to
// every line; pass "" for none.
func NewLogger(level, component string) *Logger {
	backend := logrus.New()
	backend.SetOutput(os.Stderr)
	backend.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})

	l := &Logger{backend: backend, component: component}
	l.SetLevel(level)
	return l
}

// SetOutput redirects log output, mainly for tests
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backend.SetOutput(w)
}

// SetLevel re-configures the level at runtime (debug|info|warn|error|trace)
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch strings.ToLower(level) {
	case "trace":
		l.backend.SetLevel(logrus.TraceLevel)
		l.verbose = true
	case "debug":
		l.backend.SetLevel(logrus.DebugLevel)
		l.verbose = true
	case "warn", "warning":
		l.backend.SetLevel(logrus.WarnLevel)
		l.verbose = false
	case "error":
		l.backend.SetLevel(logrus.ErrorLevel)
		l.verbose = false
	default:
		l.backend.SetLevel(logrus.InfoLevel)
		l.verbose = false
	}
}

// Verbose reports whether debug-and-below output is enabled
func (l *Logger) Verbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// WithComponent returns a logger sharing the backend with a new component tag
func (l *Logger) WithComponent(component string) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &Logger{backend: l.backend, component: component, verbose: l.verbose}
}

func (l *Logger) fields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	if l.component != "" {
		fields["component"] = l.component
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		fields[key] = kv[i+1]
	}
	if len(kv)%2 != 0 {
		fields["dangling"] = kv[len(kv)-1]
	}
	return fields
}

// Trace logs at trace level with alternating key/value pairs
func (l *Logger) Trace(msg string, kv ...interface{}) {
	l.backend.WithFields(l.fields(kv)).Trace(msg)
}

// Debug logs at debug level with alternating key/value pairs
func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.backend.WithFields(l.fields(kv)).Debug(msg)
}

// Info logs at info level with alternating key/value pairs
func (l *Logger) Info(msg string, kv ...interface{}) {
	l.backend.WithFields(l.fields(kv)).Info(msg)
}

// Warn logs at warn level with alternating key/value pairs
func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.backend.WithFields(l.fields(kv)).Warn(msg)
}

// Error logs at error level with alternating key/value pairs
func (l *Logger) Error(msg string, kv ...interface{}) {
	l.backend.WithFields(l.fields(kv)).Error(msg)
}

// LogDebugVerbose logs a field map at debug level only when verbose
func (l *Logger) LogDebugVerbose(msg string, fields map[string]interface{}) {
	if !l.Verbose() {
		return
	}
	f := logrus.Fields{}
	if l.component != "" {
		f["component"] = l.component
	}
	for k, v := range fields {
		f[k] = v
	}
	l.backend.WithFields(f).Debug(msg)
}

// LogSelection records the outcome of one network selection round
func (l *Logger) LogSelection(ssid, bssid, scorer string, score int, data map[string]interface{}) {
	kv := []interface{}{"ssid", ssid, "bssid", bssid, "scorer", scorer, "score", score}
	for k, v := range data {
		kv = append(kv, k, v)
	}
	l.Info("Network selected", kv...)
}

// LogStall records an emitted data stall signal
func (l *Logger) LogStall(signal string, txTputKbps, rxTputKbps int64) {
	l.Warn("Data stall detected",
		"signal", signal,
		"tx_tput_kbps", txTputKbps,
		"rx_tput_kbps", rxTputKbps,
	)
}
