// Package logx provides component-tagged logging with context-aware debug output.
package logx

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Logger writes lines tagged with the component that produced them.
type Logger struct {
	component string
	logger    *log.Logger
}

// Entry is a captured log line kept in the in-memory buffer.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

type ringBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

type debugSettings struct {
	enabled bool
	domains map[string]bool // nil enables every domain
}

type ctxKey struct{}

//nolint:gochecknoglobals // process-wide logging settings
var (
	debugMu sync.RWMutex
	debug   = debugSettings{}

	output io.Writer = os.Stderr

	buffer = &ringBuffer{maxSize: 1000}
)

func init() { //nolint:gochecknoinits // env configuration
	loadDebugFromEnv()
}

// loadDebugFromEnv reads DEBUG and DEBUG_DOMAINS.
//
//	DEBUG=1                               enable debug for all domains
//	DEBUG=1 DEBUG_DOMAINS=provider,chat   enable debug for the listed domains only
func loadDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	v := os.Getenv("DEBUG")
	debug.enabled = v == "1" || strings.EqualFold(v, "true")
	debug.domains = parseDomains(os.Getenv("DEBUG_DOMAINS"))
}

func parseDomains(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, d := range strings.Split(raw, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out[d] = true
		}
	}
	return out
}

// NewLogger creates a logger for the named component.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(writer{}, "", 0),
	}
}

// writer indirects through the package output so SetOutput affects existing loggers.
type writer struct{}

func (writer) Write(p []byte) (int, error) {
	debugMu.RLock()
	w := output
	debugMu.RUnlock()
	return w.Write(p) //nolint:wrapcheck
}

// SetOutput redirects all loggers. Intended for tests and the CLI.
func SetOutput(w io.Writer) {
	debugMu.Lock()
	defer debugMu.Unlock()
	output = w
}

// SetDebug toggles debug output and restricts it to the given domains (none = all).
func SetDebug(enabled bool, domains ...string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debug.enabled = enabled
	debug.domains = parseDomains(strings.Join(domains, ","))
}

// IsDebugEnabled reports whether debug logging is on.
func IsDebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debug.enabled
}

// IsDebugEnabledForDomain reports whether debug logging is on for domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	if !debug.enabled {
		return false
	}
	return debug.domains == nil || debug.domains[domain]
}

// WithRunID attaches a run id to ctx for domain debug logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, runID)
}

// RunID returns the run id carried by ctx, if any.
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

func (b *ringBuffer) add(e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, *e)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// Recent returns buffered entries, optionally filtered by domain and start time.
func Recent(domain string, since time.Time) []Entry {
	buffer.mu.RLock()
	defer buffer.mu.RUnlock()

	out := make([]Entry, 0, len(buffer.entries))
	for i := range buffer.entries {
		e := &buffer.entries[i]
		if domain != "" && !strings.EqualFold(e.Domain, domain) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(timestampLayout, e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		out = append(out, *e)
	}
	return out
}

func (l *Logger) log(level Level, format string, args ...any) {
	ts := time.Now().UTC().Format(timestampLayout)
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", ts, l.component, level, msg)
	buffer.add(&Entry{Timestamp: ts, Component: l.component, Level: string(level), Message: msg})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Component returns the component tag.
func (l *Logger) Component() string {
	return l.component
}

// With returns a logger for a sub-component, e.g. "consensus/analyst-2".
func (l *Logger) With(sub string) *Logger {
	return &Logger{component: l.component + "/" + sub, logger: l.logger}
}

// Debug logs a domain-filtered debug line; the run id is taken from ctx.
//
//	logx.Debug(ctx, "provider", "resolved %s endpoint for %s", kind, model)
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	runID := RunID(ctx)
	if runID == "" {
		runID = "-"
	}
	ts := time.Now().UTC().Format(timestampLayout)
	msg := fmt.Sprintf(format, args...)
	log.New(writer{}, "", 0).Printf("[%s] [%s] [%s] %s: %s", ts, runID, domain, LevelDebug, msg)
	buffer.add(&Entry{Timestamp: ts, Component: runID, Level: string(LevelDebug), Message: msg, Domain: domain, RunID: RunID(ctx)})
}

// DebugState logs a state transition for domain.
func DebugState(ctx context.Context, domain, from, to string) {
	Debug(ctx, domain, "State %s -> %s", from, to)
}

//nolint:gochecknoglobals // package default logger
var defaultLogger = NewLogger("agentcore")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
