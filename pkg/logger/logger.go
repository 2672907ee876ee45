// Package logger provides the logging interface shared by the loader,
// its transports and the daemon.
package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Logger is the printf-style sink every component logs through.
type Logger interface {
	// Info logs progress that is expected (e.g. "cached bundle characters").
	Info(format string, args ...interface{})

	// Warning logs a recoverable condition (e.g. "retrying bundle 2/3").
	Warning(format string, args ...interface{})

	// Error logs a failure that the caller has to act on.
	Error(format string, args ...interface{})

	// Close releases resources held by the logger. Safe to call more
	// than once.
	Close() error
}

// StandardLogger wraps a *log.Logger and tags each line with its level.
type StandardLogger struct {
	logger *log.Logger
}

// NewStandardLogger creates a logger that writes through l.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l}
}

// Info logs with an [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warning logs with a [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.logger.Printf("[WARNING] "+format, args...)
}

// Error logs with an [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Close is a no-op.
func (s *StandardLogger) Close() error {
	return nil
}

// NopLogger discards everything.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Info(format string, args ...interface{})    {}
func (n *NopLogger) Warning(format string, args ...interface{}) {}
func (n *NopLogger) Error(format string, args ...interface{})   {}
func (n *NopLogger) Close() error                               { return nil }

// PrefixLogger prepends a fixed component tag to every message,
// e.g. "[loader] cached bundle characters".
type PrefixLogger struct {
	prefix string
	next   Logger
}

// WithPrefix returns a logger that tags messages with "[name] ".
func WithPrefix(l Logger, name string) *PrefixLogger {
	return &PrefixLogger{prefix: "[" + name + "] ", next: l}
}

func (p *PrefixLogger) Info(format string, args ...interface{}) {
	p.next.Info(p.prefix+format, args...)
}

func (p *PrefixLogger) Warning(format string, args ...interface{}) {
	p.next.Warning(p.prefix+format, args...)
}

func (p *PrefixLogger) Error(format string, args ...interface{}) {
	p.next.Error(p.prefix+format, args...)
}

func (p *PrefixLogger) Close() error {
	return p.next.Close()
}

// ToStdLogger adapts l for libraries that only accept a *log.Logger.
// Lines are forwarded at Info level.
func ToStdLogger(l Logger) *log.Logger {
	return log.New(stdWriter{l}, "", 0)
}

type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
	_ Logger = (*PrefixLogger)(nil)
)

// MockLogger records every call for assertions in tests.
// It is safe for concurrent use since transports log from their own
// goroutines.
type MockLogger struct {
	mu           sync.Mutex
	InfoCalls    []string
	WarningCalls []string
	ErrorCalls   []string
	CloseCalled  bool
}

// NewMockLogger creates an empty MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{
		InfoCalls:    make([]string, 0),
		WarningCalls: make([]string, 0),
		ErrorCalls:   make([]string, 0),
	}
}

func (m *MockLogger) Info(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InfoCalls = append(m.InfoCalls, fmt.Sprintf(format, args...))
}

func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WarningCalls = append(m.WarningCalls, fmt.Sprintf(format, args...))
}

func (m *MockLogger) Error(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCalls = append(m.ErrorCalls, fmt.Sprintf(format, args...))
}

func (m *MockLogger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

// Contains reports whether any recorded message at any level contains s.
func (m *MockLogger) Contains(s string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, calls := range [][]string{m.InfoCalls, m.WarningCalls, m.ErrorCalls} {
		for _, c := range calls {
			if strings.Contains(c, s) {
				return true
			}
		}
	}
	return false
}

var _ Logger = (*MockLogger)(nil)
