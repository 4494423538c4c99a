// Package logger provides leveled, colorized logging for releng-tool
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger interface for abstracted logging
type Logger interface {
	Debug(message string, fields ...Field)
	Verbose(message string, fields ...Field)
	Info(message string, fields ...Field)
	Note(message string, fields ...Field)
	Success(message string, fields ...Field)
	Warn(message string, fields ...Field)
	Error(message string, fields ...Field)
	Hint(message string, fields ...Field)
	WithPackage(name string) Logger
	// Warned reports whether any warning has been emitted through this
	// logger or any logger derived from it.
	Warned() bool
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// WithField creates a new field
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

const (
	styleKey   = "style"
	packageKey = "package"
)

const (
	styleVerbose = "verbose"
	styleNote    = "note"
	styleSuccess = "success"
	styleHint    = "hint"
)

// Options configure a logger
type Options struct {
	Debug   bool
	Verbose bool
	NoColor bool
	Out     io.Writer
}

// RelengLogger implements Logger on top of logrus
type RelengLogger struct {
	logger      *logrus.Logger
	verbose     bool
	packageName string
	shared      *sharedState
}

type sharedState struct {
	mu       sync.Mutex
	warnings int
}

// Formatter renders entries the way releng-tool prints them: plain info
// lines, prefixed warnings and errors, and faint debug/verbose output.
type Formatter struct {
	DisableColors bool
}

// Format implements logrus.Formatter
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	style, _ := entry.Data[styleKey].(string)

	var prefix string
	var levelColor *color.Color
	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		prefix = "error: "
		levelColor = color.New(color.FgRed)
	case logrus.WarnLevel:
		prefix = "warning: "
		levelColor = color.New(color.FgYellow)
	case logrus.DebugLevel, logrus.TraceLevel:
		prefix = "(debug) "
		levelColor = color.New(color.Faint)
	default:
		switch style {
		case styleVerbose:
			prefix = "(verbose) "
			levelColor = color.New(color.Faint)
		case styleNote:
			levelColor = color.New(color.FgMagenta, color.Bold)
		case styleSuccess:
			levelColor = color.New(color.FgGreen)
		case styleHint:
			levelColor = color.New(color.FgCyan)
		}
	}

	message := prefix + entry.Message
	if levelColor != nil && !f.DisableColors {
		message = levelColor.Sprint(message)
	}

	var fields []string
	for k, v := range entry.Data {
		if k == styleKey || k == packageKey {
			continue
		}
		fields = append(fields, fmt.Sprintf("%s=%v", k, v))
	}
	if len(fields) > 0 {
		sort.Strings(fields)
		suffix := " {" + strings.Join(fields, ", ") + "}"
		if !f.DisableColors {
			suffix = color.New(color.FgWhite, color.Faint).Sprint(suffix)
		}
		message += suffix
	}

	return []byte(message + "\n"), nil
}

// New creates a new logger instance
func New(opts Options) *RelengLogger {
	log := logrus.New()

	log.SetLevel(logrus.InfoLevel)
	if opts.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if opts.NoColor {
		color.NoColor = true
	}
	log.SetFormatter(&Formatter{DisableColors: opts.NoColor || color.NoColor})

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)

	return &RelengLogger{
		logger:  log,
		verbose: opts.Verbose || opts.Debug,
		shared:  &sharedState{},
	}
}

// NewWithOutput creates a logger with custom output and colors disabled (for testing)
func NewWithOutput(output io.Writer, debug bool) *RelengLogger {
	log := New(Options{Debug: debug, Verbose: debug, Out: output})
	log.logger.SetFormatter(&Formatter{DisableColors: true})
	return log
}

// Discard creates a logger which drops everything
func Discard() *RelengLogger {
	return NewWithOutput(io.Discard, false)
}

// WithPackage creates a new logger tagging entries with a package name
func (l *RelengLogger) WithPackage(name string) Logger {
	return &RelengLogger{
		logger:      l.logger,
		verbose:     l.verbose,
		packageName: name,
		shared:      l.shared,
	}
}

// Warned reports whether a warning has been emitted
func (l *RelengLogger) Warned() bool {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	return l.shared.warnings > 0
}

// IsVerbose reports whether verbose messages are emitted
func (l *RelengLogger) IsVerbose() bool {
	return l.verbose
}

func (l *RelengLogger) entry(style string, fields []Field) *logrus.Entry {
	data := make(logrus.Fields, len(fields)+2)
	if l.packageName != "" {
		data[packageKey] = l.packageName
	}
	if style != "" {
		data[styleKey] = style
	}
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.logger.WithFields(data)
}

// Debug logs a debug message
func (l *RelengLogger) Debug(message string, fields ...Field) {
	l.entry("", fields).Debug(message)
}

// Verbose logs a message only shown in verbose or debug mode
func (l *RelengLogger) Verbose(message string, fields ...Field) {
	if !l.verbose {
		return
	}
	l.entry(styleVerbose, fields).Info(message)
}

// Info logs an info message
func (l *RelengLogger) Info(message string, fields ...Field) {
	l.entry("", fields).Info(message)
}

// Note logs a highlighted info message
func (l *RelengLogger) Note(message string, fields ...Field) {
	l.entry(styleNote, fields).Info(message)
}

// Success logs a success message (info level with special formatting)
func (l *RelengLogger) Success(message string, fields ...Field) {
	l.entry(styleSuccess, fields).Info(message)
}

// Hint logs a suggestion for the user
func (l *RelengLogger) Hint(message string, fields ...Field) {
	l.entry(styleHint, fields).Info(message)
}

// Warn logs a warning message
func (l *RelengLogger) Warn(message string, fields ...Field) {
	l.shared.mu.Lock()
	l.shared.warnings++
	l.shared.mu.Unlock()
	l.entry("", fields).Warn(message)
}

// Error logs an error message
func (l *RelengLogger) Error(message string, fields ...Field) {
	l.entry("", fields).Error(message)
}
