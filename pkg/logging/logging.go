// pkg/logging/logging.go - timestamped logging for sweeper.
//
// Each session writes to its own YYYY-MM-DD-HHMMss directory:
// - sweeper.log: plain text lines
// - events.jsonl: one structured LogEvent per line for external tooling

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/windowsadmins/sweeper/pkg/config"
)

// LogLevel represents the severity of the log message.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the string representation of the LogLevel.
func (ll LogLevel) String() string {
	switch ll {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	BaseDir       string // Base logging directory
	Level         LogLevel
	RunType       string // manual, scheduled
	EnableConsole bool
	EnableJSON    bool
}

// Logger writes plain and structured log output for one session.
type Logger struct {
	mu        sync.Mutex
	logger    *log.Logger
	console   io.Writer
	logLevel  LogLevel
	logFile   *os.File
	jsonFile  *os.File
	config    LoggerConfig
	logDir    string
	sessionID string
}

var (
	instance *Logger
	once     sync.Once
)

// Init initializes the singleton Logger from the sweeper configuration.
func Init(cfg *config.Configuration) error {
	level := ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = LevelDebug
	}
	return InitWithConfig(LoggerConfig{
		BaseDir:       cfg.LogPath,
		Level:         level,
		RunType:       "manual",
		EnableConsole: true,
		EnableJSON:    true,
	})
}

// InitWithConfig initializes the logger with an explicit LoggerConfig.
func InitWithConfig(logCfg LoggerConfig) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLogger(logCfg, time.Now())
	})
	return initErr
}

func newLogger(cfg LoggerConfig, sessionStart time.Time) (*Logger, error) {
	logDir := filepath.Join(cfg.BaseDir, sessionStart.Format("2006-01-02-150405"))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}

	l := &Logger{
		config:    cfg,
		logLevel:  cfg.Level,
		logDir:    logDir,
		sessionID: "sweeper-" + uuid.NewString(),
	}

	var err error
	l.logFile, err = os.OpenFile(filepath.Join(logDir, "sweeper.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open main log file: %w", err)
	}
	if cfg.EnableJSON {
		l.jsonFile, err = os.OpenFile(filepath.Join(logDir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open JSON log file: %w", err)
		}
	}
	l.logger = log.New(l.logFile, "", 0)
	if cfg.EnableConsole {
		l.console = color.Output
	}
	return l, nil
}

// CloseLogger closes all log files if they're open.
func CloseLogger() {
	if instance == nil {
		return
	}
	instance.mu.Lock()
	defer instance.mu.Unlock()

	if instance.logFile != nil {
		_ = instance.logFile.Close()
		instance.logFile = nil
	}
	if instance.jsonFile != nil {
		_ = instance.jsonFile.Close()
		instance.jsonFile = nil
	}
}

// SetLevel changes the active level, e.g. after -v flags are counted.
func SetLevel(level LogLevel) {
	if instance == nil {
		return
	}
	instance.mu.Lock()
	instance.logLevel = level
	instance.mu.Unlock()
}

// GetCurrentLogDir returns the session log directory.
func GetCurrentLogDir() string {
	if instance == nil {
		return ""
	}
	return instance.logDir
}

// GetSessionID returns the session identifier.
func GetSessionID() string {
	if instance == nil {
		return ""
	}
	return instance.sessionID
}

func (l *Logger) logMessage(level LogLevel, message string, keyValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.logLevel || l.logFile == nil {
		return
	}

	line := formatLine(time.Now(), level, message, keyValues)
	l.logger.Println(line)
	if l.console != nil {
		levelColor(level).Fprintln(l.console, line)
	}
	if l.jsonFile != nil {
		l.writeEvent(LogEvent{
			EventType: "log",
			Level:     level.String(),
			Message:   message,
			Context:   pairs(keyValues),
		})
	}
}

// formatLine renders "[2006-01-02 15:04:05] INFO  message key=value ...".
func formatLine(ts time.Time, level LogLevel, message string, keyValues []interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-5s %s", ts.Format("2006-01-02 15:04:05"), level.String(), message)
	for i := 0; i+1 < len(keyValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyValues[i], keyValues[i+1])
	}
	if len(keyValues)%2 == 1 {
		fmt.Fprintf(&b, " %v", keyValues[len(keyValues)-1])
	}
	return b.String()
}

func pairs(keyValues []interface{}) map[string]interface{} {
	if len(keyValues) < 2 {
		return nil
	}
	props := make(map[string]interface{}, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key := fmt.Sprintf("%v", keyValues[i])
		if err, ok := keyValues[i+1].(error); ok {
			props[key] = err.Error()
			continue
		}
		props[key] = keyValues[i+1]
	}
	return props
}

func levelColor(level LogLevel) *color.Color {
	switch level {
	case LevelError:
		return color.New(color.FgRed)
	case LevelWarn:
		return color.New(color.FgYellow)
	case LevelDebug:
		return color.New(color.FgBlue)
	default:
		return color.New(color.Reset)
	}
}

// logUninitialized keeps warnings visible before Init has run.
func logUninitialized(level LogLevel, message string, keyValues []interface{}) {
	if level > LevelWarn {
		return
	}
	fmt.Fprintln(os.Stderr, formatLine(time.Now(), level, message, keyValues))
}

// Info logs informational messages.
func Info(message string, keyValues ...interface{}) {
	if instance == nil {
		logUninitialized(LevelInfo, message, keyValues)
		return
	}
	instance.logMessage(LevelInfo, message, keyValues...)
}

// Debug logs debug messages.
func Debug(message string, keyValues ...interface{}) {
	if instance == nil {
		return
	}
	instance.logMessage(LevelDebug, message, keyValues...)
}

// Warn logs warnings.
func Warn(message string, keyValues ...interface{}) {
	if instance == nil {
		logUninitialized(LevelWarn, message, keyValues)
		return
	}
	instance.logMessage(LevelWarn, message, keyValues...)
}

// Error logs errors.
func Error(message string, keyValues ...interface{}) {
	if instance == nil {
		logUninitialized(LevelError, message, keyValues)
		return
	}
	instance.logMessage(LevelError, message, keyValues...)
}
