package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// Logger is a subsystem logger. All messages are routed through the shared
// backend, tagged with the subsystem name.
type Logger struct {
	backend *Backend
	tag     string
	level   uint32
}

var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.
	backendLog = NewBackend()

	registryMtx       sync.Mutex
	subsystemLoggers  = make(map[string]*Logger)
	defaultLogLevel   = LevelInfo
	stdoutInitialized bool
)

// RegisterSubSystem returns a logger for the given subsystem tag, creating
// it if it does not exist yet. Loggers for the same tag are shared.
func RegisterSubSystem(tag string) *Logger {
	registryMtx.Lock()
	defer registryMtx.Unlock()

	if logger, ok := subsystemLoggers[tag]; ok {
		return logger
	}

	if !stdoutInitialized {
		_ = backendLog.AddLogWriter(os.Stdout, defaultLogLevel)
		stdoutInitialized = true
	}

	logger := &Logger{
		backend: backendLog,
		tag:     tag,
		level:   uint32(defaultLogLevel),
	}
	subsystemLoggers[tag] = logger
	return logger
}

// SetLogLevels sets the log level for all registered subsystems and for
// subsystems registered afterwards.
func SetLogLevels(level Level) {
	registryMtx.Lock()
	defer registryMtx.Unlock()

	defaultLogLevel = level
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}

// SetLogLevel sets the log level for the given subsystem. It returns false
// if the subsystem has not been registered.
func SetLogLevel(tag string, level Level) bool {
	registryMtx.Lock()
	defer registryMtx.Unlock()

	logger, ok := subsystemLoggers[tag]
	if !ok {
		return false
	}
	logger.SetLevel(level)
	return true
}

// AddLogFile attaches a rotating log file at the given level to the shared
// backend.
func AddLogFile(logFile string, level Level) error {
	return backendLog.AddLogFile(logFile, level)
}

// Close flushes and closes the shared backend writers.
func Close() {
	backendLog.Close()
}

// Backend returns the backend this logger writes to.
func (l *Logger) Backend() *Backend {
	return l.backend
}

// Level returns the current logging level.
func (l *Logger) Level() Level {
	return Level(atomic.LoadUint32(&l.level))
}

// SetLevel changes the logging level to the passed level.
func (l *Logger) SetLevel(level Level) {
	atomic.StoreUint32(&l.level, uint32(level))
}

// Tracef formats message according to format specifier and writes to the
// log with LevelTrace.
func (l *Logger) Tracef(format string, args ...interface{}) {
	if l.Level() <= LevelTrace {
		l.backend.printLogf(LevelTrace, l.tag, format, args...)
	}
}

// Debugf formats message according to format specifier and writes to the
// log with LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.Level() <= LevelDebug {
		l.backend.printLogf(LevelDebug, l.tag, format, args...)
	}
}

// Infof formats message according to format specifier and writes to the
// log with LevelInfo.
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.Level() <= LevelInfo {
		l.backend.printLogf(LevelInfo, l.tag, format, args...)
	}
}

// Warnf formats message according to format specifier and writes to the
// log with LevelWarn.
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.Level() <= LevelWarn {
		l.backend.printLogf(LevelWarn, l.tag, format, args...)
	}
}

// Errorf formats message according to format specifier and writes to the
// log with LevelError.
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.Level() <= LevelError {
		l.backend.printLogf(LevelError, l.tag, format, args...)
	}
}

// Criticalf formats message according to format specifier and writes to the
// log with LevelCritical.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	if l.Level() <= LevelCritical {
		l.backend.printLogf(LevelCritical, l.tag, format, args...)
	}
}

// Trace formats message using the default formats for its operands and
// writes to the log with LevelTrace.
func (l *Logger) Trace(args ...interface{}) {
	if l.Level() <= LevelTrace {
		l.backend.printLog(LevelTrace, l.tag, args...)
	}
}

// Debug formats message using the default formats for its operands and
// writes to the log with LevelDebug.
func (l *Logger) Debug(args ...interface{}) {
	if l.Level() <= LevelDebug {
		l.backend.printLog(LevelDebug, l.tag, args...)
	}
}

// Info formats message using the default formats for its operands and
// writes to the log with LevelInfo.
func (l *Logger) Info(args ...interface{}) {
	if l.Level() <= LevelInfo {
		l.backend.printLog(LevelInfo, l.tag, args...)
	}
}

// Warn formats message using the default formats for its operands and
// writes to the log with LevelWarn.
func (l *Logger) Warn(args ...interface{}) {
	if l.Level() <= LevelWarn {
		l.backend.printLog(LevelWarn, l.tag, args...)
	}
}

// Error formats message using the default formats for its operands and
// writes to the log with LevelError.
func (l *Logger) Error(args ...interface{}) {
	if l.Level() <= LevelError {
		l.backend.printLog(LevelError, l.tag, args...)
	}
}

// Critical formats message using the default formats for its operands and
// writes to the log with LevelCritical.
func (l *Logger) Critical(args ...interface{}) {
	if l.Level() <= LevelCritical {
		l.backend.printLog(LevelCritical, l.tag, args...)
	}
}

// String satisfies fmt.Stringer for convenient debug printing of loggers.
func (l *Logger) String() string {
	return fmt.Sprintf("%s(%s)", l.tag, l.Level())
}
