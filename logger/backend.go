package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
)

const (
	defaultThresholdKB = 100 * 1000 // 100 MB logs by default.
	defaultMaxRolls    = 8          // keep 8 last logs by default.
)

// Backend is a logging backend. Subsystems created from the backend write to
// the backend's writers. Backend provides atomic writes from all subsystems.
type Backend struct {
	mtx     sync.Mutex
	writers []logWriter
}

type logWriter struct {
	io.WriteCloser
	logLevel Level
}

// NewBackend creates a new logger backend.
func NewBackend() *Backend {
	return &Backend{}
}

// AddLogWriter adds a type implementing io.WriteCloser which the log will
// write into on a certain log level.
func (b *Backend) AddLogWriter(writer io.WriteCloser, logLevel Level) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.writers = append(b.writers, logWriter{
		WriteCloser: writer,
		logLevel:    logLevel,
	})
	return nil
}

// AddLogFile adds a file which the log will write into on a certain log
// level with the default log rotation settings. It'll create the file if it
// doesn't exist.
func (b *Backend) AddLogFile(logFile string, logLevel Level) error {
	return b.AddLogFileWithCustomRotator(logFile, logLevel, defaultThresholdKB, defaultMaxRolls)
}

// AddLogFileWithCustomRotator adds a file which the log will write into on a
// certain log level, with the specified log rotation settings. It'll create
// the file if it doesn't exist.
func (b *Backend) AddLogFileWithCustomRotator(logFile string, logLevel Level,
	thresholdKB int64, maxRolls int) error {

	logDir, _ := filepath.Split(logFile)
	// if the logDir is empty then `logFile` is in the cwd and there's no
	// need to create any directory.
	if logDir != "" {
		err := os.MkdirAll(logDir, 0700)
		if err != nil {
			return errors.Errorf("failed to create log directory: %+v", err)
		}
	}
	r, err := rotator.New(logFile, thresholdKB, false, maxRolls)
	if err != nil {
		return errors.Errorf("failed to create file rotator: %s", err)
	}
	return b.AddLogWriter(r, logLevel)
}

// write outputs a log entry to every writer whose level admits it.
func (b *Backend) write(logLevel Level, entry []byte) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	for _, writer := range b.writers {
		if logLevel >= writer.logLevel {
			_, _ = writer.Write(entry)
		}
	}
}

// Close finalizes all log rotators for this backend.
func (b *Backend) Close() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	for _, writer := range b.writers {
		_ = writer.Close()
	}
}

// printLog formats a log entry and writes it to the backend. The formatting
// matches: 2006-01-02 15:04:05.000 [SUBS] message.
func (b *Backend) printLog(logLevel Level, tag string, args ...interface{}) {
	t := time.Now()
	message := fmt.Sprintln(args...)
	entry := fmt.Sprintf("%s [%s] %s", formatTime(t), tag, message)
	b.write(logLevel, []byte(entry))
}

// printLogf formats a log entry using a format string and writes it to the
// backend.
func (b *Backend) printLogf(logLevel Level, tag string, format string,
	args ...interface{}) {

	t := time.Now()
	message := fmt.Sprintf(format, args...)
	entry := fmt.Sprintf("%s [%s] %s\n", formatTime(t), tag, message)
	b.write(logLevel, []byte(entry))
}

// formatTime returns the given time formatted with millisecond precision.
func formatTime(t time.Time) string {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	ms := t.Nanosecond() / 1e6
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%03d",
		year, month, day, hour, min, sec, ms)
}
