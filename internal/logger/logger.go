// Package logger is the leveled logger shared by mediastore's background
// workers: the replication drain, transfer tasks, the write-back warm, and
// the eviction loop. Output goes to stdout with a timestamp and level
// prefix; the level is set once at startup from the logging config.
package logger

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"
)

// Level is the severity of a log line. Lines below the configured level
// are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const timestampFormat = "2006-01-02 15:04:05"

var (
	currentLevel = LevelInfo
	out          = stdlog.New(os.Stdout, "", 0)
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SetLevel sets the minimum level from its config-file spelling
// (case-insensitive). Unknown values leave the level unchanged.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

func write(level Level, format string, v ...any) {
	if level < currentLevel {
		return
	}

	prefix := fmt.Sprintf("[%s] [%s] ", time.Now().Format(timestampFormat), level)
	out.Println(prefix + fmt.Sprintf(format, v...))
}

func Debug(format string, v ...any) {
	write(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	write(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	write(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	write(LevelError, format, v...)
}
