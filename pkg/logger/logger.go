// Package logger provides the leveled logging used throughout the toolkit.
//
// It mirrors the logging style of the original RTMP server: timestamped
// lines on the standard logger, a debug level gated by an environment flag,
// and a request-scoped helper that tags lines with a session id and peer
// address.
package logger

import (
	"fmt"
	"log"
	"os"
)

var debugEnabled = os.Getenv("LOG_DEBUG") == "YES"

func init() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
}

// DebugEnabled reports whether debug-level logging is turned on.
func DebugEnabled() bool {
	return debugEnabled
}

// SetDebugEnabled overrides the debug flag, mainly for tests.
func SetDebugEnabled(v bool) {
	debugEnabled = v
}

func Info(msg string) {
	log.Print("[INFO] " + msg)
}

func Infof(format string, args ...any) {
	log.Print("[INFO] " + fmt.Sprintf(format, args...))
}

func Warning(msg string) {
	log.Print("[WARN] " + msg)
}

func Warnf(format string, args ...any) {
	log.Print("[WARN] " + fmt.Sprintf(format, args...))
}

func Error(err error) {
	if err == nil {
		return
	}
	log.Print("[ERROR] " + err.Error())
}

func ErrorMessage(msg string) {
	log.Print("[ERROR] " + msg)
}

func Errorf(format string, args ...any) {
	log.Print("[ERROR] " + fmt.Sprintf(format, args...))
}

func Debug(msg string) {
	if !debugEnabled {
		return
	}
	log.Print("[DEBUG] " + msg)
}

func Debugf(format string, args ...any) {
	if !debugEnabled {
		return
	}
	log.Print("[DEBUG] " + fmt.Sprintf(format, args...))
}

// Request logs a line tagged with a session id and remote address, matching
// the teacher's LogRequest helper used for per-connection activity lines.
func Request(sessionID string, ip string, msg string) {
	log.Print("[" + sessionID + " | " + ip + "] " + msg)
}

func DebugSession(sessionID string, ip string, msg string) {
	if !debugEnabled {
		return
	}
	log.Print("[DEBUG][" + sessionID + " | " + ip + "] " + msg)
}

// Logger is the capability exposed to Streamer implementations (section 6,
// "Streamer contract") so any component can log without depending on this
// package's globals directly.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Default is a Logger backed by the package-level functions above.
type defaultLogger struct{}

func (defaultLogger) Infof(format string, args ...any)  { Infof(format, args...) }
func (defaultLogger) Warnf(format string, args ...any)  { Warnf(format, args...) }
func (defaultLogger) Errorf(format string, args ...any) { Errorf(format, args...) }
func (defaultLogger) Debugf(format string, args ...any) { Debugf(format, args...) }

// Default returns the process-wide Logger.
func Default() Logger { return defaultLogger{} }
