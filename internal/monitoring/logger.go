package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Infof logs a routine, expected-path event: a reconnect, a recompute, a
// diagnostic stage transition.
func Infof(format string, v ...interface{}) {
	Logf("INFO: "+format, v...)
}

// Warnf logs a recoverable condition worth a human's attention: a transient
// poll failure, an unmatched device serial, a config backfill.
func Warnf(format string, v ...interface{}) {
	Logf("WARN: "+format, v...)
}

// Errorf logs a failure tagged with kind, a short failure-class label (the
// state engine passes the failing component's name, e.g. "sessionstore"),
// so log lines can be grepped by failure class.
func Errorf(kind, format string, v ...interface{}) {
	Logf("ERROR["+kind+"]: "+format, v...)
}
