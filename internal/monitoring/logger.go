// Package monitoring holds the process-wide diagnostic logger used by the
// bridge. The real-time loop never logs per frame; callers log state
// changes, absorbed decode failures and scheduling lag.
package monitoring

import (
	"log"
	"sync"
)

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

// Warnf logs with a warning prefix.
func Warnf(format string, v ...interface{}) {
	Logf("warning: "+format, v...)
}

// OnceLogger logs a message the first time a key is seen and stays quiet
// afterwards. Decode paths use it so a missing signal is reported once
// instead of 100 times a second.
type OnceLogger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// Logf logs format under key unless key was already logged.
func (o *OnceLogger) Logf(key, format string, v ...interface{}) {
	o.mu.Lock()
	if o.seen == nil {
		o.seen = make(map[string]struct{})
	}
	_, dup := o.seen[key]
	o.seen[key] = struct{}{}
	o.mu.Unlock()
	if !dup {
		Logf(format, v...)
	}
}
