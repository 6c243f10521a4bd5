// Package monitoring holds the swappable diagnostic logger used across the pipeline.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf.
// It carries no configuration; replace it with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prefixed returns a logger that tags every line, e.g. with a participant id.
// The returned function reads Logf on each call so later SetLogger calls apply.
func Prefixed(prefix string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf("[%s] "+format, append([]interface{}{prefix}, v...)...)
	}
}
