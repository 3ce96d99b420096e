// Package logger provides the small structured-ish logging facade used
// throughout the proxy. It mirrors the teacher's logger package: a thin
// interface over the standard logger with optional URL redaction so that
// cache hit/miss traces don't leak signed origin URLs into shared log
// aggregators.
package logger

type Logger interface {
	Log(format string)
	Logf(format string, v ...any)

	Warn(format string)
	Warnf(format string, v ...any)

	Debug(format string)
	Debugf(format string, v ...any)

	Error(format string)
	Errorf(format string, v ...any)

	Fatal(format string)
	Fatalf(format string, v ...any)
}
