// Package logrus adapts a *logrus.Entry to writebehind.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	wb "github.com/unkn0wn-root/writebehind"
)

var _ wb.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps l with a "component" field.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: logrus.NewEntry(l).WithField("component", "writebehind")}
}

func (l LogrusLogger) Debug(msg string, f wb.Fields) { l.entry(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f wb.Fields)  { l.entry(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f wb.Fields)  { l.entry(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f wb.Fields) { l.entry(f).Error(msg) }

// entry attaches fields; an error under "err" goes through WithError.
func (l LogrusLogger) entry(f wb.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	fields := make(logrus.Fields, len(f))
	var err error
	for k, v := range f {
		if e, ok := v.(error); ok && k == "err" {
			err = e
			continue
		}
		fields[k] = v
	}
	e := l.E.WithFields(fields)
	if err != nil {
		e = e.WithError(err)
	}
	return e
}
