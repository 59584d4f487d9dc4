// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// Package log is a thin wrapper for logrus. Composite loggers (WithError,
// WithFields...) are built lazily so no fields are computed when the
// target level is disabled.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Entry is a functional wrapper for the logrus.Entry type
type Entry func() *logrus.Entry

// logrus wrapper
type wrap struct {
	l *logrus.Logger
}

var w = wrap{l: logrus.StandardLogger()}

func (e Entry) Trace(msg string) {
	if w.l.IsLevelEnabled(logrus.TraceLevel) {
		e().Trace(msg)
	}
}

func (e Entry) Tracef(format string, args ...interface{}) {
	if w.l.IsLevelEnabled(logrus.TraceLevel) {
		e().Tracef(format, args...)
	}
}

func (e Entry) Debug(msg string) {
	if w.l.IsLevelEnabled(logrus.DebugLevel) {
		e().Debug(msg)
	}
}

func (e Entry) Debugf(format string, args ...interface{}) {
	if w.l.IsLevelEnabled(logrus.DebugLevel) {
		e().Debugf(format, args...)
	}
}

func (e Entry) Info(msg string) {
	if w.l.IsLevelEnabled(logrus.InfoLevel) {
		e().Info(msg)
	}
}

func (e Entry) Infof(format string, args ...interface{}) {
	if w.l.IsLevelEnabled(logrus.InfoLevel) {
		e().Infof(format, args...)
	}
}

func (e Entry) Warn(msg string) {
	if w.l.IsLevelEnabled(logrus.WarnLevel) {
		e().Warn(msg)
	}
}

func (e Entry) Warnf(format string, args ...interface{}) {
	if w.l.IsLevelEnabled(logrus.WarnLevel) {
		e().Warnf(format, args...)
	}
}

func (e Entry) Error(msg string) {
	if w.l.IsLevelEnabled(logrus.ErrorLevel) {
		e().Error(msg)
	}
}

func (e Entry) Errorf(format string, args ...interface{}) {
	if w.l.IsLevelEnabled(logrus.ErrorLevel) {
		e().Errorf(format, args...)
	}
}

func (e Entry) IsDebugEnabled() bool {
	return w.l.IsLevelEnabled(logrus.DebugLevel)
}

func (e Entry) WithField(key string, value interface{}) Entry {
	return func() *logrus.Entry {
		return e().WithField(key, value)
	}
}

func (e Entry) WithFields(f logrus.Fields) Entry {
	return func() *logrus.Entry {
		return e().WithFields(f)
	}
}

func (e Entry) WithFieldsF(lff func() logrus.Fields) Entry {
	return func() *logrus.Entry {
		return e().WithFields(lff())
	}
}

func (e Entry) WithError(err error) Entry {
	return func() *logrus.Entry {
		return e().WithError(err)
	}
}

func WithField(key string, value interface{}) Entry {
	return func() *logrus.Entry {
		return w.l.WithField(key, value)
	}
}

func WithFields(f logrus.Fields) Entry {
	return func() *logrus.Entry {
		return w.l.WithFields(f)
	}
}

func WithError(err error) Entry {
	return func() *logrus.Entry {
		return w.l.WithError(err)
	}
}

// SetOutput sets the standard logger output.
func SetOutput(out io.Writer) {
	w.l.SetOutput(out)
}

// SetFormatter sets the standard logger formatter.
func SetFormatter(formatter logrus.Formatter) {
	w.l.SetFormatter(formatter)
}

// SetLevel sets the standard logger level.
func SetLevel(level logrus.Level) {
	w.l.SetLevel(level)
}

// GetLevel returns the standard logger level.
func GetLevel() logrus.Level {
	return w.l.GetLevel()
}

// ParseLevel maps a config string onto a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

func Debug(msg string)                          { w.l.Debug(msg) }
func Debugf(format string, args ...interface{}) { w.l.Debugf(format, args...) }
func Info(msg string)                           { w.l.Info(msg) }
func Infof(format string, args ...interface{})  { w.l.Infof(format, args...) }
func Warn(msg string)                           { w.l.Warn(msg) }
func Warnf(format string, args ...interface{})  { w.l.Warnf(format, args...) }
func Error(msg string)                          { w.l.Error(msg) }
func Errorf(format string, args ...interface{}) { w.l.Errorf(format, args...) }
func Fatal(args ...interface{})                 { w.l.Fatal(args...) }
