package logger

import "github.com/sirupsen/logrus"

// NewNullLogger returns a Logger that discards everything. Components fall
// back to it when constructed without a logger.
func NewNullLogger() Logger {
	return nullLogger{}
}

type nullLogger struct{}

func (n nullLogger) WithFields(map[string]interface{}) Logger { return n }
func (n nullLogger) WithField(string, interface{}) Logger     { return n }
func (n nullLogger) WithError(error) Logger                   { return n }
func (nullLogger) Debug(...interface{})                       {}
func (nullLogger) Info(...interface{})                        {}
func (nullLogger) Warn(...interface{})                        {}
func (nullLogger) Error(...interface{})                       {}
func (nullLogger) Log(logrus.Level, ...interface{})           {}
