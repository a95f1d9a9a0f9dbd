package logger

import "context"

// noopLogger discards every log call. Used as the default Logger for
// collaborators (saga, connection, dispatch, wsclient) that don't want to force callers
// into a concrete backend.
type noopLogger struct{}

// NoOp returns a Logger that discards everything.
func NoOp() Logger { return noopLogger{} }

func (noopLogger) Debug(msg string, fields ...Field) {}
func (noopLogger) Info(msg string, fields ...Field)  {}
func (noopLogger) Warn(msg string, fields ...Field)  {}
func (noopLogger) Error(msg string, fields ...Field) {}
func (noopLogger) Fatal(msg string, fields ...Field) {}

func (n noopLogger) WithContext(ctx context.Context) Logger { return n }
func (n noopLogger) WithFields(fields ...Field) Logger       { return n }
func (noopLogger) SetLevel(level Level)                      {}
func (noopLogger) GetLevel() Level                            { return FatalLevel }
