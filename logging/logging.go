// Package logging is the runtime's logging seam: a minimal
// Println-plus-structured interface every package depends on, backed in
// production by go.uber.org/zap. A Nop logger is the zero-value
// default, so kernel packages work without any configuration and
// discard output unless a deployment wires a real logger in.
package logging

import "go.uber.org/zap"

// Logger is the seam every package in this module depends on. It is
// intentionally narrow — Println plus the leveled/structured variants
// the kernel actually uses — so swapping implementations (zap, a test
// recorder, a no-op) never ripples through call sites.
type Logger interface {
	Println(string)
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Println(string)        {}
func (nopLogger) Debugw(string, ...any) {}
func (nopLogger) Infow(string, ...any)  {}
func (nopLogger) Warnw(string, ...any)  {}
func (nopLogger) Errorw(string, ...any) {}

// Nop is the discard-everything Logger, the package default.
var Nop Logger = nopLogger{}

// zapLogger adapts a *zap.SugaredLogger to the Logger seam.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap wraps a *zap.Logger as the module's Logger seam.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

// NewProduction builds a zap production logger (JSON, info level)
// wrapped in the module's Logger seam.
func NewProduction() (Logger, error) {
	zl, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZap(zl), nil
}

// NewDevelopment builds a zap development logger (console-friendly,
// debug level) wrapped in the module's Logger seam.
func NewDevelopment() (Logger, error) {
	zl, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return NewZap(zl), nil
}

func (z *zapLogger) Println(msg string)           { z.s.Info(msg) }
func (z *zapLogger) Debugw(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...any) { z.s.Errorw(msg, kv...) }
