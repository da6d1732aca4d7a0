// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides a process-wide configurable zap logger, so that
// packages deep in the import graph can log without threading a logger
// through every constructor.
package log

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config defines logger construction options.
type Config struct {
	Level  string `yaml:"level"`
	Disable bool  `yaml:"disable"`
}

func (c Config) level() zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// New builds a *zap.Logger from config, pre-populated with fields.
func New(config Config, fields map[string]interface{}) (*zap.Logger, error) {
	if config.Disable {
		return zap.NewNop(), nil
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(config.level())
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %s", err)
	}
	for k, v := range fields {
		logger = logger.With(zap.Any(k, v))
	}
	return logger, nil
}

var global atomic.Value

func init() {
	global.Store(zap.NewNop().Sugar())
}

// Configure rebuilds the global logger from config.
func Configure(config Config) error {
	logger, err := New(config, nil)
	if err != nil {
		return err
	}
	ConfigureLogger(logger)
	return nil
}

// ConfigureLogger installs logger as the global logger.
func ConfigureLogger(logger *zap.Logger) {
	SetGlobalLogger(logger.Sugar())
}

// SetGlobalLogger installs logger as the global logger.
func SetGlobalLogger(logger *zap.SugaredLogger) {
	global.Store(logger)
}

// Default returns the current global logger.
func Default() *zap.SugaredLogger {
	return global.Load().(*zap.SugaredLogger)
}

// With returns the global logger annotated with keysAndValues.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return Default().With(keysAndValues...)
}

// WithFields returns the global logger annotated with fields.
func WithFields(fields map[string]interface{}) *zap.SugaredLogger {
	l := Default()
	for k, v := range fields {
		l = l.With(k, v)
	}
	return l
}

func Debug(args ...interface{})                  { Default().Debug(args...) }
func Debugf(format string, args ...interface{})  { Default().Debugf(format, args...) }
func Info(args ...interface{})                   { Default().Info(args...) }
func Infof(format string, args ...interface{})   { Default().Infof(format, args...) }
func Warn(args ...interface{})                   { Default().Warn(args...) }
func Warnf(format string, args ...interface{})   { Default().Warnf(format, args...) }
func Error(args ...interface{})                  { Default().Error(args...) }
func Errorf(format string, args ...interface{})  { Default().Errorf(format, args...) }
func Fatal(args ...interface{})                  { Default().Fatal(args...) }
func Fatalf(format string, args ...interface{})  { Default().Fatalf(format, args...) }
func Panic(args ...interface{})                  { Default().Panic(args...) }
func Panicf(format string, args ...interface{})  { Default().Panicf(format, args...) }
func Printf(format string, args ...interface{})  { Default().Infof(format, args...) }
func Println(args ...interface{})                { Default().Info(args...) }
