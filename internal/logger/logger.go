// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger provides the leveled, format-switchable logger used
// throughout relfs: a fuse request handler that fails mid-rename logs the
// same way a failed mount attempt does.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/relfs/relfs/cfg"
	"github.com/relfs/relfs/internal/config"
)

// Severity levels, expressed as slog.Level so they interleave correctly
// with the standard Debug/Info/Warn/Error levels slog already defines.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = slog.LevelError + 4
)

var levelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
	LevelOff:   "OFF",
}

// loggerFactory owns the handler construction logic and the mutable state
// (destination file, rotation policy, format) that SetLogFormat/InitLogFile
// mutate after the logger has already been constructed once at package
// init time.
type loggerFactory struct {
	file            *os.File
	sysWriter       io.Writer
	format          string
	level           string
	logRotateConfig config.LogRotateConfig
}

var defaultLoggerFactory = &loggerFactory{
	level:           config.INFO,
	format:          "json",
	logRotateConfig: config.DefaultLogRotateConfig(),
}

var defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, toLevelVar(config.INFO), ""))

func toLevelVar(level string) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(level, v)
	return v
}

func severityName(level slog.Level) string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return level.String()
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch strings.ToUpper(level) {
	case config.TRACE:
		programLevel.Set(LevelTrace)
	case config.DEBUG:
		programLevel.Set(LevelDebug)
	case config.INFO:
		programLevel.Set(LevelInfo)
	case config.WARNING:
		programLevel.Set(LevelWarn)
	case config.ERROR:
		programLevel.Set(LevelError)
	case config.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	if f.format == "text" {
		return &textHandler{w: w, level: level, prefix: prefix}
	}
	return &jsonHandler{w: w, level: level, prefix: prefix}
}

// textHandler writes time="..." severity=LEVEL message="prefix: msg" lines,
// the shape operators grep for when tailing a foreground mount by hand.
type textHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level.Level() }

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n",
		r.Time.Format("2006/01/02 15:04:05.000000"), severityName(r.Level), h.prefix+r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler      { return h }

// jsonHandler writes {"timestamp":{"seconds":...,"nanos":...},"severity":...,
// "message":...} lines, matching what the rest of the fleet's log shippers
// already parse.
type jsonHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

type jsonLogLine struct {
	Timestamp jsonTimestamp `json:"timestamp"`
	Severity  string        `json:"severity"`
	Message   string        `json:"message"`
}

type jsonTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int   `json:"nanos"`
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level.Level() }

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	line := jsonLogLine{
		Timestamp: jsonTimestamp{Seconds: r.Time.Unix(), Nanos: r.Time.Nanosecond()},
		Severity:  severityName(r.Level),
		Message:   h.prefix + r.Message,
	}
	enc := json.NewEncoder(h.w)
	return enc.Encode(line)
}

func (h *jsonHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *jsonHandler) WithGroup(_ string) slog.Handler      { return h }

// SetLogFormat switches the default logger between "text" and "json"
// (any other value, including empty, produces json), rebuilding the
// handler in place. The format is stored as given.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format

	var w io.Writer = os.Stderr
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	} else if defaultLoggerFactory.sysWriter != nil {
		w = defaultLoggerFactory.sysWriter
	}

	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, toLevelVar(defaultLoggerFactory.level), ""))
}

// InitLogFile points the default logger at a log file on disk (opened for
// appending, created if missing), or back at stderr when no path is set,
// taking severity/format/path from cfg.LoggingConfig. The legacy
// config.LogConfig rotation knobs are recorded on the factory but not
// applied: the file is never rotated, size-capped or compressed.
func InitLogFile(legacyLogConfig config.LogConfig, newLogConfig cfg.LoggingConfig) error {
	defaultLoggerFactory.logRotateConfig = legacyLogConfig.LogRotateConfig
	defaultLoggerFactory.level = newLogConfig.Severity
	defaultLoggerFactory.format = newLogConfig.Format

	if newLogConfig.FilePath == "" {
		defaultLoggerFactory.file = nil
		defaultLoggerFactory.sysWriter = nil
		SetLogFormat(defaultLoggerFactory.format)
		return nil
	}

	f, err := os.OpenFile(string(newLogConfig.FilePath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	defaultLoggerFactory.file = f
	defaultLoggerFactory.sysWriter = nil
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(f, toLevelVar(newLogConfig.Severity), ""))
	return nil
}

func Tracef(format string, v ...interface{}) { logAt(LevelTrace, format, v...) }
func Debugf(format string, v ...interface{}) { logAt(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { logAt(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { logAt(LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { logAt(LevelError, format, v...) }

func logAt(level slog.Level, format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}
