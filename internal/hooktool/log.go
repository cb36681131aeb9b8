// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hooktool

import (
	"github.com/juju/loggo/v2"
)

// logWriter forwards log entries to the model log through juju-log. It only
// works inside a hook context; failures are swallowed since stderr still
// carries the entry through the default writer.
type logWriter struct {
	runner Runner
}

// NewLogWriter returns a loggo.Writer backed by the juju-log hook tool.
func NewLogWriter() loggo.Writer {
	return &logWriter{runner: execRunner{}}
}

// NewLogWriterWithRunner allows tests to substitute the tool runner.
func NewLogWriterWithRunner(runner Runner) loggo.Writer {
	return &logWriter{runner: runner}
}

func (w *logWriter) Write(entry loggo.Entry) {
	_, _ = w.runner.Run("juju-log", nil, "--log-level", entry.Level.String(), entry.Message)
}
