// Package logging implements the log pipeline (C4): every worker installs a
// zap core that forwards records onto a single process-wide log queue; a
// listener running in the Dispatcher drains that queue and fans each record
// out to a console sink and, when configured, a remote sink.
//
// This replaces the source framework's per-worker logging.Handler installed
// on the root logger (which risked duplicate handlers across restarts) with
// a zap.Core composed once at worker construction — restarts reuse the same
// Logger instance, so there is nothing to deduplicate.
package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rrbotics/rrf/queue"
)

// Record is one log entry as it crosses the shared log queue.
type Record struct {
	Worker  string
	Level   zapcore.Level
	Time    time.Time
	Message string
	Fields  map[string]any
}

// queueCore is a zapcore.Core that encodes nothing itself — it packages the
// entry and fields into a Record and deposits it on the shared log queue,
// non-blockingly, so a full queue never stalls the worker that logged.
type queueCore struct {
	worker  string
	level   zapcore.LevelEnabler
	logQ    *queue.Queue
	fields  []zapcore.Field
}

// NewWorkerCore builds the zap core a worker installs so every log record it
// emits is forwarded onto logQ tagged with worker's name.
func NewWorkerCore(worker string, level zapcore.LevelEnabler, logQ *queue.Queue) zapcore.Core {
	return &queueCore{worker: worker, level: level, logQ: logQ}
}

func (c *queueCore) Enabled(lvl zapcore.Level) bool { return c.level.Enabled(lvl) }

func (c *queueCore) With(fields []zapcore.Field) zapcore.Core {
	cp := *c
	cp.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &cp
}

func (c *queueCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *queueCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range append(append([]zapcore.Field{}, c.fields...), fields...) {
		f.AddTo(enc)
	}

	rec := Record{
		Worker:  c.worker,
		Level:   ent.Level,
		Time:    ent.Time,
		Message: ent.Message,
		Fields:  enc.Fields,
	}

	// Best-effort: dropping a log record rather than blocking the worker is
	// the documented policy for the remote sink; the same applies here one
	// layer earlier, at the point of entry onto the shared log queue.
	c.logQ.PutNonBlocking(rec)
	return nil
}

func (c *queueCore) Sync() error { return nil }

// NewWorkerLogger builds a zap.Logger for worker that forwards through
// logQ in addition to a local console core, so a worker's own stderr output
// remains useful even before the dispatcher-side listener is draining logQ.
func NewWorkerLogger(worker string, level zapcore.Level, logQ *queue.Queue) *zap.Logger {
	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level)
	queueCore := NewWorkerCore(worker, level, logQ)

	return zap.New(zapcore.NewTee(consoleCore, queueCore)).Named(worker)
}
