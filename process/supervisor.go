package process

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// exceptionBackoff is the pause after a worker's Run returns an error and
// teardown has run, before the restart decision.
const exceptionBackoff = 1 * time.Second

// restartBackoff is the pause before re-entering Run after a restart
// decision, giving a crash-looping dependency room to recover.
const restartBackoff = 5 * time.Second

// KeepAlive controls what the supervisor does after Run returns.
type KeepAlive bool

const (
	// Restart re-enters Run after restartBackoff.
	Restart KeepAlive = true
	// Terminate ends supervision for this worker.
	Terminate KeepAlive = false
)

// Supervise runs one worker's Run method under the restart policy
// described in the runtime contract: on an error from Run, log it and
// sleep exceptionBackoff; then, unless keepAlive reports Terminate, log a
// restart notice, sleep restartBackoff, and call Run again. A
// ConfigurationError or ErrReplyBufferOverflow ends supervision at once,
// without backoff or restart. FreeResources runs after every exit from Run,
// successful or not, before the restart decision is acted on.
//
// Supervise blocks until ctx is cancelled or the worker terminates
// (Run returns nil with keepAlive() == Terminate, keepAlive() == Terminate
// following an error, or an unrecoverable error as above). onRestart, if
// non-nil, is called once per restart
// decision (for callers that want to track restart counts, e.g. metrics).
func Supervise(ctx context.Context, name string, logger *zap.Logger, p Process, rt *Runtime, keepAlive func() KeepAlive, onRestart ...func()) {
	logger = logger.Named(name)

	for {
		if ctx.Err() != nil {
			return
		}

		err := runOnce(ctx, p)
		FreeResources(ctx, p, rt)

		if err != nil {
			if IsConfigurationError(err) || err == ErrReplyBufferOverflow {
				logger.Error("worker terminated by unrecoverable error", zap.Error(err))
				return
			}
			logger.Error("worker exited with error", zap.Error(err))
			if !sleepOrDone(ctx, exceptionBackoff) {
				return
			}
		} else {
			logger.Info("worker exited normally")
		}

		if keepAlive() == Terminate {
			logger.Info("worker not restarted (keep_alive=false)")
			return
		}

		logger.Info("restarting worker", zap.Duration("backoff", restartBackoff))
		for _, hook := range onRestart {
			hook()
		}
		if !sleepOrDone(ctx, restartBackoff) {
			return
		}
	}
}

// runOnce invokes Run and converts a panic escaping user code into an error,
// matching the source framework's blanket exception capture around run().
func runOnce(ctx context.Context, p Process) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("process: panic in Run: %v", r)
		}
	}()
	return p.Run(ctx)
}

// sleepOrDone sleeps for d, returning false early (and not having slept the
// full duration) if ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
