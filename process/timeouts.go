package process

import (
	"context"
	"time"
)

// heartbeatPutTimeout bounds how long a Heartbeat call will wait for the
// watcher outbox to accept a message before giving up and logging a drop.
const heartbeatPutTimeout = 2 * time.Second

// queueDrainTimeout bounds each drain attempt in ClearQueues; once no item
// arrives within this window the queue is considered empty.
const queueDrainTimeout = 2 * time.Second

func contextWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}
