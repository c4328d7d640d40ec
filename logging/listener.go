package logging

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rrbotics/rrf/queue"
)

// remoteBufferSize is the remote sink's buffer capacity; overflow drops the
// record and logs a single warning to stderr rather than to the pipeline
// itself, which would recurse (§4.4, §7).
const remoteBufferSize = 128

// RemoteSink delivers Records to the remote gateway (in-cluster broker or
// out-of-cluster WebSocket, per the dispatcher's mode). The Listener never
// reconnects a sink, and BrokerSink and WebSocketSink each hold the single
// connection they were dialed with: after that connection fails, every Send
// returns an error. Send may block briefly but must not be called
// concurrently by more than one goroutine.
type RemoteSink interface {
	Send(ctx context.Context, rec Record) error
	Close() error
}

// Listener drains the shared log queue and fans each record out to a
// console sink and, if configured, a remote sink.
type Listener struct {
	logQ   *queue.Queue
	remote RemoteSink

	overflowWarned sync.Once
	remoteBuf      chan Record
}

// NewListener builds a listener over logQ. remote may be nil, meaning no
// credentials/gateway were configured — records are then only printed to
// stderr.
func NewListener(logQ *queue.Queue, remote RemoteSink) *Listener {
	l := &Listener{logQ: logQ, remote: remote}
	if remote != nil {
		l.remoteBuf = make(chan Record, remoteBufferSize)
	}
	return l
}

// Run drains logQ until ctx is cancelled. It must be called once, in its own
// goroutine, by the Dispatcher.
func (l *Listener) Run(ctx context.Context) {
	if l.remote != nil {
		go l.drainRemote(ctx)
	}

	for {
		raw, err := l.logQ.Get(ctx)
		if err != nil {
			if l.remote != nil {
				l.remote.Close()
			}
			return
		}

		rec, ok := raw.(Record)
		if !ok {
			continue
		}

		printConsole(rec)

		if l.remoteBuf != nil {
			select {
			case l.remoteBuf <- rec:
			default:
				l.overflowWarned.Do(func() {
					fmt.Fprintln(os.Stderr, "WARNING: remote log sink buffer overloaded, dropping messages")
				})
			}
		}
	}
}

// drainRemote forwards buffered records to the remote sink. A send failure
// is reported to stderr directly — never back through the log pipeline,
// which would recurse into this same listener (§7 logging loop safety).
func (l *Listener) drainRemote(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-l.remoteBuf:
			if err := l.remote.Send(ctx, rec); err != nil {
				fmt.Fprintln(os.Stderr, "remote log sink send failed:", err)
			}
		}
	}
}

func printConsole(rec Record) {
	fmt.Fprintf(os.Stderr, "%s\t%s\t%s\t%s\t%v\n",
		rec.Time.Format("2006-01-02T15:04:05.000Z0700"),
		rec.Level.CapitalString(),
		rec.Worker,
		rec.Message,
		rec.Fields,
	)
}
