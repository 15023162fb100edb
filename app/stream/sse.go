// Package stream renders a job's event log as Server-Sent Events.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ragstream/jobs"
	"ragstream/types"
)

// ExpiredMessage is sent when a job disappears before its last event was read.
const ExpiredMessage = "job expired before the stream finished"

// ShutdownMessage ends open streams when the server stops serving them.
const ShutdownMessage = "server shutting down"

// Source yields a job's events in order; *jobs.Cursor implements it.
type Source interface {
	Next(ctx context.Context) (types.Event, error)
}

// FlushWriter is a buffered connection, e.g. *bufio.Writer over a response.
type FlushWriter interface {
	io.Writer
	Flush() error
}

// WriteEvent writes one frame: "event: <name>" followed by its JSON payload.
func WriteEvent(w io.Writer, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Name(), err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name(), data)
	return err
}

func writeKeepAlive(w io.Writer) error {
	_, err := io.WriteString(w, ": keep-alive\n\n")
	return err
}

// Drain copies events from src to w until the log ends, flushing after every
// frame. While the log is idle a comment frame is written every keepAlive.
// A write or flush error means the client went away; Drain returns it and
// the job carries on. Cancelling ctx stops the stream with a final error
// frame. Drain always finishes a stream with a done or error frame unless the
// connection fails first.
func Drain(ctx context.Context, src Source, w FlushWriter, keepAlive time.Duration) error {
	terminal := false
	for {
		ev, err := next(ctx, src, keepAlive)
		switch {
		case err == nil:
			if err := WriteEvent(w, ev); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
			terminal = terminal || ev.Terminal()

		case errors.Is(err, jobs.ErrEndOfStream):
			if terminal {
				return nil
			}
			if err := WriteEvent(w, types.Failure{Message: ExpiredMessage}); err != nil {
				return err
			}
			return w.Flush()

		case ctx.Err() != nil:
			if !terminal {
				// best effort, the connection may be gone as well
				if WriteEvent(w, types.Failure{Message: ShutdownMessage}) == nil {
					w.Flush()
				}
			}
			return ctx.Err()

		case errors.Is(err, context.DeadlineExceeded):
			if err := writeKeepAlive(w); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}

		default:
			return err
		}
	}
}

func next(ctx context.Context, src Source, keepAlive time.Duration) (types.Event, error) {
	if keepAlive <= 0 {
		return src.Next(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, keepAlive)
	defer cancel()
	return src.Next(ctx)
}
