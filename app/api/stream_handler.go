package api

import (
	"bufio"
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"ragstream/app/stream"
	"ragstream/jobs"
)

type StreamHandler struct {
	ctx       context.Context
	jobs      *jobs.Registry
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewStreamHandler serves job event logs. Open streams end when ctx is done.
func NewStreamHandler(ctx context.Context, registry *jobs.Registry, keepAlive time.Duration) *StreamHandler {
	return &StreamHandler{
		ctx:       ctx,
		jobs:      registry,
		keepAlive: keepAlive,
		logger:    slog.Default(),
	}
}

// HandleStream replays a job of the given kind from its first event and
// follows it until the job ends. Reconnecting starts over from the top.
func (h *StreamHandler) HandleStream(kind jobs.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		snap, err := h.jobs.Snapshot(id)
		if err != nil {
			return err
		}
		if snap.Kind != kind {
			return ErrNotFound(id, string(kind)+" job")
		}
		cursor, err := h.jobs.Subscribe(id)
		if err != nil {
			return err
		}

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cursor.Close()
			if err := stream.Drain(h.ctx, cursor, w, h.keepAlive); err != nil {
				h.logger.Debug("stream closed early", "job_id", id, "error", err)
			}
		}))
		return nil
	}
}
