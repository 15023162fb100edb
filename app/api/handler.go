package api

import (
	"context"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"ragstream/jobs"
	"ragstream/types"
)

// Generator runs one generation job; *agent.Agent implements it.
type Generator interface {
	Run(ctx context.Context, jobID, prompt string)
}

type RequestHandler struct {
	jobs  *jobs.Registry
	agent Generator
}

func NewRequestHandler(registry *jobs.Registry, agent Generator) *RequestHandler {
	return &RequestHandler{
		jobs:  registry,
		agent: agent,
	}
}

// HandleGenerate registers a generation job and answers with its id right
// away; the answer is read from /stream/:id.
func (h *RequestHandler) HandleGenerate(c *fiber.Ctx) error {
	var params types.GenerateParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	params.Prompt = strings.TrimSpace(params.Prompt)

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	id, err := h.jobs.Create(jobs.KindGenerate)
	if err != nil {
		return err
	}
	ctx, err := h.jobs.WorkerContext(id)
	if err != nil {
		return err
	}
	go h.agent.Run(ctx, id, params.Prompt)

	log.Printf("[GENERATE] job %s accepted", id)
	return c.JSON(types.JobResponse{JobID: id})
}

func (h *RequestHandler) HandleStatus(c *fiber.Ctx) error {
	snap, err := h.jobs.Snapshot(c.Params("id"))
	if err != nil {
		return err
	}

	resp := types.JobStatusResponse{
		JobID:     snap.ID,
		Kind:      string(snap.Kind),
		Status:    string(snap.Status),
		CreatedAt: snap.CreatedAt.UTC(),
		Events:    snap.Events,
	}
	if !snap.FinishedAt.IsZero() {
		finished := snap.FinishedAt.UTC()
		resp.FinishedAt = &finished
	}
	return c.JSON(resp)
}
