package api

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"ragstream/jobs"
	"ragstream/loader"
	"ragstream/types"
)

type FileHandler struct {
	jobs     *jobs.Registry
	loader   *loader.Loader
	maxBytes int
}

func NewFileHandler(registry *jobs.Registry, l *loader.Loader, maxBytes int) *FileHandler {
	return &FileHandler{
		jobs:     registry,
		loader:   l,
		maxBytes: maxBytes,
	}
}

// HandleUpload accepts a multipart "file" and starts an upload job whose
// progress is read from /upload_progress/:id.
func (h *FileHandler) HandleUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewError(fiber.StatusBadRequest, "multipart field 'file' is required")
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".pdf") {
		return NewError(fiber.StatusBadRequest, "only PDF files are supported")
	}
	if h.maxBytes > 0 && file.Size > int64(h.maxBytes) {
		return NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
	}

	f, err := file.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	name := h.loader.Reserve(file.Filename)
	id, err := h.jobs.Create(jobs.KindUpload)
	if err != nil {
		h.loader.Release(name)
		return err
	}
	ctx, err := h.jobs.WorkerContext(id)
	if err != nil {
		h.loader.Release(name)
		return err
	}
	go h.loader.Ingest(ctx, id, loader.Upload{Filename: file.Filename, Name: name, Data: data})

	log.Printf("[UPLOAD] job %s accepted for %s (%d bytes)", id, name, len(data))
	return c.JSON(types.UploadResponse{UploadID: id, Filename: name})
}

func (h *FileHandler) HandleGetPDF(c *fiber.Ctx) error {
	doc, err := h.loader.File(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", doc.ID))
	c.Type("pdf")
	return c.SendFile(doc.SourcePath)
}

func (h *FileHandler) HandlePDFSearch(c *fiber.Ctx) error {
	var params types.PDFSearchParams
	if c.QueryParser(&params) != nil {
		return ErrBadRequest()
	}
	params.Query = strings.TrimSpace(params.Query)

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	hits, err := h.loader.Search(c.UserContext(), c.Params("id"), params.Query)
	if err != nil {
		return err
	}
	return c.JSON(types.PDFSearchResponse{Hits: hits})
}
