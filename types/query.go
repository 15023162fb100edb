package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

type GenerateParams struct {
	Prompt string `json:"prompt" validate:"required,max=8000"`
}

type PDFSearchParams struct {
	Query string `query:"q" validate:"required"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *GenerateParams) Validate() map[string]string {
	return structErrors(params)
}

func (params *PDFSearchParams) Validate() map[string]string {
	return structErrors(params)
}

// structErrors flattens validator failures into field -> reason.
func structErrors(v any) map[string]string {
	if err := validate.Struct(v); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type JobResponse struct {
	JobID string `json:"job_id"`
}

type UploadResponse struct {
	UploadID string `json:"upload_id"`
	Filename string `json:"filename"`
}

type JobStatusResponse struct {
	JobID      string     `json:"job_id"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Events     int        `json:"events"`
}

type PDFSearchResponse struct {
	Hits []PageHit `json:"hits"`
}

type ConfigResponse struct {
	Provider       string  `json:"llm_provider"`
	URL            string  `json:"llm_url,omitempty"`
	Model          string  `json:"llm_model"`
	APIKeySet      bool    `json:"api_key_set"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	TopK           int     `json:"top_k"`
	FallbackRecent bool    `json:"fallback_recent"`
	ChunkSize      int     `json:"chunk_size"`
	ChunkOverlap   int     `json:"chunk_overlap"`
}
