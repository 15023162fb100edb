package api

import (
	"github.com/gofiber/fiber/v2"

	"ragstream/app/config"
	"ragstream/types"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		cfg: cfg,
	}
}

// HandleGetConfig reports the settings the server is answering with.
// The API key itself is never echoed back.
func (h *ConfigHandler) HandleGetConfig(c *fiber.Ctx) error {
	return c.JSON(types.ConfigResponse{
		Provider:       h.cfg.LLM.Provider,
		URL:            h.cfg.LLM.URL,
		Model:          h.cfg.LLM.Model,
		APIKeySet:      h.cfg.LLM.APIKey != "",
		Temperature:    h.cfg.LLM.Temperature,
		MaxTokens:      h.cfg.LLM.MaxTokens,
		TopK:           h.cfg.Retrieval.TopK,
		FallbackRecent: h.cfg.Retrieval.FallbackRecent,
		ChunkSize:      h.cfg.Loader.ChunkSize,
		ChunkOverlap:   h.cfg.Loader.ChunkOverlap,
	})
}
