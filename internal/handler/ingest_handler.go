package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/magent/internal/service"
)

type Ingester interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error)
}

type IngestHandler struct {
	ingester Ingester
}

func NewIngestHandler(ingester Ingester) *IngestHandler {
	return &IngestHandler{ingester: ingester}
}

type ingestRequest struct {
	DocumentID     string `json:"documentId"`
	CompanyID      string `json:"companyId"`
	AgentID        string `json:"agentId"`
	StorageLocator string `json:"storageLocator"`
}

type ingestResponse struct {
	Success             bool   `json:"success"`
	ChunkCount          int    `json:"chunkCount,omitempty"`
	EmbeddingDimensions int    `json:"embeddingDimensions,omitempty"`
	Error               string `json:"error,omitempty"`
}

func (h *IngestHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ingestResponse{Error: "invalid request"})
		return
	}
	_, companyID, err := resolveTenant(c, "", req.CompanyID)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.ingester.Ingest(c.Request.Context(), service.IngestRequest{
		DocumentID:     req.DocumentID,
		CompanyID:      companyID,
		AgentID:        req.AgentID,
		StorageLocator: req.StorageLocator,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ingestResponse{
		Success:             true,
		ChunkCount:          res.ChunkCount,
		EmbeddingDimensions: res.EmbeddingDimensions,
	})
}

func (h *IngestHandler) fail(c *gin.Context, err error) {
	status, msg := reportError(c, err)
	c.JSON(status, ingestResponse{Error: msg})
}
