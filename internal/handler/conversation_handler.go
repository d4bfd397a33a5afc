package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/magent/internal/model"
	"github.com/xxxsen/magent/internal/pkg/response"
	"github.com/xxxsen/magent/internal/service"
)

type Conversations interface {
	Converse(ctx context.Context, req service.ConverseRequest) (*service.AssistantReply, error)
	History(ctx context.Context, companyID, conversationID string, limit, offset int) ([]model.Message, error)
}

type ConversationHandler struct {
	conversations Conversations
}

func NewConversationHandler(conversations Conversations) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

type converseRequest struct {
	Message        string             `json:"message"`
	AgentID        string             `json:"agentId"`
	ConversationID string             `json:"conversationId"`
	UserID         string             `json:"userId"`
	CompanyID      string             `json:"companyId"`
	Attachments    []model.Attachment `json:"attachments"`
}

func (h *ConversationHandler) Converse(c *gin.Context) {
	var req converseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request")
		return
	}
	userID, companyID, err := resolveTenant(c, req.UserID, req.CompanyID)
	if err != nil {
		handleError(c, err)
		return
	}
	reply, err := h.conversations.Converse(c.Request.Context(), service.ConverseRequest{
		Message:        req.Message,
		AgentID:        req.AgentID,
		ConversationID: req.ConversationID,
		UserID:         userID,
		CompanyID:      companyID,
		Attachments:    req.Attachments,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, reply)
}

func (h *ConversationHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	messages, err := h.conversations.History(c.Request.Context(), getCompanyID(c), c.Param("id"), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"messages": messages})
}
