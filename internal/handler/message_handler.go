package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/client-portal-api/internal/dto"
	"github.com/noah-isme/client-portal-api/internal/models"
	"github.com/noah-isme/client-portal-api/pkg/response"
)

type messageService interface {
	StartThread(ctx context.Context, clientID string, req models.StartThreadRequest, actor *models.JWTClaims) (*models.Thread, error)
	Reply(ctx context.Context, clientID, threadID string, req models.ReplyRequest, actor *models.JWTClaims) (*models.Message, error)
	ListThreads(ctx context.Context, filter models.ThreadFilter) ([]models.ThreadSummary, error)
	GetThread(ctx context.Context, clientID, threadID, viewerSide string) (*models.Thread, error)
	MarkRead(ctx context.Context, clientID, threadID, viewerSide string) (int64, error)
	UnreadCount(ctx context.Context, clientID, viewerSide string) (int, error)
	UpdateThread(ctx context.Context, threadID string, req models.UpdateThreadRequest, actor *models.JWTClaims) (*models.ThreadSummary, error)
}

// MessageHandler serves message threads. Client routes take the client from
// the token; staff routes take it from the path.
type MessageHandler struct {
	service messageService
}

// NewMessageHandler constructs the handler.
func NewMessageHandler(svc messageService) *MessageHandler {
	return &MessageHandler{service: svc}
}

// scope resolves the client a thread route acts on.
func (h *MessageHandler) scope(c *gin.Context) (*models.JWTClaims, string, bool) {
	claims, ok := requireClaims(c)
	if !ok {
		return nil, "", false
	}
	if claims.Role.IsStaff() {
		return claims, c.Param("id"), true
	}
	return requireClient(c)
}

func (h *MessageHandler) threadID(c *gin.Context) string {
	if id := c.Param("threadId"); id != "" {
		return id
	}
	return c.Param("id")
}

// ListThreads godoc
// @Summary List message threads
// @Tags Messages
// @Produce json
// @Param status query string false "Thread status"
// @Success 200 {object} response.Envelope
// @Router /messages/threads [get]
// @Router /staff/clients/{id}/threads [get]
func (h *MessageHandler) ListThreads(c *gin.Context) {
	claims, clientID, ok := h.scope(c)
	if !ok {
		return
	}
	side := models.SideFor(claims.Role)
	threads, err := h.service.ListThreads(c.Request.Context(), models.ThreadFilter{
		ClientID:   clientID,
		ViewerSide: side,
		Status:     models.MessageStatus(strings.TrimSpace(c.Query("status"))),
		Limit:      queryInt(c, "limit", 50),
		Offset:     queryInt(c, "offset", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	unread, err := h.service.UnreadCount(c.Request.Context(), clientID, side)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ThreadListResponse{Threads: threads, Unread: unread}, nil)
}

// StartThread godoc
// @Summary Start a message thread
// @Tags Messages
// @Accept json
// @Produce json
// @Param payload body models.StartThreadRequest true "First message"
// @Success 201 {object} response.Envelope
// @Router /messages/threads [post]
// @Router /staff/clients/{id}/threads [post]
func (h *MessageHandler) StartThread(c *gin.Context) {
	claims, clientID, ok := h.scope(c)
	if !ok {
		return
	}
	var req models.StartThreadRequest
	if !bindJSON(c, &req, "invalid message payload") {
		return
	}
	thread, err := h.service.StartThread(c.Request.Context(), clientID, req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, thread)
}

// GetThread godoc
// @Summary Get a message thread
// @Tags Messages
// @Produce json
// @Param threadId path string true "Thread ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /messages/threads/{threadId} [get]
// @Router /staff/clients/{id}/threads/{threadId} [get]
func (h *MessageHandler) GetThread(c *gin.Context) {
	claims, clientID, ok := h.scope(c)
	if !ok {
		return
	}
	thread, err := h.service.GetThread(c.Request.Context(), clientID, h.threadID(c), models.SideFor(claims.Role))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thread, nil)
}

// Reply godoc
// @Summary Reply to a thread
// @Tags Messages
// @Accept json
// @Produce json
// @Param threadId path string true "Thread ID"
// @Param payload body models.ReplyRequest true "Reply"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /messages/threads/{threadId}/replies [post]
// @Router /staff/clients/{id}/threads/{threadId}/replies [post]
func (h *MessageHandler) Reply(c *gin.Context) {
	claims, clientID, ok := h.scope(c)
	if !ok {
		return
	}
	var req models.ReplyRequest
	if !bindJSON(c, &req, "invalid reply payload") {
		return
	}
	msg, err := h.service.Reply(c.Request.Context(), clientID, h.threadID(c), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// MarkRead godoc
// @Summary Mark a thread read
// @Tags Messages
// @Produce json
// @Param threadId path string true "Thread ID"
// @Success 200 {object} response.Envelope
// @Router /messages/threads/{threadId}/read [post]
// @Router /staff/clients/{id}/threads/{threadId}/read [post]
func (h *MessageHandler) MarkRead(c *gin.Context) {
	claims, clientID, ok := h.scope(c)
	if !ok {
		return
	}
	marked, err := h.service.MarkRead(c.Request.Context(), clientID, h.threadID(c), models.SideFor(claims.Role))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.MarkReadResponse{Marked: marked}, nil)
}

// UpdateThread godoc
// @Summary Change thread status or urgency
// @Tags Staff
// @Accept json
// @Produce json
// @Param id path string true "Thread ID"
// @Param payload body models.UpdateThreadRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /staff/threads/{id} [patch]
func (h *MessageHandler) UpdateThread(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req models.UpdateThreadRequest
	if !bindJSON(c, &req, "invalid thread update") {
		return
	}
	summary, err := h.service.UpdateThread(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
