package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// ConversationHandlers serves conversations and their messages.
type ConversationHandlers struct {
	svc *backend.Service
	log *zerolog.Logger
}

// NewConversationHandlers creates a new conversation handlers instance.
func NewConversationHandlers(svc *backend.Service, logger *zerolog.Logger) *ConversationHandlers {
	return &ConversationHandlers{svc: svc, log: logger}
}

// List returns the caller's conversations with their last message.
// GET /api/conversations
func (h *ConversationHandlers) List(c *gin.Context) {
	previews, err := callerOf(c, h.svc).ListConversations(c.Request.Context())
	if err != nil {
		writeError(c, h.log, "list_conversations", err)
		return
	}
	if previews == nil {
		previews = []*store.ConversationPreview{}
	}
	c.JSON(http.StatusOK, previews)
}

// Lookup finds the conversation between a and b in either order.
// GET /api/conversations/lookup?a=&b=
func (h *ConversationHandlers) Lookup(c *gin.Context) {
	conv, err := callerOf(c, h.svc).QueryConversation(c.Request.Context(), c.Query("a"), c.Query("b"))
	if err != nil {
		writeError(c, h.log, "query_conversation", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Get returns one conversation.
// GET /api/conversations/:id
func (h *ConversationHandlers) Get(c *gin.Context) {
	conv, err := callerOf(c, h.svc).GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, "get_conversation", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Create inserts the conversation for a pair, or answers 409 if one exists.
// POST /api/conversations
func (h *ConversationHandlers) Create(c *gin.Context) {
	var req proto.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create conversation request")
		badRequest(c, "invalid request body")
		return
	}

	conv, err := callerOf(c, h.svc).InsertConversation(c.Request.Context(), req.ParticipantA, req.ParticipantB)
	if err != nil {
		writeError(c, h.log, "insert_conversation", err)
		return
	}

	h.log.Info().Str("conversation_id", conv.ID).Msg("conversation created")
	c.JSON(http.StatusCreated, conv)
}

// Messages returns one page of messages in (created_at, id) order.
// GET /api/conversations/:id/messages?after_ts=&after_id=&limit=
func (h *ConversationHandlers) Messages(c *gin.Context) {
	q, err := messageQueryOf(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	msgs, err := callerOf(c, h.svc).QueryMessages(c.Request.Context(), q)
	if err != nil {
		writeError(c, h.log, "query_messages", err)
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// Send posts a message.
// POST /api/conversations/:id/messages
func (h *ConversationHandlers) Send(c *gin.Context) {
	var req proto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		badRequest(c, "invalid request body")
		return
	}

	body := store.Body{Text: req.Text, MediaURL: req.MediaURL}
	msg, err := callerOf(c, h.svc).InsertMessage(c.Request.Context(), c.Param("id"), req.SenderID, body)
	if err != nil {
		writeError(c, h.log, "insert_message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
