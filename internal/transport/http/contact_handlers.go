package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// ContactHandlers serves the caller's contact list.
type ContactHandlers struct {
	svc *backend.Service
	log *zerolog.Logger
}

// NewContactHandlers creates a new contact handlers instance.
func NewContactHandlers(svc *backend.Service, logger *zerolog.Logger) *ContactHandlers {
	return &ContactHandlers{svc: svc, log: logger}
}

// List returns the caller's contacts, oldest first.
// GET /api/contacts
func (h *ContactHandlers) List(c *gin.Context) {
	contacts, err := callerOf(c, h.svc).ListContacts(c.Request.Context())
	if err != nil {
		writeError(c, h.log, "list_contacts", err)
		return
	}
	if contacts == nil {
		contacts = []*store.Contact{}
	}

	h.log.Debug().Str("user_id", c.GetString(ContextKeyUserID)).Int("contact_count", len(contacts)).Msg("contacts listed")
	c.JSON(http.StatusOK, contacts)
}

// Add adds the user registered with the given email.
// POST /api/contacts
func (h *ContactHandlers) Add(c *gin.Context) {
	var req proto.AddContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid add contact request")
		badRequest(c, "invalid request body")
		return
	}

	contact, err := callerOf(c, h.svc).AddContactByEmail(c.Request.Context(), req.Email)
	if err != nil {
		writeError(c, h.log, "add_contact", err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

// Remove drops a contact by user id.
// DELETE /api/contacts/:id
func (h *ContactHandlers) Remove(c *gin.Context) {
	if err := callerOf(c, h.svc).RemoveContact(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.log, "remove_contact", err)
		return
	}
	c.Status(http.StatusNoContent)
}
