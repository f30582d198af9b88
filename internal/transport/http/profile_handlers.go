package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// ProfileHandlers serves user profiles.
type ProfileHandlers struct {
	svc *backend.Service
	log *zerolog.Logger
}

// NewProfileHandlers creates a new profile handlers instance.
func NewProfileHandlers(svc *backend.Service, logger *zerolog.Logger) *ProfileHandlers {
	return &ProfileHandlers{svc: svc, log: logger}
}

// Query returns the profiles that exist among ids, keyed by user id.
// GET /api/profiles?ids=a,b
func (h *ProfileHandlers) Query(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	profiles, err := callerOf(c, h.svc).QueryProfiles(c.Request.Context(), ids)
	if err != nil {
		writeError(c, h.log, "query_profiles", err)
		return
	}
	if profiles == nil {
		profiles = map[string]*store.Profile{}
	}
	c.JSON(http.StatusOK, profiles)
}

// Upsert replaces the caller's profile.
// PUT /api/profile
func (h *ProfileHandlers) Upsert(c *gin.Context) {
	var req proto.UpsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid profile request")
		badRequest(c, "invalid request body")
		return
	}

	p, err := callerOf(c, h.svc).UpsertProfile(c.Request.Context(), store.Profile{
		Username:  req.Username,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		writeError(c, h.log, "upsert_profile", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Directory lists registered users ordered by username.
// GET /api/users?limit=n
func (h *ProfileHandlers) Directory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit: invalid value")
			return
		}
		limit = n
	}

	profiles, err := callerOf(c, h.svc).ListProfiles(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.log, "list_profiles", err)
		return
	}
	if profiles == nil {
		profiles = []*store.Profile{}
	}
	c.JSON(http.StatusOK, profiles)
}

// Lookup finds a user by email.
// GET /api/users/lookup?email=
func (h *ProfileHandlers) Lookup(c *gin.Context) {
	p, err := callerOf(c, h.svc).LookupProfile(c.Request.Context(), c.Query("email"))
	if err != nil {
		writeError(c, h.log, "lookup_profile", err)
		return
	}
	c.JSON(http.StatusOK, p)
}
