package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/proto"
	"github.com/vovakirdan/huddle-server/internal/store"
)

const maxHistoryLimit = 200

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// IdentityResponse describes the caller.
type IdentityResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// HistoryHandlers serves message history straight from the store, plus presence and moderation.
type HistoryHandlers struct {
	hub          *core.Hub
	dispatcher   *core.Dispatcher
	store        store.Store
	defaultLimit int
	log          *zerolog.Logger
}

// NewHistoryHandlers creates a new history handlers instance.
func NewHistoryHandlers(svc Services, defaultLimit int, logger *zerolog.Logger) *HistoryHandlers {
	if defaultLimit <= 0 {
		defaultLimit = core.DefaultHistoryLimit
	}
	return &HistoryHandlers{
		hub:          svc.Hub,
		dispatcher:   svc.Dispatcher,
		store:        svc.Store,
		defaultLimit: defaultLimit,
		log:          logger,
	}
}

// Me returns the authenticated identity.
// GET /api/me
func (h *HistoryHandlers) Me(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, IdentityResponse{
		ID:       identity.UserID,
		Username: identity.UserName,
		Role:     string(identity.Role),
	})
}

// Presence returns the current online/away sets.
// GET /api/presence
func (h *HistoryHandlers) Presence(c *gin.Context) {
	snap, err := h.hub.Snapshot(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read presence")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, userStatus(&snap))
}

// GlobalMessages returns global chat history.
// GET /api/global-messages?limit=&before=
func (h *HistoryHandlers) GlobalMessages(c *gin.Context) {
	limit, before, ok := h.paging(c)
	if !ok {
		return
	}
	msgs, err := h.store.ListGlobalMessages(c.Request.Context(), limit, before)
	h.respondMessages(c, msgs, err)
}

// DirectMessages returns the conversation between the caller and another user.
// GET /api/get-messages?with=&limit=&before=
func (h *HistoryHandlers) DirectMessages(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	other, err := strconv.ParseInt(c.Query("with"), 10, 64)
	if err != nil || other <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "with must be a user id"})
		return
	}
	limit, before, ok := h.paging(c)
	if !ok {
		return
	}
	msgs, err := h.store.ListDirectMessages(c.Request.Context(), identity.UserID, other, limit, before)
	h.respondMessages(c, msgs, err)
}

// GroupMessages returns group history for members.
// GET /api/group-messages/:id
func (h *HistoryHandlers) GroupMessages(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	groupID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || groupID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid group id"})
		return
	}
	limit, before, ok := h.paging(c)
	if !ok {
		return
	}

	member, err := h.store.IsGroupMember(c.Request.Context(), identity.UserID, groupID)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", groupID).Msg("failed to check group membership")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this group"})
		return
	}

	msgs, err := h.store.ListGroupMessages(c.Request.Context(), groupID, limit, before)
	h.respondMessages(c, msgs, err)
}

// ChannelMessages returns channel history for users with access.
// GET /api/get-channel-messages?team=&channel=
func (h *HistoryHandlers) ChannelMessages(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	team, channel := c.Query("team"), c.Query("channel")
	if team == "" || channel == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "team and channel are required"})
		return
	}
	limit, before, ok := h.paging(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	ref, err := h.store.ResolveChannel(ctx, team, channel)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("team", team).Str("channel", channel).Msg("failed to resolve channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	member, err := h.store.IsChannelMember(ctx, identity.UserID, *ref)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", ref.ChannelID).Msg("failed to check channel membership")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this channel"})
		return
	}

	msgs, err := h.store.ListChannelMessages(ctx, team, channel, limit, before)
	h.respondMessages(c, msgs, err)
}

// Moderate replaces a message's text with the moderation marker. Admins only.
// POST /api/messages/:kind/:id/moderate
func (h *HistoryHandlers) Moderate(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	kind, err := store.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id"})
		return
	}

	msg, err := h.dispatcher.Moderate(c.Request.Context(), *identity, kind, id)
	if err != nil && msg == nil {
		code := core.ErrorCode(err)
		c.JSON(statusForCode(code), ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	if err != nil {
		// stored but not broadcast; clients will see it on the next history load
		h.log.Warn().Err(err).Int64("message_id", id).Msg("moderation not delivered")
	}
	c.JSON(http.StatusOK, messageToProto(msg, ""))
}

func (h *HistoryHandlers) identity(c *gin.Context) (*core.Identity, bool) {
	identity, ok := identityFrom(c)
	if !ok {
		h.log.Error().Msg("identity not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return nil, false
	}
	return identity, true
}

func (h *HistoryHandlers) paging(c *gin.Context) (int, *int64, bool) {
	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return 0, nil, false
		}
		limit = min(n, maxHistoryLimit)
	}

	var before *int64
	if raw := c.Query("before"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "before must be a message id"})
			return 0, nil, false
		}
		before = &id
	}
	return limit, before, true
}

func (h *HistoryHandlers) respondMessages(c *gin.Context, msgs []*store.Message, err error) {
	if err != nil {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	out := make([]proto.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageToProto(msg, ""))
	}
	c.JSON(http.StatusOK, out)
}

func statusForCode(code string) int {
	switch code {
	case core.ErrCodeBadRequest:
		return http.StatusBadRequest
	case core.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case core.ErrCodeForbidden:
		return http.StatusForbidden
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
