package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/modledger/internal/moderation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type addOffenseRequestPayload struct {
	UserID       string  `json:"user_id"`
	DisplayName  *string `json:"username"`
	SecondaryID  *string `json:"secondary_id"`
	Reason       string  `json:"reason"`
	EvidenceLink *string `json:"image"`
	Notes        *string `json:"extra"`
}

type addOffenseResponsePayload struct {
	UserID  string         `json:"user_id"`
	Offense ledger.Offense `json:"offense"`
	Created bool           `json:"created"`
}

func (h *httpHandler) handleAddOffense(c *gin.Context) {
	var request addOffenseRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.moderation.AddOffense(c.Request.Context(), moderation.AddOffenseRequest{
		UserID:       request.UserID,
		DisplayName:  ledger.FromPointer(request.DisplayName, false),
		SecondaryID:  ledger.FromPointer(request.SecondaryID, true),
		CommunityID:  c.Param("communityID"),
		Reason:       request.Reason,
		EvidenceLink: ledger.FromPointer(request.EvidenceLink, true),
		Notes:        ledger.FromPointer(request.Notes, true),
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, addOffenseResponsePayload{
		UserID:  result.UserID.String(),
		Offense: result.Offense,
		Created: result.Created,
	})
}

func (h *httpHandler) handleLookupUser(c *gin.Context) {
	record, found, err := h.moderation.LookupUser(c.Request.Context(), c.Param("userID"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleImport takes the CSV feed as the raw request body and the reason as a query parameter.
func (h *httpHandler) handleImport(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBodyBytes)
	feed, err := moderation.ParseImportFeed(body)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	report, err := h.moderation.Import(c.Request.Context(), moderation.ImportRequest{
		Feed:        feed,
		CommunityID: c.Param("communityID"),
		Reason:      c.Query("reason"),
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) handlePurge(c *gin.Context) {
	report, err := h.moderation.PurgeCommunity(c.Request.Context(), c.Param("communityID"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	h.logger.Info("community purged",
		zap.String("community_id", report.CommunityID),
		zap.String("moderator_id", c.GetString(moderatorIDContextKey)),
		zap.Int("modified", report.Modified))
	c.JSON(http.StatusOK, report)
}

type screenRequestPayload struct {
	MemberID string `json:"member_id"`
}

func (h *httpHandler) handleScreen(c *gin.Context) {
	var request screenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.MemberID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := h.moderation.ScreenMember(c.Request.Context(), c.Param("communityID"), request.MemberID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type footprintRequestPayload struct {
	MemberIDs []string `json:"member_ids"`
}

type footprintResponsePayload struct {
	Identities         int                  `json:"identities"`
	Projection         string               `json:"projection"`
	Rendering          moderation.Rendering `json:"rendering"`
	MalformedDocuments []string             `json:"malformed_documents"`
}

// handleFootprint renders the ledger hits among member_ids in the projection named by
// the projection query parameter (table by default).
func (h *httpHandler) handleFootprint(c *gin.Context) {
	projection, err := moderation.ParseProjection(c.Query("projection"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	var request footprintRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ctx := c.Request.Context()
	result, err := h.moderation.Footprint(ctx, request.MemberIDs)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	settings, _, err := h.moderation.CommunitySettings(ctx, c.Param("communityID"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	rendering, err := moderation.Render(result.Hits, projection, settings.CommunityDisplayName)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, footprintResponsePayload{
		Identities:         result.Identities,
		Projection:         projection.String(),
		Rendering:          rendering,
		MalformedDocuments: result.MalformedDocuments,
	})
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	settings, found, err := h.moderation.CommunitySettings(c.Request.Context(), c.Param("communityID"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "community_not_configured"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

type configureRequestPayload struct {
	ChannelID   string `json:"channel_id"`
	DisplayName string `json:"server_name"`
	AutoKick    *bool  `json:"kick"`
}

func (h *httpHandler) handleConfigure(c *gin.Context) {
	var request configureRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	settings, err := h.moderation.ConfigureCommunity(c.Request.Context(), moderation.CommunityConfig{
		CommunityID:           c.Param("communityID"),
		NotificationChannelID: request.ChannelID,
		DisplayName:           request.DisplayName,
		AutoKick:              request.AutoKick,
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *httpHandler) handleToggleAutoKick(c *gin.Context) {
	settings, err := h.moderation.ToggleAutoKick(c.Request.Context(), c.Param("communityID"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type memberRequestPayload struct {
	UserID string `json:"user_id"`
}

func (h *httpHandler) handleAuthorize(c *gin.Context) {
	var request memberRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	added, err := h.moderation.Authorize(c.Request.Context(), c.Param("communityID"), request.UserID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *httpHandler) handleAllowListAdd(c *gin.Context) {
	var request memberRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	added, err := h.moderation.AllowListAdd(c.Request.Context(), request.UserID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *httpHandler) handleIsAllowListed(c *gin.Context) {
	listed, err := h.moderation.IsAllowListed(c.Request.Context(), c.Param("userID"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allow_listed": listed})
}

// handleEventStream relays the community's ledger events as server-sent events until
// the client disconnects.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	communityID, err := ledger.NewCommunityID(c.Param("communityID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, communityID.String())
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, message)
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}
