package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/auth"
	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/modledger/internal/moderation"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	moderatorIDContextKey    = "modledger_moderator_id"
	accessTokenQueryParam    = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
	maxImportBodyBytes       = 32 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingModeration       = errors.New("moderation service dependency required")
	errMissingRealtime         = errors.New("realtime dispatcher dependency required")
)

// SessionValidator authenticates moderator session tokens.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

type Dependencies struct {
	Sessions   SessionValidator
	Moderation *moderation.Service
	Realtime   *RealtimeDispatcher
	Logger     *zap.Logger
	// AllowedOrigins defaults to every origin.
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Moderation == nil {
		return nil, errMissingModeration
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:   deps.Sessions,
		moderation: deps.Moderation,
		realtime:   deps.Realtime,
		heartbeat:  heartbeat,
		logger:     logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users/:userID", handler.handleLookupUser)
	protected.GET("/allow-list/:userID", handler.handleIsAllowListed)
	protected.POST("/allow-list", handler.requireAdmin, handler.handleAllowListAdd)

	community := protected.Group("/communities/:communityID")
	community.Use(handler.requireCommunityAccess)
	community.POST("/offenses", handler.handleAddOffense)
	community.POST("/import", handler.handleImport)
	community.POST("/purge", handler.requireAdmin, handler.handlePurge)
	community.POST("/screen", handler.handleScreen)
	community.POST("/footprint", handler.handleFootprint)
	community.GET("/settings", handler.handleGetSettings)
	community.PUT("/settings", handler.handleConfigure)
	community.POST("/settings/auto-kick/toggle", handler.handleToggleAutoKick)
	community.POST("/moderators", handler.handleAuthorize)
	community.GET("/events", handler.handleEventStream)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	sessions   SessionValidator
	moderation *moderation.Service
	realtime   *RealtimeDispatcher
	heartbeat  time.Duration
	logger     *zap.Logger
}

// authorizeRequest accepts a bearer header or session cookie, and an access_token query
// parameter for event streams opened by browsers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		if token := strings.TrimSpace(c.Query(accessTokenQueryParam)); token != "" {
			claims, err = h.sessions.ValidateToken(token)
		}
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(moderatorIDContextKey, claims.Subject)
	c.Next()
}

func (h *httpHandler) requireCommunityAccess(c *gin.Context) {
	moderatorID := c.GetString(moderatorIDContextKey)
	allowed, err := h.moderation.IsAuthorized(c.Request.Context(), c.Param("communityID"), moderatorID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if !allowed {
		h.logger.Info("community access denied",
			zap.String("community_id", c.Param("communityID")),
			zap.String("moderator_id", moderatorID))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	if !h.moderation.IsAdmin(c.GetString(moderatorIDContextKey)) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}
	c.Next()
}

// abortWithError maps service failures onto HTTP statuses. Retryable store outages are 503.
func (h *httpHandler) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, moderation.ErrInvalidRequest), errors.Is(err, ledger.ErrMalformedInput):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, moderation.ErrCommunityNotConfigured):
		status, code = http.StatusConflict, "community_not_configured"
	case errors.Is(err, store.ErrStoreUnavailable):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, store.ErrPartialBatchFailure):
		code = "partially_applied"
	}

	var serviceErr *moderation.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}
