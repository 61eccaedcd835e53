// Package server exposes the progression platform over HTTP and a WebSocket change stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/auth"
	"github.com/MarcoPoloResearchLab/koi/internal/profiles"
	"github.com/MarcoPoloResearchLab/koi/internal/realtime"
	"github.com/MarcoPoloResearchLab/koi/internal/rewards"
	"github.com/MarcoPoloResearchLab/koi/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userIDContextKey  = "koi_user_id"
	accountContextKey = "koi_account"

	defaultHeartbeatInterval = 30 * time.Second
	streamWriteTimeout       = 10 * time.Second
)

var (
	errMissingSessions = errors.New("session validator dependency required")
	errMissingAccounts = errors.New("account resolver dependency required")
	errMissingProfiles = errors.New("profile service dependency required")
	errMissingStream   = errors.New("change stream dependency required")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// AccountResolver maps session claims onto a provisioned account.
type AccountResolver interface {
	Resolve(ctx context.Context, claims auth.SessionClaims) (users.Account, error)
}

// ProfileService is the progression platform behind the API.
type ProfileService interface {
	FetchProfile(ctx context.Context, userID string) (profiles.Profile, error)
	FetchAwardedBadges(ctx context.Context, userID string) ([]profiles.AwardedBadge, error)
	PerformCheckin(ctx context.Context, userID string) (profiles.CheckinResult, error)
	HasCheckedInToday(ctx context.Context, userID string) (bool, error)
	RecordAction(ctx context.Context, userID string, action rewards.Action) (profiles.Grant, error)
	RenameProfile(ctx context.Context, userID, email, name string) (profiles.Profile, error)
	IsAdmin(email string) bool
}

// ChangeStream hands out per-user profile change subscriptions.
type ChangeStream interface {
	Subscribe(ctx context.Context, userID string) (<-chan realtime.Message, func())
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Sessions          SessionValidator
	Accounts          AccountResolver
	Profiles          ProfileService
	Stream            ChangeStream
	Logger            *zap.Logger
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Stream == nil {
		return nil, errMissingStream
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
		sessions:  deps.Sessions,
		accounts:  deps.Accounts,
		profiles:  deps.Profiles,
		stream:    deps.Stream,
		logger:    logger,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}

	router.GET("/gamification/rules", handler.handleRules)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/me", handler.handleMe)
	protected.GET("/profile", handler.handleProfile)
	protected.PUT("/profile/name", handler.handleRename)
	protected.GET("/profile/badges", handler.handleBadges)
	protected.GET("/profile/stream", handler.handleProfileStream)
	protected.GET("/checkin/status", handler.handleCheckinStatus)
	protected.POST("/checkin", handler.handleCheckin)
	protected.POST("/actions", handler.handleAction)

	return router, nil
}

type httpHandler struct {
	sessions  SessionValidator
	accounts  AccountResolver
	profiles  ProfileService
	stream    ChangeStream
	logger    *zap.Logger
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// authorizeRequest resolves the caller from the bearer header, the session cookie,
// or the access_token query parameter used by browser WebSocket clients.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	account, err := h.accounts.Resolve(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("account resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account_resolution_failed"})
		return
	}
	c.Set(userIDContextKey, account.UserID)
	c.Set(accountContextKey, account)
	c.Next()
}

func accountFromContext(c *gin.Context) (users.Account, bool) {
	value, ok := c.Get(accountContextKey)
	if !ok {
		return users.Account{}, false
	}
	account, ok := value.(users.Account)
	return account, ok
}
