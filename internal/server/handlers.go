package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/koi/internal/profiles"
	"github.com/MarcoPoloResearchLab/koi/internal/ranks"
	"github.com/MarcoPoloResearchLab/koi/internal/rewards"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type meResponsePayload struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
}

type badgesResponsePayload struct {
	Badges []profiles.AwardedBadge `json:"badges"`
}

type checkinStatusPayload struct {
	CheckedInToday bool `json:"checked_in_today"`
}

type actionRequestPayload struct {
	Action string `json:"action" binding:"required,max=64"`
}

type renameRequestPayload struct {
	Name string `json:"name" binding:"required,max=200"`
}

type rankPayload struct {
	ranks.Rank
	DisplayName string `json:"display_name"`
}

type rulesResponsePayload struct {
	rewards.Rules
	Ranks []rankPayload `json:"ranks"`
}

func (h *httpHandler) handleMe(c *gin.Context) {
	account, ok := accountFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, meResponsePayload{
		ID:          account.UserID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		AvatarURL:   account.AvatarURL,
		IsAdmin:     h.profiles.IsAdmin(account.Email),
	})
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	profile, err := h.profiles.FetchProfile(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, err, "profile_fetch_failed")
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleBadges(c *gin.Context) {
	badges, err := h.profiles.FetchAwardedBadges(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, err, "badge_fetch_failed")
		return
	}
	c.JSON(http.StatusOK, badgesResponsePayload{Badges: badges})
}

func (h *httpHandler) handleCheckinStatus(c *gin.Context) {
	checkedIn, err := h.profiles.HasCheckedInToday(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, err, "checkin_status_failed")
		return
	}
	c.JSON(http.StatusOK, checkinStatusPayload{CheckedInToday: checkedIn})
}

func (h *httpHandler) handleCheckin(c *gin.Context) {
	result, err := h.profiles.PerformCheckin(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondServiceError(c, err, "checkin_failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleAction(c *gin.Context) {
	var request actionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": formatValidationError(err)})
		return
	}
	action, err := rewards.ParseAction(request.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_action"})
		return
	}
	if action == rewards.ActionDailyCheckin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "use_checkin_endpoint"})
		return
	}
	grant, err := h.profiles.RecordAction(c.Request.Context(), c.GetString(userIDContextKey), action)
	if err != nil {
		h.respondServiceError(c, err, "action_failed")
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *httpHandler) handleRename(c *gin.Context) {
	var request renameRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "details": formatValidationError(err)})
		return
	}
	account, _ := accountFromContext(c)
	profile, err := h.profiles.RenameProfile(c.Request.Context(), account.UserID, account.Email, request.Name)
	if err != nil {
		h.respondServiceError(c, err, "rename_failed")
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleRules(c *gin.Context) {
	locale := ranks.ParseLocale(c.Query("locale"))
	table := ranks.Table()
	payload := rulesResponsePayload{
		Rules: rewards.PublishedRules(),
		Ranks: make([]rankPayload, 0, len(table)),
	}
	for _, rank := range table {
		payload.Ranks = append(payload.Ranks, rankPayload{Rank: rank, DisplayName: rank.DisplayName(locale)})
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, profiles.ErrProfileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, profiles.ErrInvalidName), errors.Is(err, rewards.ErrUnknownAction), errors.Is(err, profiles.ErrMissingUserID):
		status = http.StatusBadRequest
	case errors.Is(err, profiles.ErrNameAlreadyChanged):
		status = http.StatusConflict
	}

	code := fallback
	var serviceErr *profiles.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func formatValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		field := strings.ToLower(fieldError.Field())
		switch fieldError.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, fieldError.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(messages, "; ")
}
