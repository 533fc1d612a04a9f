package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"standhub/models"
	"standhub/services"
	"standhub/utils"
)

type StandupHandler struct {
	db     *gorm.DB
	broker *services.Broker
	logger *utils.Logger
}

func NewStandupHandler(db *gorm.DB, broker *services.Broker, logger *utils.Logger) *StandupHandler {
	return &StandupHandler{
		db:     db,
		broker: broker,
		logger: logger,
	}
}

// SubmitStandup handles POST /api/v1/standups. The entry is persisted and
// then broadcast to the team room as a standup update, an activity event
// and, when the attached analysis reports blockers, a warning toast.
func (h *StandupHandler) SubmitStandup(c *gin.Context) {
	var req models.SubmitStandupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	userID := c.GetString("userID")
	userEmail := c.GetString("userEmail")
	companyID, err := uuid.Parse(c.GetString("companyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Company-ID header is required"})
		return
	}

	// Verify the team belongs to the active company and the user is a member
	var team models.Team
	if err := h.db.First(&team, "id = ? AND company_id = ?", req.TeamID, companyID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Team not found"})
			return
		}
		h.logger.Error("Failed to fetch team", "team_id", req.TeamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit standup"})
		return
	}

	var membership int64
	h.db.Model(&models.TeamMember{}).
		Where("team_id = ? AND user_id = ?", req.TeamID, userID).
		Count(&membership)
	if membership == 0 {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	now := time.Now().UTC()
	standup := models.Standup{
		TeamID:          req.TeamID,
		CompanyID:       companyID,
		UserID:          userID,
		UserEmail:       userEmail,
		Yesterday:       req.Yesterday,
		Today:           req.Today,
		Blockers:        req.Blockers,
		BlockerAnalysis: req.BlockerAnalysis,
		Sentiment:       req.Sentiment,
		Date:            now.Format("2006-01-02"),
	}
	if err := h.db.Create(&standup).Error; err != nil {
		h.logger.Error("Failed to persist standup", "team_id", req.TeamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit standup"})
		return
	}

	scope := models.RoomKey{CompanyID: companyID.String(), TeamID: req.TeamID.String()}
	h.broadcastStandup(c, scope, standup, now)

	// Count today's entries for the team
	var todayCount int64
	h.db.Model(&models.Standup{}).
		Where("team_id = ? AND date = ?", req.TeamID, standup.Date).
		Count(&todayCount)

	c.JSON(http.StatusOK, gin.H{
		"standup_id":         standup.ID,
		"team_standup_count": todayCount,
	})
}

// ListTodayStandups handles GET /api/v1/standups?team_id=...
func (h *StandupHandler) ListTodayStandups(c *gin.Context) {
	teamID, err := uuid.Parse(c.Query("team_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "team_id is required"})
		return
	}

	today := time.Now().UTC().Format("2006-01-02")
	var standups []models.Standup
	if err := h.db.Where("team_id = ? AND date = ?", teamID, today).
		Order("created_at DESC").
		Find(&standups).Error; err != nil {
		h.logger.Error("Failed to fetch standups", "team_id", teamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch standups"})
		return
	}

	c.JSON(http.StatusOK, models.ListResponse[models.Standup]{
		Data:  standups,
		Total: int64(len(standups)),
	})
}

func (h *StandupHandler) broadcastStandup(c *gin.Context, scope models.RoomKey, standup models.Standup, now time.Time) {
	room := scope.TeamRoom()
	ctx := c.Request.Context()

	update := models.StandupUpdate{
		ID:              standup.ID.String(),
		UserID:          standup.UserID,
		UserEmail:       standup.UserEmail,
		Yesterday:       standup.Yesterday,
		Today:           standup.Today,
		Blockers:        standup.Blockers,
		BlockerAnalysis: standup.BlockerAnalysis,
		Sentiment:       standup.Sentiment,
		Timestamp:       now,
	}
	if env, err := models.NewEnvelope(models.EventStandup, &scope, update); err == nil {
		if err := h.broker.Publish(ctx, room, env); err != nil {
			h.logger.Error("Failed to broadcast standup", "room", room, "error", err)
		}
	}

	details := models.JSONB{"action": "submitted"}
	if standup.Blockers != "" {
		details["blocker"] = standup.Blockers
	}
	activity := models.ActivityEvent{
		ID:           "activity_" + uuid.NewString(),
		ActivityType: models.ActivityStandup,
		UserName:     displayName(standup.UserEmail),
		Details:      details,
		Timestamp:    now,
	}
	if env, err := models.NewEnvelope(models.EventActivity, &scope, activity); err == nil {
		if err := h.broker.Publish(ctx, room, env); err != nil {
			h.logger.Error("Failed to broadcast activity", "room", room, "error", err)
		}
	}

	// The analysis payload is opaque except for the has_blockers flag,
	// which drives the blocker toast
	if hasBlockers, _ := standup.BlockerAnalysis["has_blockers"].(bool); hasBlockers {
		toast := models.ToastNotification{
			ID:        "notif_" + uuid.NewString(),
			Type:      models.ToastWarning,
			Title:     "Blocker Detected",
			Message:   displayName(standup.UserEmail) + " reported blockers in their standup",
			Sender:    "System",
			Timestamp: now,
		}
		if env, err := models.NewEnvelope(models.EventNotification, &scope, toast); err == nil {
			if err := h.broker.Publish(ctx, room, env); err != nil {
				h.logger.Error("Failed to broadcast blocker toast", "room", room, "error", err)
			}
		}
	}
}

func displayName(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
