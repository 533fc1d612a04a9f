package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"standhub/models"
	"standhub/utils"
)

type TeamHandler struct {
	db     *gorm.DB
	logger *utils.Logger
}

func NewTeamHandler(db *gorm.DB, logger *utils.Logger) *TeamHandler {
	return &TeamHandler{
		db:     db,
		logger: logger,
	}
}

// ListTeams handles GET /api/v1/teams for the active company
func (h *TeamHandler) ListTeams(c *gin.Context) {
	userID := c.GetString("userID")
	companyID, err := uuid.Parse(c.GetString("companyID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Company-ID header is required"})
		return
	}

	var teams []models.Team
	err = h.db.Preload("Members").
		Joins("JOIN team_members ON team_members.team_id = teams.id").
		Where("teams.company_id = ? AND team_members.user_id = ?", companyID, userID).
		Order("teams.created_at ASC").
		Find(&teams).Error
	if err != nil {
		h.logger.Error("Failed to fetch teams", "company_id", companyID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch teams"})
		return
	}

	responses := make([]models.TeamResponse, 0, len(teams))
	for _, team := range teams {
		role := models.RoleDeveloper
		for _, member := range team.Members {
			if member.UserID == userID {
				role = member.Role
				break
			}
		}
		responses = append(responses, models.TeamResponse{
			ID:          team.ID,
			Name:        team.Name,
			Description: team.Description,
			Role:        role,
			MemberCount: len(team.Members),
			OwnerID:     team.OwnerID,
			CompanyID:   team.CompanyID,
			CreatedAt:   team.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, models.ListResponse[models.TeamResponse]{
		Data:  responses,
		Total: int64(len(responses)),
	})
}

// CreateTeam handles POST /api/v1/teams
func (h *TeamHandler) CreateTeam(c *gin.Context) {
	var req models.CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	userID := c.GetString("userID")
	userEmail := c.GetString("userEmail")

	var company models.Company
	if err := h.db.First(&company, "id = ?", req.CompanyID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Company not found"})
			return
		}
		h.logger.Error("Failed to fetch company", "company_id", req.CompanyID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create team"})
		return
	}

	team := models.Team{
		CompanyID:   req.CompanyID,
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     userID,
	}

	// The owner is automatically a member
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		member := models.TeamMember{
			TeamID:    team.ID,
			UserID:    userID,
			UserEmail: userEmail,
			Role:      models.RoleOwner,
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		h.logger.Error("Failed to create team", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create team"})
		return
	}

	h.logger.Info("Team created", "team_id", team.ID, "company_id", team.CompanyID)
	c.JSON(http.StatusCreated, models.TeamResponse{
		ID:          team.ID,
		Name:        team.Name,
		Description: team.Description,
		Role:        models.RoleOwner,
		MemberCount: 1,
		OwnerID:     userID,
		CompanyID:   team.CompanyID,
		CreatedAt:   team.CreatedAt,
	})
}

// AddMember handles POST /api/v1/teams/:id/members
func (h *TeamHandler) AddMember(c *gin.Context) {
	teamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid team ID"})
		return
	}

	var req struct {
		UserID    string          `json:"user_id" binding:"required"`
		UserEmail string          `json:"user_email"`
		Role      models.TeamRole `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleDeveloper
	}

	var team models.Team
	if err := h.db.First(&team, "id = ?", teamID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Team not found"})
			return
		}
		h.logger.Error("Failed to fetch team", "team_id", teamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
		return
	}

	// Only the team owner can add members
	if team.OwnerID != c.GetString("userID") {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the team owner can add members"})
		return
	}

	var existing int64
	h.db.Model(&models.TeamMember{}).
		Where("team_id = ? AND user_id = ?", teamID, req.UserID).
		Count(&existing)
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "User is already a member"})
		return
	}

	member := models.TeamMember{
		TeamID:    teamID,
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
		Role:      req.Role,
	}
	if err := h.db.Create(&member).Error; err != nil {
		h.logger.Error("Failed to add member", "team_id", teamID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
		return
	}

	c.JSON(http.StatusCreated, member)
}
