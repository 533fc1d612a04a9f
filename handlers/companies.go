package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"standhub/models"
	"standhub/utils"
)

type CompanyHandler struct {
	db     *gorm.DB
	logger *utils.Logger
}

func NewCompanyHandler(db *gorm.DB, logger *utils.Logger) *CompanyHandler {
	return &CompanyHandler{
		db:     db,
		logger: logger,
	}
}

// ListCompanies handles GET /api/v1/companies
func (h *CompanyHandler) ListCompanies(c *gin.Context) {
	userID := c.GetString("userID")

	// A user sees the companies they own plus those where they are a
	// member of at least one team
	var companies []models.Company
	err := h.db.
		Where("owner_id = ?", userID).
		Or("id IN (?)", h.db.Model(&models.Team{}).
			Select("teams.company_id").
			Joins("JOIN team_members ON team_members.team_id = teams.id").
			Where("team_members.user_id = ?", userID)).
		Order("created_at ASC").
		Find(&companies).Error
	if err != nil {
		h.logger.Error("Failed to fetch companies", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch companies",
		})
		return
	}

	c.JSON(http.StatusOK, models.ListResponse[models.Company]{
		Data:  companies,
		Total: int64(len(companies)),
	})
}

// CreateCompany handles POST /api/v1/companies
func (h *CompanyHandler) CreateCompany(c *gin.Context) {
	var req models.CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	userID := c.GetString("userID")

	company := models.Company{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     userID,
	}

	if err := h.db.Create(&company).Error; err != nil {
		h.logger.Error("Failed to create company", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create company",
		})
		return
	}

	h.logger.Info("Company created", "company_id", company.ID, "owner_id", userID)
	c.JSON(http.StatusCreated, company)
}

// GetCompany handles GET /api/v1/companies/:id
func (h *CompanyHandler) GetCompany(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid company ID"})
		return
	}

	var company models.Company
	if err := h.db.First(&company, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Company not found"})
			return
		}
		h.logger.Error("Failed to fetch company", "company_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch company"})
		return
	}

	c.JSON(http.StatusOK, company)
}
