package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"standhub/models"
)

// TeamGuard verifies that a user may subscribe to a team's room.
type TeamGuard struct {
	db *gorm.DB
}

func NewTeamGuard(db *gorm.DB) *TeamGuard {
	return &TeamGuard{db: db}
}

// CanAccess reports whether the user is a member of the team and the team
// belongs to the company.
func (g *TeamGuard) CanAccess(ctx context.Context, userID, companyID, teamID string) (bool, error) {
	teamUUID, err := uuid.Parse(teamID)
	if err != nil {
		return false, nil
	}
	companyUUID, err := uuid.Parse(companyID)
	if err != nil {
		return false, nil
	}

	var team models.Team
	if err := g.db.WithContext(ctx).Select("id", "company_id").First(&team, "id = ?", teamUUID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to load team: %w", err)
	}

	if team.CompanyID != companyUUID {
		return false, nil
	}

	var count int64
	if err := g.db.WithContext(ctx).Model(&models.TeamMember{}).
		Where("team_id = ? AND user_id = ?", teamUUID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}

	return count > 0, nil
}
