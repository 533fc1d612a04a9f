package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB type for PostgreSQL JSONB fields
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONB)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Company represents a workspace that owns teams
type Company struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	Name        string    `json:"name" gorm:"not null" binding:"required"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Company) TableName() string {
	return "companies"
}

// Team represents a team within a company
type Team struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	CompanyID   uuid.UUID `json:"company_id" gorm:"type:uuid;not null;index"`
	Name        string    `json:"name" gorm:"not null" binding:"required"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Relations
	Company Company      `json:"company,omitempty" gorm:"foreignKey:CompanyID"`
	Members []TeamMember `json:"members,omitempty" gorm:"foreignKey:TeamID"`
}

func (Team) TableName() string {
	return "teams"
}

// TeamMember links a user to a team with a role
type TeamMember struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	TeamID    uuid.UUID `json:"team_id" gorm:"type:uuid;not null;index"`
	UserID    string    `json:"user_id" gorm:"not null;index"`
	UserEmail string    `json:"user_email"`
	Role      TeamRole  `json:"role" gorm:"default:DEVELOPER"`
	CreatedAt time.Time `json:"created_at"`
}

func (TeamMember) TableName() string {
	return "team_members"
}

// Standup represents a persisted daily standup entry
type Standup struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	TeamID          uuid.UUID `json:"team_id" gorm:"type:uuid;not null;index"`
	CompanyID       uuid.UUID `json:"company_id" gorm:"type:uuid;not null;index"`
	UserID          string    `json:"user_id" gorm:"not null"`
	UserEmail       string    `json:"user_email"`
	Yesterday       string    `json:"yesterday"`
	Today           string    `json:"today"`
	Blockers        string    `json:"blockers"`
	BlockerAnalysis JSONB     `json:"blocker_analysis" gorm:"type:jsonb;default:'{}'"`
	Sentiment       JSONB     `json:"sentiment" gorm:"type:jsonb;default:'{}'"`
	Date            string    `json:"date" gorm:"not null;index"` // YYYY-MM-DD
	CreatedAt       time.Time `json:"created_at"`
}

func (Standup) TableName() string {
	return "standups"
}

// Enums
type TeamRole string

const (
	RoleOwner     TeamRole = "OWNER"
	RoleDeveloper TeamRole = "DEVELOPER"
)

// Request/Response DTOs
type CreateCompanyRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type CreateTeamRequest struct {
	CompanyID   uuid.UUID `json:"company_id" binding:"required"`
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
}

type SubmitStandupRequest struct {
	TeamID          uuid.UUID `json:"team_id" binding:"required"`
	Yesterday       string    `json:"yesterday"`
	Today           string    `json:"today"`
	Blockers        string    `json:"blockers"`
	BlockerAnalysis JSONB     `json:"blocker_analysis"`
	Sentiment       JSONB     `json:"sentiment"`
}

type TeamResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Role        TeamRole  `json:"role"`
	MemberCount int       `json:"member_count"`
	OwnerID     string    `json:"owner_id"`
	CompanyID   uuid.UUID `json:"company_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type ListResponse[T any] struct {
	Data  []T   `json:"data"`
	Total int64 `json:"total"`
}
