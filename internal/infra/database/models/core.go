package models

import (
	"time"

	"gorm.io/datatypes"
)

type Application struct {
	ID                  string         `json:"id" gorm:"primaryKey;type:text"`
	OrganizationID      string         `json:"orgId" gorm:"type:text;index;not null"`
	Name                string         `json:"name" gorm:"type:text;not null"`
	ApplicationType     *int           `json:"applicationType" gorm:"type:integer"`
	ApplicationStatus   string         `json:"applicationStatus" gorm:"type:text;index;not null"`
	EditingDSL          datatypes.JSON `json:"editingApplicationDSL" gorm:"type:jsonb"`
	PublishedDSL        datatypes.JSON `json:"publishedApplicationDSL" gorm:"type:jsonb"`
	PublicToAll         *bool          `json:"publicToAll" gorm:"type:boolean"`
	PublicToMarketplace *bool          `json:"publicToMarketplace" gorm:"type:boolean"`
	AgencyProfile       *bool          `json:"agencyProfile" gorm:"type:boolean"`
	CreatedAt           time.Time      `json:"createdAt" gorm:"type:timestamp with time zone;autoCreateTime:false"`
	UpdatedAt           time.Time      `json:"updatedAt" gorm:"type:timestamp with time zone;autoUpdateTime:false"`
}

// ApplicationSnapshot keeps every published document of an application.
type ApplicationSnapshot struct {
	ID            int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	ApplicationID string         `json:"applicationId" gorm:"type:text;index;not null"`
	Application   Application    `json:"-" gorm:"foreignKey:ApplicationID;references:ID;constraint:OnDelete:CASCADE;"`
	DSL           datatypes.JSON `json:"dsl" gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `json:"createdAt" gorm:"type:timestamp with time zone;autoCreateTime:false"`
}
